// Package reload applies saved settings to already-running runners. Only
// runners whose configuration actually changed are touched: they drain,
// unload, and either reload eagerly (when they are the active default for
// a capability) or lazily on next use. In-flight work is never cancelled.
package reload

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"github.com/edgehive/engine-runner/pkg/engine"
	"github.com/edgehive/engine-runner/pkg/engine/manager"
	"github.com/edgehive/engine-runner/pkg/engine/settings"
	"github.com/edgehive/engine-runner/pkg/logging"
)

// Result summarizes one settings application.
type Result struct {
	// Reloaded lists runners that were unloaded because their
	// configuration changed. Eagerly-reloaded defaults are loaded again by
	// the time the result is produced; the rest reload on next use.
	Reloaded []string `json:"reloaded"`

	// Failed maps runners whose eager reload failed to the load error.
	// They retry lazily on the next request.
	Failed map[string]*engine.Error `json:"failed,omitempty"`

	// Unaffected lists registered runners the save did not touch.
	Unaffected []string `json:"unaffected"`
}

// Manager observes settings saves and reloads affected runners.
type Manager struct {
	log    logging.Logger
	engine *manager.Manager
	store  *settings.Store

	mu        sync.Mutex
	subs      map[int]chan Result
	nextSubID int
}

// New creates a reload manager driving eng from store.
func New(log logging.Logger, eng *manager.Manager, store *settings.Store) *Manager {
	return &Manager{
		log:    log,
		engine: eng,
		store:  store,
		subs:   make(map[int]chan Result),
	}
}

// Save persists snapshot and reloads the runners it affects. The settings
// write happens first; when it fails nothing is reloaded and the error is
// returned (recoverable, the caller may retry). The produced Result is
// also pushed to subscribers.
func (m *Manager) Save(ctx context.Context, snapshot settings.Settings) (Result, error) {
	old := m.store.Current()
	if err := m.store.Save(snapshot); err != nil {
		return Result{}, err
	}
	m.engine.ApplySettings(snapshot)

	res := m.apply(ctx, old, snapshot)
	m.publish(res)
	return res, nil
}

// Subscribe registers an observer for reload results. The cancel function
// releases the subscription and closes the channel.
func (m *Manager) Subscribe() (<-chan Result, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	ch := make(chan Result, 4)
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if ch, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (m *Manager) publish(res Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- res:
		default:
			// Slow subscriber, drop the result rather than block a save.
		}
	}
}

// apply computes the changed runner set and reloads its loaded members.
func (m *Manager) apply(ctx context.Context, old, updated settings.Settings) Result {
	changed := ChangedRunners(old, updated)

	res := Result{Failed: make(map[string]*engine.Error)}
	for _, st := range m.engine.Statuses() {
		name := st.Descriptor.Name
		if !changed[name] {
			res.Unaffected = append(res.Unaffected, name)
			continue
		}
		if !st.Loaded {
			// Not loaded: the new configuration simply applies on the next
			// lazy load, nothing to do now.
			res.Unaffected = append(res.Unaffected, name)
			continue
		}

		if err := m.engine.UnloadRunner(name); err != nil {
			m.log.WithError(err).Warnf("Unloading %q for reload failed", name)
			res.Failed[name] = engine.AsEngineError(err)
			continue
		}
		res.Reloaded = append(res.Reloaded, name)

		if updated.Selects(name) {
			// The runner is an active default, restore it eagerly so the
			// next request does not pay the load.
			if err := m.engine.EnsureLoaded(ctx, name); err != nil {
				m.log.WithError(err).Warnf("Eager reload of %q failed, retrying on next use", name)
				res.Failed[name] = engine.AsEngineError(err)
			}
		}
	}

	sort.Strings(res.Reloaded)
	sort.Strings(res.Unaffected)
	if len(res.Failed) == 0 {
		res.Failed = nil
	}
	m.log.Infof("Settings applied: %d reloaded, %d failed, %d unaffected",
		len(res.Reloaded), len(res.Failed), len(res.Unaffected))
	return res
}

// ChangedRunners computes which runners a settings change affects: those
// whose parameter maps differ, plus the previous and new selection for
// every capability whose selected runner changed.
func ChangedRunners(old, updated settings.Settings) map[string]bool {
	changed := make(map[string]bool)

	names := make(map[string]bool, len(old.RunnerParameters)+len(updated.RunnerParameters))
	for name := range old.RunnerParameters {
		names[name] = true
	}
	for name := range updated.RunnerParameters {
		names[name] = true
	}
	for name := range names {
		if !reflect.DeepEqual(old.RunnerParameters[name], updated.RunnerParameters[name]) {
			changed[name] = true
		}
	}

	for _, c := range engine.Capabilities() {
		before, after := old.SelectedRunners[c], updated.SelectedRunners[c]
		if before == after {
			continue
		}
		if before != "" {
			changed[before] = true
		}
		if after != "" {
			changed[after] = true
		}
	}
	return changed
}
