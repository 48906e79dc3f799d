// Package manager owns the live runner instances. It maps (capability,
// optional preferred runner) to an instance, loads models lazily just
// before first use, runs one-shot and streaming requests with crash
// isolation, and unloads instances when idle or on shutdown.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/edgehive/engine-runner/pkg/engine"
	"github.com/edgehive/engine-runner/pkg/engine/discovery"
	"github.com/edgehive/engine-runner/pkg/engine/registry"
	"github.com/edgehive/engine-runner/pkg/engine/settings"
	"github.com/edgehive/engine-runner/pkg/logging"
	"github.com/edgehive/engine-runner/pkg/metrics"
)

// Manager is the thread-safe facade over the registry: selection, lazy
// loading, processing, and cleanup.
type Manager struct {
	log         logging.Logger
	reg         *registry.Registry
	disc        *discovery.Discovery
	store       *settings.Store
	idleTimeout time.Duration
	met         *metrics.Metrics

	mu       sync.RWMutex
	active   map[string]*instance
	defaults map[engine.Capability]string

	// idleCheck wakes the run loop when an instance becomes idle.
	idleCheck chan struct{}
}

// New creates a manager. disc may be nil when discovery re-runs and
// catalog parameter defaults are not needed; an idleTimeout of zero
// disables idle unloading.
func New(log logging.Logger, reg *registry.Registry, disc *discovery.Discovery, store *settings.Store, idleTimeout time.Duration) *Manager {
	return &Manager{
		log:         log,
		reg:         reg,
		disc:        disc,
		store:       store,
		idleTimeout: idleTimeout,
		active:      make(map[string]*instance),
		defaults:    make(map[engine.Capability]string),
		idleCheck:   make(chan struct{}, 1),
	}
}

// SetMetrics attaches metric instruments. A nil met records nothing.
func (m *Manager) SetMetrics(met *metrics.Metrics) {
	m.met = met
}

// SetDefaults replaces the per-capability default runner map.
func (m *Manager) SetDefaults(defaults map[engine.Capability]string) {
	copied := make(map[engine.Capability]string, len(defaults))
	for c, name := range defaults {
		if name != "" {
			copied[c] = name
		}
	}
	m.mu.Lock()
	m.defaults = copied
	m.mu.Unlock()
}

// ApplySettings derives the default runner map from the user's selection.
func (m *Manager) ApplySettings(s settings.Settings) {
	m.SetDefaults(s.SelectedRunners)
}

// Defaults returns a copy of the per-capability default runner map.
func (m *Manager) Defaults() map[engine.Capability]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	copied := make(map[engine.Capability]string, len(m.defaults))
	for c, name := range m.defaults {
		copied[c] = name
	}
	return copied
}

// Process runs one request to completion and returns its single result.
// Selection and load failures come back as the result's error; a panicking
// runner is converted to an E101 result.
func (m *Manager) Process(ctx context.Context, req *engine.Request, capability engine.Capability, preferred string) engine.Result {
	inst, eerr := m.acquireFor(ctx, capability, preferred)
	if eerr != nil {
		return engine.ErrorResult(eerr)
	}
	defer m.release(inst)
	return m.invoke(ctx, inst, req)
}

// ProcessStream runs one request in streaming mode. Selection and load
// failures, and runners that only implement one-shot processing (E406),
// yield a single-result stream carrying the error. Cancellation of ctx
// stops delivery; the runner observes it at its next emission boundary.
func (m *Manager) ProcessStream(ctx context.Context, req *engine.Request, capability engine.Capability, preferred string) *engine.Stream {
	inst, eerr := m.acquireFor(ctx, capability, preferred)
	if eerr != nil {
		return engine.SingleResultStream(engine.ErrorResult(eerr))
	}

	raw, err := inst.runner.RunStream(ctx, req)
	if err != nil {
		m.release(inst)
		return engine.SingleResultStream(engine.ErrorResult(engine.AsEngineError(err)))
	}

	out := engine.NewStream()
	go func() {
		defer out.Close()
		defer m.release(inst)
		delivering := true
		for r := range raw.Results() {
			if !delivering {
				// Keep draining so the reference is held until the
				// producer has actually stopped.
				continue
			}
			if !out.Send(ctx, r) {
				delivering = false
			}
		}
	}()
	return out
}

// invoke calls the runner's one-shot path with crash isolation.
func (m *Manager) invoke(ctx context.Context, inst *instance, req *engine.Request) (result engine.Result) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorf("Runner %q panicked: %v", inst.descriptor.Name, r)
			result = engine.ErrorResultFor(engine.CodeRuntime, fmt.Sprintf("runner fault: %v", r))
		}
	}()
	return inst.runner.Run(ctx, req)
}

// acquireFor selects an instance for (capability, preferred), takes a
// reference on it, and makes sure its model is loaded.
func (m *Manager) acquireFor(ctx context.Context, capability engine.Capability, preferred string) (*instance, *engine.Error) {
	name, eerr := m.selectName(capability, preferred)
	if eerr != nil {
		return nil, eerr
	}
	inst, eerr := m.getOrCreate(name)
	if eerr != nil {
		return nil, eerr
	}
	if !inst.descriptor.HasCapability(capability) {
		return nil, engine.NewError(engine.CodeCapabilityUnsupported,
			fmt.Sprintf("runner %q does not support capability %s", name, capability))
	}

	inst.acquire()
	if eerr := m.ensureLoaded(ctx, inst); eerr != nil {
		m.release(inst)
		return nil, eerr
	}
	return inst, nil
}

// selectName resolves (capability, preferred) to a runner name: an
// explicitly preferred runner must exist (E404, no fallback), then the
// configured default, then the best-priority registered candidate.
func (m *Manager) selectName(capability engine.Capability, preferred string) (string, *engine.Error) {
	if preferred != "" {
		if _, _, err := m.reg.GetByName(preferred); err != nil {
			return "", engine.NewError(engine.CodeRunnerNotFound,
				fmt.Sprintf("runner %q is not registered", preferred))
		}
		return preferred, nil
	}

	m.mu.RLock()
	def := m.defaults[capability]
	m.mu.RUnlock()
	if def != "" {
		if _, _, err := m.reg.GetByName(def); err == nil {
			return def, nil
		}
		m.log.Warnf("Default runner %q for %s is not registered, using priority selection", def, capability)
	}

	best, ok := registry.SelectBest(m.reg.ForCapability(capability))
	if !ok {
		return "", engine.NewError(engine.CodeRunnerNotFound,
			fmt.Sprintf("no runner registered for capability %s", capability))
	}
	return best.Name, nil
}

// getOrCreate returns the managed instance for name, wrapping the
// registered runner on first use. The lookup is double-checked: a shared
// read first, then create under the write lock only if still absent.
func (m *Manager) getOrCreate(name string) (*instance, *engine.Error) {
	m.mu.RLock()
	inst, ok := m.active[name]
	m.mu.RUnlock()
	if ok {
		return inst, nil
	}

	runner, desc, err := m.reg.GetByName(name)
	if err != nil {
		return nil, engine.NewError(engine.CodeRunnerNotFound,
			fmt.Sprintf("runner %q is not registered", name))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.active[name]; ok {
		return inst, nil
	}
	inst = newInstance(runner, desc)
	m.active[name] = inst
	return inst, nil
}

// ensureLoaded loads the instance's effective model if it is not already
// serving it. Load and Unload on one instance are serialized by its op
// lock; the check is repeated under that lock.
func (m *Manager) ensureLoaded(ctx context.Context, inst *instance) *engine.Error {
	modelID, params := m.effectiveLoadConfig(inst)
	if inst.runner.IsLoaded() && inst.runner.LoadedModelID() == modelID {
		return nil
	}

	inst.opMu.Lock()
	defer inst.opMu.Unlock()
	if inst.runner.IsLoaded() && inst.runner.LoadedModelID() == modelID {
		return nil
	}

	started := time.Now()
	if err := inst.runner.Load(ctx, modelID, params); err != nil {
		m.log.WithError(err).Errorf("Loading model %q on runner %q failed", modelID, inst.descriptor.Name)
		return engine.WrapError(engine.CodeLoadFailed,
			fmt.Sprintf("loading model %q on runner %q failed", modelID, inst.descriptor.Name), err)
	}
	m.log.Infof("Loaded model %q on runner %q in %s",
		modelID, inst.descriptor.Name, time.Since(started).Round(time.Millisecond))
	m.met.RecordLoad(ctx, inst.descriptor.Name)
	return nil
}

// effectiveLoadConfig merges catalog parameter defaults with the user's
// stored parameters and resolves the model id: an explicit model_id
// parameter wins over the descriptor's default.
func (m *Manager) effectiveLoadConfig(inst *instance) (string, map[string]interface{}) {
	name := inst.descriptor.Name
	params := make(map[string]interface{})
	if m.disc != nil {
		for k, v := range m.disc.ParameterDefaults(name) {
			params[k] = v
		}
	}
	if m.store != nil {
		for k, v := range m.store.Current().ParametersFor(name) {
			params[k] = v
		}
	}
	modelID := inst.descriptor.DefaultModelID
	if v, ok := params[engine.ParamModelID].(string); ok && v != "" {
		modelID = v
	}
	return modelID, params
}

func (m *Manager) release(inst *instance) {
	if inst.release() {
		select {
		case m.idleCheck <- struct{}{}:
		default:
		}
	}
}

func (m *Manager) snapshot() []*instance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*instance, 0, len(m.active))
	for _, inst := range m.active {
		out = append(out, inst)
	}
	return out
}

// EnsureLoaded loads the named runner with its current effective
// configuration, creating the managed instance if needed. The reload
// manager uses it to eagerly restore active defaults.
func (m *Manager) EnsureLoaded(ctx context.Context, name string) error {
	inst, eerr := m.getOrCreate(name)
	if eerr != nil {
		return eerr
	}
	if eerr := m.ensureLoaded(ctx, inst); eerr != nil {
		return eerr
	}
	return nil
}

// UnloadRunner drains the named runner and unloads its model. The runner
// stays registered; the next request reloads it lazily.
func (m *Manager) UnloadRunner(name string) error {
	m.mu.RLock()
	inst, ok := m.active[name]
	m.mu.RUnlock()
	if !ok {
		// Never used through the manager; nothing to unload.
		if _, _, err := m.reg.GetByName(name); err != nil {
			return err
		}
		return nil
	}

	inst.drain()
	inst.opMu.Lock()
	defer inst.opMu.Unlock()
	if !inst.runner.IsLoaded() {
		return nil
	}
	if err := inst.runner.Unload(); err != nil {
		m.log.WithError(err).Warnf("Unloading runner %q failed", name)
		return err
	}
	m.log.Infof("Unloaded runner %q", name)
	m.met.RecordUnload(context.Background(), name)
	return nil
}

// IsLoaded reports whether the named runner currently has a model loaded.
func (m *Manager) IsLoaded(name string) bool {
	runner, _, err := m.reg.GetByName(name)
	return err == nil && runner.IsLoaded()
}

// UnloadAllModels drains every managed instance and unloads its model,
// best effort. Instances stay registered and managed; subsequent requests
// reload lazily. It returns the number of models unloaded.
func (m *Manager) UnloadAllModels() int {
	unloaded := 0
	for _, inst := range m.snapshot() {
		inst.drain()
		inst.opMu.Lock()
		if inst.runner.IsLoaded() {
			if err := inst.runner.Unload(); err != nil {
				m.log.WithError(err).Warnf("Unloading runner %q failed", inst.descriptor.Name)
			} else {
				m.met.RecordUnload(context.Background(), inst.descriptor.Name)
				unloaded++
			}
		}
		inst.opMu.Unlock()
	}
	return unloaded
}

// ForceCleanupAll unloads everything without draining and clears the
// active map. Used on abnormal shutdown, after in-flight requests have
// been cancelled. Failures are logged and swallowed.
func (m *Manager) ForceCleanupAll() {
	m.mu.Lock()
	instances := m.active
	m.active = make(map[string]*instance)
	m.mu.Unlock()

	for name, inst := range instances {
		if !inst.runner.IsLoaded() {
			continue
		}
		if err := inst.runner.Unload(); err != nil {
			m.log.WithError(err).Warnf("Force unloading runner %q failed", name)
		}
	}
}

// Reinitialize unloads everything and runs discovery again, replacing all
// registered instances. It returns how many runners registered.
func (m *Manager) Reinitialize() (int, error) {
	if m.disc == nil {
		return 0, errors.New("discovery not configured")
	}
	m.UnloadAllModels()
	m.mu.Lock()
	m.active = make(map[string]*instance)
	m.mu.Unlock()
	return m.disc.Reinitialize(), nil
}

// RunnerStatus is the externally visible condition of one registered
// runner.
type RunnerStatus struct {
	Descriptor engine.Descriptor   `json:"descriptor"`
	Loaded     bool                `json:"loaded"`
	ModelID    string              `json:"model_id,omitempty"`
	InFlight   int                 `json:"in_flight"`
	DefaultFor []engine.Capability `json:"default_for,omitempty"`
}

// Status reports the named runner's condition.
func (m *Manager) Status(name string) (RunnerStatus, error) {
	runner, desc, err := m.reg.GetByName(name)
	if err != nil {
		return RunnerStatus{}, err
	}
	st := RunnerStatus{
		Descriptor: desc,
		Loaded:     runner.IsLoaded(),
		ModelID:    runner.LoadedModelID(),
	}
	m.mu.RLock()
	if inst, ok := m.active[name]; ok {
		st.InFlight = inst.inFlight()
	}
	for _, c := range desc.Capabilities {
		if m.defaults[c] == name {
			st.DefaultFor = append(st.DefaultFor, c)
		}
	}
	m.mu.RUnlock()
	return st, nil
}

// Statuses reports every registered runner, sorted by name.
func (m *Manager) Statuses() []RunnerStatus {
	descriptors := m.reg.All()
	out := make([]RunnerStatus, 0, len(descriptors))
	for _, d := range descriptors {
		st, err := m.Status(d.Name)
		if err != nil {
			continue
		}
		out = append(out, st)
	}
	return out
}

// Run drives idle unloading until ctx is cancelled. With a non-positive
// idle timeout it only waits for cancellation.
func (m *Manager) Run(ctx context.Context) error {
	if m.idleTimeout <= 0 {
		<-ctx.Done()
		return nil
	}

	idleTimer := time.NewTimer(m.idleTimeout)
	defer idleTimer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-idleTimer.C:
			m.evictIdle()
			idleTimer.Reset(m.nextIdleCheck())
		case <-m.idleCheck:
			stopAndDrainTimer(idleTimer)
			idleTimer.Reset(m.nextIdleCheck())
		}
	}
}

// nextIdleCheck computes how long until the oldest idle instance expires.
// A small margin avoids waking right on the boundary.
func (m *Manager) nextIdleCheck() time.Duration {
	var oldest time.Time
	for _, inst := range m.snapshot() {
		if since, ok := inst.idleSince(); ok {
			if oldest.IsZero() || since.Before(oldest) {
				oldest = since
			}
		}
	}
	if oldest.IsZero() {
		return m.idleTimeout
	}
	if remaining := m.idleTimeout - time.Since(oldest); remaining > 0 {
		return remaining + 100*time.Millisecond
	}
	return 0
}

func (m *Manager) evictIdle() {
	for _, inst := range m.snapshot() {
		since, ok := inst.idleSince()
		if !ok || time.Since(since) < m.idleTimeout {
			continue
		}
		m.unloadIfIdle(inst)
	}
}

// unloadIfIdle unloads inst if it is still idle once the op lock is held.
// A request arriving after the recheck blocks on the op lock and reloads
// lazily afterwards.
func (m *Manager) unloadIfIdle(inst *instance) {
	inst.opMu.Lock()
	defer inst.opMu.Unlock()
	if _, ok := inst.idleSince(); !ok {
		return
	}
	if !inst.runner.IsLoaded() {
		return
	}
	if err := inst.runner.Unload(); err != nil {
		m.log.WithError(err).Warnf("Idle unload of runner %q failed", inst.descriptor.Name)
		return
	}
	m.log.Infof("Unloaded runner %q after %s idle", inst.descriptor.Name, m.idleTimeout)
	m.met.RecordUnload(context.Background(), inst.descriptor.Name)
}

// stopAndDrainTimer stops and drains a timer without knowing whether it
// was running.
func stopAndDrainTimer(timer *time.Timer) {
	timer.Stop()
	select {
	case <-timer.C:
	default:
	}
}
