// Package registry indexes live runner instances by name and by
// capability. The per-capability lists are kept in selection order so the
// engine manager can pick the best candidate without re-sorting.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/edgehive/engine-runner/pkg/engine"
	"github.com/edgehive/engine-runner/pkg/logging"
)

// ErrNotFound is returned when a runner name is not registered.
var ErrNotFound = errors.New("runner not registered")

type entry struct {
	runner     engine.Runner
	descriptor engine.Descriptor
}

// Registry is the authoritative index of registered runners. All methods
// are safe for concurrent use.
type Registry struct {
	log logging.Logger

	mu           sync.RWMutex
	byName       map[string]*entry
	byCapability map[engine.Capability][]string
}

// New creates an empty registry.
func New(log logging.Logger) *Registry {
	return &Registry{
		log:          log,
		byName:       make(map[string]*entry),
		byCapability: make(map[engine.Capability][]string),
	}
}

// Register adds runner under desc.Name, replacing (with a logged warning)
// any previous registration of the same name. The instance must support at
// least the capabilities its descriptor advertises.
func (r *Registry) Register(runner engine.Runner, desc engine.Descriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	have := runner.Capabilities()
	for _, c := range desc.Capabilities {
		if !engine.HasCapability(have, c) {
			return fmt.Errorf("runner %q does not implement advertised capability %s", desc.Name, c)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, collision := r.byName[desc.Name]; collision {
		r.log.Warnf("runner %q registered twice, replacing previous registration", desc.Name)
	}
	r.byName[desc.Name] = &entry{runner: runner, descriptor: desc}
	r.rebuildCapabilityIndexLocked()
	return nil
}

// Unregister unloads (best effort) and evicts the named runner. It returns
// whether the name was registered.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	e, ok := r.byName[name]
	if ok {
		delete(r.byName, name)
		r.rebuildCapabilityIndexLocked()
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	if err := e.runner.Unload(); err != nil {
		r.log.WithError(err).Warnf("unloading %q during unregistration", name)
	}
	return true
}

// GetByName returns the named runner and its descriptor.
func (r *Registry) GetByName(name string) (engine.Runner, engine.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return nil, engine.Descriptor{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return e.runner, e.descriptor, nil
}

// ForCapability returns descriptor copies of every runner advertising c,
// in selection order (best first).
func (r *Registry) ForCapability(c engine.Capability) []engine.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.byCapability[c]
	descriptors := make([]engine.Descriptor, 0, len(names))
	for _, name := range names {
		descriptors = append(descriptors, r.byName[name].descriptor)
	}
	return descriptors
}

// All returns descriptor copies of every registered runner, sorted by name.
func (r *Registry) All() []engine.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	descriptors := make([]engine.Descriptor, 0, len(r.byName))
	for _, e := range r.byName {
		descriptors = append(descriptors, e.descriptor)
	}
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Name < descriptors[j].Name
	})
	return descriptors
}

// SupportedCapabilities returns the capabilities for which at least one
// runner is registered, in declaration order.
func (r *Registry) SupportedCapabilities() []engine.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var supported []engine.Capability
	for _, c := range engine.Capabilities() {
		if len(r.byCapability[c]) > 0 {
			supported = append(supported, c)
		}
	}
	return supported
}

// Clear evicts every registration without unloading. Callers that need
// orderly unloading go through the engine manager first.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName = make(map[string]*entry)
	r.byCapability = make(map[engine.Capability][]string)
}

// Len returns the number of registered runners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// rebuildCapabilityIndexLocked recomputes the per-capability name lists in
// selection order. Callers must hold the write lock.
func (r *Registry) rebuildCapabilityIndexLocked() {
	index := make(map[engine.Capability][]string, len(r.byCapability))
	for name, e := range r.byName {
		for _, c := range e.descriptor.Capabilities {
			index[c] = append(index[c], name)
		}
	}
	for c, names := range index {
		sort.Slice(names, func(i, j int) bool {
			return Less(r.byName[names[i]].descriptor, r.byName[names[j]].descriptor)
		})
		index[c] = names
	}
	r.byCapability = index
}
