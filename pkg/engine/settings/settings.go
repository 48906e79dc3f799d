// Package settings persists the user's runner selection and per-runner
// parameter maps. The on-disk form is a single JSON document with exactly
// two keys, selected_runners and runner_parameters.
package settings

import (
	"github.com/edgehive/engine-runner/pkg/engine"
)

// Settings is the persisted engine configuration. Missing entries fall
// back to built-in defaults, so the zero value is a valid document.
type Settings struct {
	// SelectedRunners maps a capability to the runner name the user picked
	// for it.
	SelectedRunners map[engine.Capability]string `json:"selected_runners"`

	// RunnerParameters maps a runner name to the parameter overrides
	// passed to its Load.
	RunnerParameters map[string]map[string]interface{} `json:"runner_parameters"`
}

// Empty returns a settings document with initialized maps.
func Empty() Settings {
	return Settings{
		SelectedRunners:  make(map[engine.Capability]string),
		RunnerParameters: make(map[string]map[string]interface{}),
	}
}

// Clone returns a deep copy. Parameter values are JSON scalars and are
// shared.
func (s Settings) Clone() Settings {
	out := Empty()
	for c, name := range s.SelectedRunners {
		out.SelectedRunners[c] = name
	}
	for name, params := range s.RunnerParameters {
		copied := make(map[string]interface{}, len(params))
		for k, v := range params {
			copied[k] = v
		}
		out.RunnerParameters[name] = copied
	}
	return out
}

// SelectedFor returns the user-selected runner name for c.
func (s Settings) SelectedFor(c engine.Capability) (string, bool) {
	name, ok := s.SelectedRunners[c]
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// ParametersFor returns a copy of the parameter overrides for the named
// runner, or nil when none are stored.
func (s Settings) ParametersFor(name string) map[string]interface{} {
	params, ok := s.RunnerParameters[name]
	if !ok {
		return nil
	}
	copied := make(map[string]interface{}, len(params))
	for k, v := range params {
		copied[k] = v
	}
	return copied
}

// Selects reports whether name is the selected runner for any capability.
func (s Settings) Selects(name string) bool {
	for _, selected := range s.SelectedRunners {
		if selected == name {
			return true
		}
	}
	return false
}
