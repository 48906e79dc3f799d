package engine

import "fmt"

// Descriptor is the static metadata describing a runner, extracted at
// discovery time. Descriptors have value semantics: the registry hands out
// copies, and holding one never pins the instance it describes.
type Descriptor struct {
	// Name uniquely identifies the runner across the registered set and is
	// stable across runs.
	Name string `json:"name"`
	// Vendor is the backend family of the runner.
	Vendor Vendor `json:"vendor"`
	// Priority orders runners within a vendor, lower first.
	Priority Priority `json:"priority"`
	// Capabilities is the non-empty set of capabilities the runner
	// advertises. The live instance must support at least these.
	Capabilities []Capability `json:"capabilities"`
	// Hardware lists host requirements checked at discovery time.
	Hardware []HardwareRequirement `json:"hardware_requirements,omitempty"`
	// Enabled statically gates the runner; disabled runners are never
	// instantiated.
	Enabled bool `json:"enabled"`
	// DefaultModelID is the model loaded when neither settings nor the
	// request name one.
	DefaultModelID string `json:"default_model_id,omitempty"`
	// APILevel is reserved for forward compatibility with clients that
	// negotiate runner features.
	APILevel int `json:"api_level,omitempty"`
}

// Validate checks the descriptor invariants that registration relies on.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("descriptor has no name")
	}
	if len(d.Capabilities) == 0 {
		return fmt.Errorf("descriptor %q advertises no capabilities", d.Name)
	}
	seen := make(map[Capability]bool, len(d.Capabilities))
	for _, c := range d.Capabilities {
		if seen[c] {
			return fmt.Errorf("descriptor %q lists capability %s twice", d.Name, c)
		}
		seen[c] = true
	}
	return nil
}

// HasCapability returns whether the descriptor advertises c.
func (d Descriptor) HasCapability(c Capability) bool {
	return HasCapability(d.Capabilities, c)
}

// Score is the selection score used by the priority resolver: vendors are
// ranked first, then priority within a vendor. Lower is better.
func (d Descriptor) Score() int {
	return d.Vendor.Index()*10 + int(d.Priority)
}
