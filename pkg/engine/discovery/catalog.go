package discovery

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/edgehive/engine-runner/pkg/engine"
)

// CatalogEntry overrides parts of a built-in runner descriptor per
// deployment. Only the fields present in the file are applied; vendor and
// capabilities are intrinsic to the implementation and cannot be changed
// here.
type CatalogEntry struct {
	Name           string                 `yaml:"name"`
	Enabled        *bool                  `yaml:"enabled,omitempty"`
	Priority       string                 `yaml:"priority,omitempty"`
	DefaultModelID string                 `yaml:"default_model_id,omitempty"`
	Hardware       []string               `yaml:"hardware_requirements,omitempty"`
	Parameters     map[string]interface{} `yaml:"parameters,omitempty"`
}

// ModelSource declares a model the store may download on demand.
type ModelSource struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// Catalog is the parsed runner catalog file.
type Catalog struct {
	Runners []CatalogEntry `yaml:"runners"`
	Models  []ModelSource  `yaml:"models,omitempty"`
}

// override is a validated CatalogEntry with enum fields parsed.
type override struct {
	enabled        *bool
	priority       *engine.Priority
	defaultModelID string
	hardware       []engine.HardwareRequirement
	hasHardware    bool
	parameters     map[string]interface{}
}

// LoadCatalog reads the YAML runner catalog at path.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %q: %w", path, err)
	}
	defer f.Close()

	c, err := LoadCatalogFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse %q: %w", path, err)
	}
	return c, nil
}

// LoadCatalogFromReader decodes and validates a YAML catalog from r.
// Unknown keys are rejected to catch typos.
func LoadCatalogFromReader(r io.Reader) (*Catalog, error) {
	c := &Catalog{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks every entry, returning a joined error listing all
// problems found.
func (c *Catalog) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Runners))
	for i, entry := range c.Runners {
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("runners[%d]: name is required", i))
			continue
		}
		if seen[entry.Name] {
			errs = append(errs, fmt.Errorf("runners[%d]: duplicate entry for %q", i, entry.Name))
		}
		seen[entry.Name] = true
		if entry.Priority != "" {
			if _, err := engine.ParsePriority(entry.Priority); err != nil {
				errs = append(errs, fmt.Errorf("runners[%d] (%s): %w", i, entry.Name, err))
			}
		}
		for _, h := range entry.Hardware {
			if _, err := engine.ParseHardwareRequirement(h); err != nil {
				errs = append(errs, fmt.Errorf("runners[%d] (%s): %w", i, entry.Name, err))
			}
		}
	}
	for i, src := range c.Models {
		if src.ID == "" || src.URL == "" {
			errs = append(errs, fmt.Errorf("models[%d]: id and url are required", i))
		}
	}
	return errors.Join(errs...)
}

// overrides converts validated entries into their parsed form, keyed by
// runner name.
func (c *Catalog) overrides() map[string]override {
	out := make(map[string]override, len(c.Runners))
	for _, entry := range c.Runners {
		o := override{
			enabled:        entry.Enabled,
			defaultModelID: entry.DefaultModelID,
			parameters:     entry.Parameters,
		}
		if entry.Priority != "" {
			p, err := engine.ParsePriority(entry.Priority)
			if err == nil {
				o.priority = &p
			}
		}
		if len(entry.Hardware) > 0 {
			o.hasHardware = true
			for _, h := range entry.Hardware {
				req, err := engine.ParseHardwareRequirement(h)
				if err == nil {
					o.hardware = append(o.hardware, req)
				}
			}
		}
		out[entry.Name] = o
	}
	return out
}

// apply overlays o onto desc.
func (o override) apply(desc engine.Descriptor) engine.Descriptor {
	if o.enabled != nil {
		desc.Enabled = *o.enabled
	}
	if o.priority != nil {
		desc.Priority = *o.priority
	}
	if o.defaultModelID != "" {
		desc.DefaultModelID = o.defaultModelID
	}
	if o.hasHardware {
		desc.Hardware = append([]engine.HardwareRequirement(nil), o.hardware...)
	}
	return desc
}
