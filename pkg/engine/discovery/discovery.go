// Package discovery instantiates and registers the runners a host can
// actually serve. Candidates come from a compile-time factory table,
// optionally adjusted by a YAML catalog file; each one is filtered by its
// static support check and by hardware probes before construction.
package discovery

import (
	"sync"

	"github.com/edgehive/engine-runner/pkg/engine"
	"github.com/edgehive/engine-runner/pkg/engine/registry"
	"github.com/edgehive/engine-runner/pkg/logging"
)

// Factory describes one runner implementation known at build time.
type Factory struct {
	// Descriptor is the runner's built-in metadata. A catalog entry of the
	// same name may override parts of it.
	Descriptor engine.Descriptor

	// Supported is the static host-environment check, run before
	// instantiation. nil means always supported.
	Supported func() bool

	// New constructs the instance. The returned runner starts unloaded.
	New func(log logging.Logger) (engine.Runner, error)
}

// Discovery walks the factory table and registers every candidate the host
// supports. It runs once at startup and again on Reinitialize; the engine
// manager serializes those calls.
type Discovery struct {
	log  logging.Logger
	reg  *registry.Registry
	host HostInfo

	mu        sync.Mutex
	factories []Factory
	overrides map[string]override
}

// New creates a Discovery registering into reg and probing host.
func New(log logging.Logger, reg *registry.Registry, host HostInfo) *Discovery {
	return &Discovery{
		log:       log,
		reg:       reg,
		host:      host,
		overrides: make(map[string]override),
	}
}

// Add appends factories to the candidate table.
func (d *Discovery) Add(factories ...Factory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.factories = append(d.factories, factories...)
}

// UseCatalog applies a parsed catalog file's overrides to subsequent runs.
func (d *Discovery) UseCatalog(c *Catalog) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.overrides = c.overrides()
}

// ParameterDefaults returns the catalog's parameter defaults for the named
// runner, or nil.
func (d *Discovery) ParameterDefaults(name string) map[string]interface{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.overrides[name]
	if !ok || len(o.parameters) == 0 {
		return nil
	}
	params := make(map[string]interface{}, len(o.parameters))
	for k, v := range o.parameters {
		params[k] = v
	}
	return params
}

// Run filters, constructs, and registers every supported candidate,
// returning how many were registered. Per-candidate failures are logged
// and skipped; they never abort the walk.
func (d *Discovery) Run() int {
	d.mu.Lock()
	factories := append([]Factory(nil), d.factories...)
	overrides := d.overrides
	d.mu.Unlock()

	known := make(map[string]bool, len(factories))
	registered := 0
	for _, f := range factories {
		desc := f.Descriptor
		if o, ok := overrides[desc.Name]; ok {
			desc = o.apply(desc)
		}
		known[desc.Name] = true
		log := d.log.WithField("runner", desc.Name)

		if !desc.Enabled {
			log.Info("Skipping disabled runner")
			continue
		}
		if f.Supported != nil && !f.Supported() {
			log.Info("Skipping unsupported runner")
			continue
		}
		if reason, ok := d.meetsHardware(desc); !ok {
			log.Infof("Skipping runner: %s", reason)
			continue
		}

		instance, err := f.New(d.log)
		if err != nil {
			log.WithError(err).Error("Constructing runner failed")
			continue
		}
		if err := d.reg.Register(instance, desc); err != nil {
			log.WithError(err).Error("Registering runner failed")
			continue
		}
		log.Infof("Registered runner (vendor=%s priority=%s capabilities=%v)",
			desc.Vendor, desc.Priority, desc.Capabilities)
		registered++
	}

	for name := range overrides {
		if !known[name] {
			d.log.Warnf("Catalog entry %q has no registered factory", name)
		}
	}
	return registered
}

// Reinitialize clears the registry and walks the table again.
func (d *Discovery) Reinitialize() int {
	d.reg.Clear()
	return d.Run()
}

func (d *Discovery) meetsHardware(desc engine.Descriptor) (string, bool) {
	for _, req := range desc.Hardware {
		if ok, reason := Meets(d.host, req); !ok {
			return reason, false
		}
	}
	return "", true
}
