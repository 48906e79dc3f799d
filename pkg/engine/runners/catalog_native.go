//go:build !nonative

package runners

import (
	"github.com/edgehive/engine-runner/pkg/engine"
	"github.com/edgehive/engine-runner/pkg/engine/discovery"
	"github.com/edgehive/engine-runner/pkg/engine/models"
	"github.com/edgehive/engine-runner/pkg/engine/runners/vits"
	"github.com/edgehive/engine-runner/pkg/engine/runners/whispercpp"
	"github.com/edgehive/engine-runner/pkg/logging"
)

func nativeFactories(resolver models.Resolver) []discovery.Factory {
	return []discovery.Factory{
		{
			Descriptor: engine.Descriptor{
				Name:         whispercpp.Name,
				Vendor:       engine.VendorCustom,
				Priority:     engine.PriorityNormal,
				Capabilities: []engine.Capability{engine.CapabilityASR},
				Hardware: []engine.HardwareRequirement{
					engine.RequiresMediumMemory,
					engine.RequiresCPU,
				},
				Enabled:        true,
				DefaultModelID: "ggml-base.en",
			},
			New: func(log logging.Logger) (engine.Runner, error) {
				return whispercpp.New(log, resolver), nil
			},
		},
		{
			Descriptor: engine.Descriptor{
				Name:         vits.Name,
				Vendor:       engine.VendorSherpa,
				Priority:     engine.PriorityNormal,
				Capabilities: []engine.Capability{engine.CapabilityTTS},
				Hardware: []engine.HardwareRequirement{
					engine.RequiresLowMemory,
					engine.RequiresMediumStorage,
					engine.RequiresCPU,
				},
				Enabled:        true,
				DefaultModelID: "piper-en-amy-low",
			},
			New: func(log logging.Logger) (engine.Runner, error) {
				return vits.New(log, resolver), nil
			},
		},
	}
}
