// Package runners assembles the factory table the discovery walk consumes.
// The table is split by build tag: native runners (whisper.cpp, ONNX
// Runtime) join only on builds without the nonative tag.
package runners

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/edgehive/engine-runner/pkg/engine"
	"github.com/edgehive/engine-runner/pkg/engine/discovery"
	"github.com/edgehive/engine-runner/pkg/engine/models"
	"github.com/edgehive/engine-runner/pkg/engine/runners/llamaserver"
	"github.com/edgehive/engine-runner/pkg/engine/runners/openrouter"
	"github.com/edgehive/engine-runner/pkg/engine/runners/textguard"
	"github.com/edgehive/engine-runner/pkg/logging"
)

// MTKServerPathEnv overrides the NPU-offloading llama-server binary used
// by the mtk-npu-llm runner.
const MTKServerPathEnv = "MTK_LLAMA_SERVER_PATH"

const defaultMTKServerBinary = "neuron-llama-server"

// Factories returns the full candidate table for this build. Disabled or
// unsupported candidates are still listed; the discovery walk filters
// them.
func Factories(resolver models.Resolver) []discovery.Factory {
	base := []discovery.Factory{
		{
			Descriptor: engine.Descriptor{
				Name:         "mtk-npu-llm",
				Vendor:       engine.VendorMediaTek,
				Priority:     engine.PriorityHigh,
				Capabilities: []engine.Capability{engine.CapabilityLLM},
				Hardware: []engine.HardwareRequirement{
					engine.RequiresNPU,
					engine.RequiresMediumMemory,
				},
				Enabled:        true,
				DefaultModelID: "gemma-2-2b-npu-q4",
			},
			Supported: func() bool {
				_, err := exec.LookPath(mtkServerBinary())
				return err == nil
			},
			New: func(log logging.Logger) (engine.Runner, error) {
				config, err := llamaserver.ConfigFromEnv()
				if err != nil {
					return nil, err
				}
				config.BinaryPath = mtkServerBinary()
				return llamaserver.New(log, resolver, config), nil
			},
		},
		{
			Descriptor: engine.Descriptor{
				Name:         "executorch-llm",
				Vendor:       engine.VendorExecuTorch,
				Priority:     engine.PriorityNormal,
				Capabilities: []engine.Capability{engine.CapabilityLLM},
				Hardware: []engine.HardwareRequirement{
					engine.RequiresMediumMemory,
				},
				// No in-tree backend yet; listed so catalogs can describe
				// it and discovery filtering stays exercised.
				Enabled:        false,
				DefaultModelID: "llama-3.2-1b-et",
			},
			New: func(log logging.Logger) (engine.Runner, error) {
				return nil, fmt.Errorf("executorch backend is not built into this binary")
			},
		},
		{
			Descriptor: engine.Descriptor{
				Name:         openrouter.Name,
				Vendor:       engine.VendorOpenRouter,
				Priority:     engine.PriorityNormal,
				Capabilities: []engine.Capability{engine.CapabilityLLM, engine.CapabilityVLM},
				Hardware: []engine.HardwareRequirement{
					engine.RequiresInternet,
				},
				Enabled:        true,
				DefaultModelID: "openai/gpt-4o-mini",
			},
			Supported: openrouter.Supported,
			New: func(log logging.Logger) (engine.Runner, error) {
				return openrouter.New(log), nil
			},
		},
		{
			Descriptor: engine.Descriptor{
				Name:         llamaserver.Name,
				Vendor:       engine.VendorLlamaStack,
				Priority:     engine.PriorityNormal,
				Capabilities: []engine.Capability{engine.CapabilityLLM},
				Hardware: []engine.HardwareRequirement{
					engine.RequiresHighMemory,
					engine.RequiresLargeStorage,
					engine.RequiresCPU,
				},
				Enabled:        true,
				DefaultModelID: "qwen2.5-1.5b-instruct-q4_k_m",
			},
			New: func(log logging.Logger) (engine.Runner, error) {
				config, err := llamaserver.ConfigFromEnv()
				if err != nil {
					return nil, err
				}
				return llamaserver.New(log, resolver, config), nil
			},
		},
		{
			Descriptor: engine.Descriptor{
				Name:         textguard.Name,
				Vendor:       engine.VendorCustom,
				Priority:     engine.PriorityLow,
				Capabilities: []engine.Capability{engine.CapabilityGuardian},
				Hardware: []engine.HardwareRequirement{
					engine.RequiresCPU,
				},
				Enabled: true,
			},
			New: func(log logging.Logger) (engine.Runner, error) {
				return textguard.New(log, resolver), nil
			},
		},
	}
	return append(base, nativeFactories(resolver)...)
}

func mtkServerBinary() string {
	if p := os.Getenv(MTKServerPathEnv); p != "" {
		return p
	}
	return defaultMTKServerBinary
}
