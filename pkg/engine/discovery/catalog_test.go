package discovery

import (
	"strings"
	"testing"

	"github.com/edgehive/engine-runner/pkg/engine"
	"github.com/edgehive/engine-runner/pkg/engine/registry"
)

const sampleCatalog = `
runners:
  - name: llama-server
    priority: LOW
    default_model_id: qwen3-0.6b
    parameters:
      ctx_size: 4096
  - name: whisper-cpp
    enabled: false
  - name: openrouter
    hardware_requirements: [INTERNET, LOW_MEMORY]
  - name: executorch-llm
    enabled: false
`

func TestLoadCatalogFromReader(t *testing.T) {
	c, err := LoadCatalogFromReader(strings.NewReader(sampleCatalog))
	if err != nil {
		t.Fatalf("LoadCatalogFromReader: %v", err)
	}
	if len(c.Runners) != 4 {
		t.Fatalf("parsed %d entries, want 4", len(c.Runners))
	}
	if c.Runners[0].Priority != "LOW" || c.Runners[0].DefaultModelID != "qwen3-0.6b" {
		t.Errorf("first entry = %+v", c.Runners[0])
	}
	if c.Runners[1].Enabled == nil || *c.Runners[1].Enabled {
		t.Error("whisper-cpp entry should parse enabled=false")
	}
}

func TestCatalogValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "runners:\n  - priority: HIGH\n",
			wantErr: "name is required",
		},
		{
			name:    "bad priority",
			yaml:    "runners:\n  - name: a\n    priority: URGENT\n",
			wantErr: "unknown priority",
		},
		{
			name:    "bad hardware requirement",
			yaml:    "runners:\n  - name: a\n    hardware_requirements: [QUANTUM]\n",
			wantErr: "unknown hardware requirement",
		},
		{
			name:    "duplicate entries",
			yaml:    "runners:\n  - name: a\n  - name: a\n",
			wantErr: "duplicate entry",
		},
		{
			name:    "unknown key rejected",
			yaml:    "runners:\n  - name: a\n    vendor: CUSTOM\n",
			wantErr: "field vendor not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCatalogFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("catalog accepted")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestCatalogOverridesApply(t *testing.T) {
	c, err := LoadCatalogFromReader(strings.NewReader(sampleCatalog))
	if err != nil {
		t.Fatalf("LoadCatalogFromReader: %v", err)
	}

	reg := registry.New(testLogger())
	d := New(testLogger(), reg, fakeHost{memory: bigHost.memory, storage: bigHost.storage, internet: true})
	d.UseCatalog(c)

	llama := factory("llama-server", engine.CapabilityLLM)
	llama.Descriptor.Priority = engine.PriorityHigh
	whisper := factory("whisper-cpp", engine.CapabilityASR)
	// openrouter's built-in descriptor requires a camera; the catalog
	// replaces its requirements with ones this host satisfies.
	openrouter := factory("openrouter", engine.CapabilityLLM)
	openrouter.Descriptor.Hardware = []engine.HardwareRequirement{engine.RequiresCamera}
	d.Add(llama, whisper, openrouter)

	if got := d.Run(); got != 2 {
		t.Fatalf("Run registered %d runners, want 2", got)
	}

	if _, _, err := reg.GetByName("whisper-cpp"); err == nil {
		t.Error("catalog-disabled runner was registered")
	}

	_, desc, err := reg.GetByName("llama-server")
	if err != nil {
		t.Fatalf("GetByName(llama-server): %v", err)
	}
	if desc.Priority != engine.PriorityLow {
		t.Errorf("priority = %s, want LOW (catalog override)", desc.Priority)
	}
	if desc.DefaultModelID != "qwen3-0.6b" {
		t.Errorf("default model = %q, want qwen3-0.6b", desc.DefaultModelID)
	}

	if _, _, err := reg.GetByName("openrouter"); err != nil {
		t.Errorf("hardware-overridden runner missing: %v", err)
	}

	params := d.ParameterDefaults("llama-server")
	if params["ctx_size"] != 4096 {
		t.Errorf("ParameterDefaults ctx_size = %v, want 4096", params["ctx_size"])
	}
	if d.ParameterDefaults("text-guard") != nil {
		t.Error("ParameterDefaults for absent entry should be nil")
	}
}
