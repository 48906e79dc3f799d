package discovery

import (
	"errors"
	"io"
	"testing"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/edgehive/engine-runner/pkg/engine"
	"github.com/edgehive/engine-runner/pkg/engine/registry"
	"github.com/edgehive/engine-runner/pkg/engine/runnertest"
	"github.com/edgehive/engine-runner/pkg/logging"
)

func testLogger() logging.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logging.NewLogrusAdapter(l)
}

type fakeHost struct {
	memory   uint64
	storage  uint64
	npu      bool
	internet bool
	mic      bool
	camera   bool
}

func (f fakeHost) TotalMemoryBytes() uint64  { return f.memory }
func (f fakeHost) TotalStorageBytes() uint64 { return f.storage }
func (f fakeHost) HasNPU() bool              { return f.npu }
func (f fakeHost) HasInternet() bool         { return f.internet }
func (f fakeHost) HasMicrophone() bool       { return f.mic }
func (f fakeHost) HasCamera() bool           { return f.camera }

// bigHost satisfies every requirement.
var bigHost = fakeHost{
	memory:   16 * units.GiB,
	storage:  64 * units.GiB,
	npu:      true,
	internet: true,
	mic:      true,
	camera:   true,
}

func factory(name string, caps ...engine.Capability) Factory {
	return Factory{
		Descriptor: engine.Descriptor{
			Name:         name,
			Vendor:       engine.VendorCustom,
			Priority:     engine.PriorityNormal,
			Capabilities: caps,
			Enabled:      true,
		},
		New: func(log logging.Logger) (engine.Runner, error) {
			return runnertest.New(caps...), nil
		},
	}
}

func TestRunRegistersSupportedCandidates(t *testing.T) {
	reg := registry.New(testLogger())
	d := New(testLogger(), reg, bigHost)
	d.Add(
		factory("llama-server", engine.CapabilityLLM),
		factory("whisper-cpp", engine.CapabilityASR),
		factory("text-guard", engine.CapabilityGuardian),
	)

	if got := d.Run(); got != 3 {
		t.Fatalf("Run registered %d runners, want 3", got)
	}
	for _, name := range []string{"llama-server", "whisper-cpp", "text-guard"} {
		if _, _, err := reg.GetByName(name); err != nil {
			t.Errorf("GetByName(%s): %v", name, err)
		}
	}
}

func TestRunSkipsDisabled(t *testing.T) {
	reg := registry.New(testLogger())
	d := New(testLogger(), reg, bigHost)
	f := factory("executorch-llm", engine.CapabilityLLM)
	f.Descriptor.Enabled = false
	d.Add(f)

	if got := d.Run(); got != 0 {
		t.Fatalf("Run registered %d runners, want 0", got)
	}
	if reg.Len() != 0 {
		t.Error("disabled runner was registered")
	}
}

func TestRunSkipsUnsupported(t *testing.T) {
	reg := registry.New(testLogger())
	d := New(testLogger(), reg, bigHost)
	f := factory("mtk-npu-llm", engine.CapabilityLLM)
	f.Supported = func() bool { return false }
	d.Add(f)

	if got := d.Run(); got != 0 {
		t.Fatalf("Run registered %d runners, want 0", got)
	}
}

func TestRunSkipsMissingHardware(t *testing.T) {
	smallHost := fakeHost{memory: 1 * units.GiB, storage: 1 * units.GiB}

	tests := []struct {
		name string
		req  engine.HardwareRequirement
		want bool
	}{
		{"npu missing", engine.RequiresNPU, false},
		{"high memory short", engine.RequiresHighMemory, false},
		{"medium memory short", engine.RequiresMediumMemory, false},
		{"low memory short", engine.RequiresLowMemory, false},
		{"large storage short", engine.RequiresLargeStorage, false},
		{"medium storage short", engine.RequiresMediumStorage, false},
		{"internet missing", engine.RequiresInternet, false},
		{"microphone missing", engine.RequiresMicrophone, false},
		{"camera missing", engine.RequiresCamera, false},
		{"cpu always met", engine.RequiresCPU, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := registry.New(testLogger())
			d := New(testLogger(), reg, smallHost)
			f := factory("candidate", engine.CapabilityLLM)
			f.Descriptor.Hardware = []engine.HardwareRequirement{tt.req}
			d.Add(f)

			got := d.Run() == 1
			if got != tt.want {
				t.Errorf("registered = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunSkipsConstructorFailure(t *testing.T) {
	reg := registry.New(testLogger())
	d := New(testLogger(), reg, bigHost)
	broken := factory("broken", engine.CapabilityLLM)
	broken.New = func(log logging.Logger) (engine.Runner, error) {
		return nil, errors.New("missing shared library")
	}
	d.Add(broken, factory("llama-server", engine.CapabilityLLM))

	if got := d.Run(); got != 1 {
		t.Fatalf("Run registered %d runners, want 1", got)
	}
	if _, _, err := reg.GetByName("llama-server"); err != nil {
		t.Errorf("surviving candidate not registered: %v", err)
	}
}

func TestMeetsThresholds(t *testing.T) {
	host := fakeHost{memory: 4 * units.GiB, storage: 2 * units.GiB}

	tests := []struct {
		req  engine.HardwareRequirement
		want bool
	}{
		{engine.RequiresHighMemory, false},
		{engine.RequiresMediumMemory, true},
		{engine.RequiresLowMemory, true},
		{engine.RequiresLargeStorage, false},
		{engine.RequiresMediumStorage, true},
	}
	for _, tt := range tests {
		t.Run(tt.req.String(), func(t *testing.T) {
			ok, reason := Meets(host, tt.req)
			if ok != tt.want {
				t.Errorf("Meets(%s) = %v (%s), want %v", tt.req, ok, reason, tt.want)
			}
			if !ok && reason == "" {
				t.Error("failed requirement carries no reason")
			}
		})
	}
}

func TestReinitializeReplacesInstances(t *testing.T) {
	reg := registry.New(testLogger())
	d := New(testLogger(), reg, bigHost)
	d.Add(factory("llama-server", engine.CapabilityLLM))

	if got := d.Run(); got != 1 {
		t.Fatalf("Run registered %d, want 1", got)
	}
	first, _, err := reg.GetByName("llama-server")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}

	if got := d.Reinitialize(); got != 1 {
		t.Fatalf("Reinitialize registered %d, want 1", got)
	}
	second, _, err := reg.GetByName("llama-server")
	if err != nil {
		t.Fatalf("GetByName after Reinitialize: %v", err)
	}
	if first == second {
		t.Error("Reinitialize kept the old instance")
	}
	if reg.Len() != 1 {
		t.Errorf("Len = %d after Reinitialize, want 1", reg.Len())
	}
}
