package llamaserver

import (
	"slices"
	"strings"
	"testing"

	"github.com/edgehive/engine-runner/pkg/engine"
)

func TestValidateArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"empty", nil, ""},
		{"allowed flags", []string{"--ctx-size", "4096", "--temp", "0.7"}, ""},
		{"short forms", []string{"-c", "4096", "-ngl", "99"}, ""},
		{"equals form", []string{"--top-k=40", "--mlock"}, ""},
		{"boolean flags", []string{"--flash-attn", "--no-mmap", "--jinja"}, ""},
		{"model flag rejected", []string{"--model", "/etc/passwd"}, `"--model"`},
		{"path flag rejected", []string{"--lora", "adapter.bin"}, `"--lora"`},
		{"bare positional", []string{"4096"}, "positional"},
		{"positional after equals", []string{"--top-k=40", "stray"}, "positional"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateArgs(tt.args)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("validateArgs(%v): %v", tt.args, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("validateArgs(%v) = %v, want error containing %s", tt.args, err, tt.wantErr)
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LLAMA_SERVER_PATH", "")
	t.Setenv("LLAMA_ARGS", "")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.BinaryPath != "llama-server" {
		t.Errorf("BinaryPath = %q, want default", cfg.BinaryPath)
	}

	t.Setenv("LLAMA_SERVER_PATH", "/opt/llama/bin/llama-server")
	t.Setenv("LLAMA_ARGS", `--ctx-size 8192 --threads 4`)
	cfg, err = ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.BinaryPath != "/opt/llama/bin/llama-server" {
		t.Errorf("BinaryPath = %q", cfg.BinaryPath)
	}
	want := []string{"--ctx-size", "8192", "--threads", "4"}
	if !slices.Equal(cfg.ExtraArgs, want) {
		t.Errorf("ExtraArgs = %v, want %v", cfg.ExtraArgs, want)
	}

	t.Setenv("LLAMA_ARGS", "--model /tmp/evil.gguf")
	if _, err := ConfigFromEnv(); err == nil {
		t.Error("ConfigFromEnv accepted a disallowed flag")
	}

	t.Setenv("LLAMA_ARGS", `--temp "0.7`)
	if _, err := ConfigFromEnv(); err == nil {
		t.Error("ConfigFromEnv accepted unparseable args")
	}
}

func TestBuildArgs(t *testing.T) {
	cfg := Config{BinaryPath: "llama-server", ExtraArgs: []string{"--mlock"}}

	args, err := cfg.buildArgs("/models/q4.gguf", 8137, map[string]interface{}{
		ParamContextSize: float64(4096),
		ParamThreads:     4,
		ParamExtraArgs:   "--top-k 40",
	})
	if err != nil {
		t.Fatalf("buildArgs: %v", err)
	}

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"--model /models/q4.gguf",
		"--port 8137",
		"--metrics",
		"--ctx-size 4096",
		"--threads 4",
		"--mlock",
		"--top-k 40",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("buildArgs missing %q in %q", want, joined)
		}
	}
}

func TestBuildArgsRejectsBadExtraArgs(t *testing.T) {
	cfg := Config{BinaryPath: "llama-server"}
	if _, err := cfg.buildArgs("/m.gguf", 8000, map[string]interface{}{
		ParamExtraArgs: "--model /tmp/other.gguf",
	}); err == nil {
		t.Error("buildArgs accepted a disallowed per-request flag")
	}
	if _, err := cfg.buildArgs("/m.gguf", 8000, map[string]interface{}{
		ParamExtraArgs: `--temp "0.7`,
	}); err == nil {
		t.Error("buildArgs accepted unparseable per-request args")
	}
}

func TestParameterSchemaValidates(t *testing.T) {
	schema := parameterSchema()
	err := engine.ValidateParameters(schema, map[string]interface{}{
		ParamContextSize: 4096,
		ParamThreads:     8,
	})
	if err != nil {
		t.Errorf("valid parameters rejected: %v", err)
	}
	if err := engine.ValidateParameters(schema, map[string]interface{}{ParamContextSize: 16}); err == nil {
		t.Error("context size below the minimum was accepted")
	}
}
