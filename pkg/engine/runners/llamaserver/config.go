package llamaserver

import (
	"fmt"
	"os"
	"strconv"

	"github.com/mattn/go-shellwords"

	"github.com/edgehive/engine-runner/pkg/engine"
)

// Parameter keys recognized by this runner beyond the common ones.
const (
	// ParamExtraArgs carries additional llama-server flags, parsed
	// shell-style and validated against the allowlist.
	ParamExtraArgs = "extra_args"
	// ParamContextSize sets the server's context window.
	ParamContextSize = "context_size"
	// ParamThreads bounds the server's CPU threads.
	ParamThreads = "threads"
)

// Config describes how to launch a llama-server process.
type Config struct {
	// BinaryPath is the llama-server executable.
	BinaryPath string
	// ExtraArgs are deployment-level flags appended to every launch, from
	// the LLAMA_ARGS environment variable.
	ExtraArgs []string
}

// ConfigFromEnv builds the launch configuration from LLAMA_SERVER_PATH
// and LLAMA_ARGS. The args are validated against the allowlist.
func ConfigFromEnv() (Config, error) {
	cfg := Config{BinaryPath: os.Getenv("LLAMA_SERVER_PATH")}
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "llama-server"
	}
	if raw := os.Getenv("LLAMA_ARGS"); raw != "" {
		args, err := shellwords.Parse(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parsing LLAMA_ARGS: %w", err)
		}
		if err := validateArgs(args); err != nil {
			return Config{}, fmt.Errorf("LLAMA_ARGS: %w", err)
		}
		cfg.ExtraArgs = args
	}
	return cfg, nil
}

// buildArgs assembles the full llama-server command line for modelPath on
// port, folding in configuration and per-runner parameters.
func (c Config) buildArgs(modelPath string, port int, params map[string]interface{}) ([]string, error) {
	args := []string{
		"--model", modelPath,
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(port),
		"--metrics",
		"--jinja",
	}

	if v, ok := intParam(params, ParamContextSize); ok {
		args = append(args, "--ctx-size", strconv.Itoa(v))
	}
	if v, ok := intParam(params, ParamThreads); ok {
		args = append(args, "--threads", strconv.Itoa(v))
	}

	args = append(args, c.ExtraArgs...)

	if raw, ok := params[ParamExtraArgs].(string); ok && raw != "" {
		extra, err := shellwords.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", ParamExtraArgs, err)
		}
		if err := validateArgs(extra); err != nil {
			return nil, fmt.Errorf("%s: %w", ParamExtraArgs, err)
		}
		args = append(args, extra...)
	}
	return args, nil
}

func intParam(params map[string]interface{}, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}

// parameterSchema is the static schema shared by all llama-server backed
// runners.
func parameterSchema() []engine.ParameterSchema {
	minTemp, maxTemp := 0.0, 2.0
	minTokens := 1.0
	minCtx := 256.0
	return []engine.ParameterSchema{
		{
			Name: engine.ParamModelID, Type: engine.ParameterString,
			Description: "Model id to load instead of the runner default.",
			Category:    "model",
		},
		{
			Name: engine.ParamTemperature, Type: engine.ParameterFloat,
			Description: "Sampling temperature.",
			Default:     0.8, Minimum: &minTemp, Maximum: &maxTemp,
			Category: "sampling",
		},
		{
			Name: engine.ParamMaxTokens, Type: engine.ParameterInt,
			Description: "Upper bound on generated tokens.",
			Minimum:     &minTokens, Category: "sampling",
		},
		{
			Name: ParamContextSize, Type: engine.ParameterInt,
			Description: "Context window size in tokens.",
			Minimum:     &minCtx, Category: "server",
		},
		{
			Name: ParamThreads, Type: engine.ParameterInt,
			Description: "CPU threads for inference.",
			Category:    "server",
		},
		{
			Name: ParamExtraArgs, Type: engine.ParameterString,
			Description: "Additional llama-server flags (allowlisted).",
			Category:    "server",
		},
	}
}
