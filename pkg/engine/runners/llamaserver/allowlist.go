package llamaserver

import (
	"fmt"
	"strings"
)

// allowedFlags are the llama-server flags users may pass through the
// extra_args parameter. Flags taking file paths are excluded: model and
// socket placement belong to the engine, not the request.
var allowedFlags = map[string]bool{
	// Threading
	"-t": true, "--threads": true,
	"-tb": true, "--threads-batch": true,

	// Context and prediction
	"-c": true, "--ctx-size": true,
	"-n": true, "--predict": true, "--n-predict": true,
	"--keep": true,

	// Batching
	"-b": true, "--batch-size": true,
	"-ub": true, "--ubatch-size": true,
	"-fa": true, "--flash-attn": true,

	// Sampling
	"-s": true, "--seed": true,
	"--temp": true, "--temperature": true,
	"--top-k":             true,
	"--top-p":             true,
	"--min-p":             true,
	"--typical":           true,
	"--repeat-last-n":     true,
	"--repeat-penalty":    true,
	"--presence-penalty":  true,
	"--frequency-penalty": true,
	"--mirostat":          true,
	"--mirostat-lr":       true,
	"--mirostat-ent":      true,
	"--ignore-eos":        true,

	// GPU offload
	"-ngl": true, "--gpu-layers": true, "--n-gpu-layers": true,
	"-sm": true, "--split-mode": true,
	"-mg": true, "--main-gpu": true,

	// Memory
	"--mlock":    true,
	"--no-mmap":  true,
	"--no-kv-offload": true,
	"-ctk": true, "--cache-type-k": true,
	"-ctv": true, "--cache-type-v": true,

	// Misc
	"--jinja":         true,
	"--reasoning-format": true,
	"--metrics":       true,
	"--slots":         true,
	"--no-warmup":     true,
}

// validateArgs checks that every flag in args is allowed. Values following
// a flag are accepted as-is; bare values without a preceding flag are
// rejected.
func validateArgs(args []string) error {
	expectValue := false
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			if !expectValue {
				return fmt.Errorf("unexpected positional argument %q", arg)
			}
			expectValue = false
			continue
		}

		flag := arg
		if i := strings.IndexByte(arg, '='); i >= 0 {
			flag = arg[:i]
			expectValue = false
		} else {
			expectValue = true
		}
		if !allowedFlags[flag] {
			return fmt.Errorf("flag %q is not allowed", flag)
		}
	}
	return nil
}
