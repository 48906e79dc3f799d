// Package models resolves model ids to local files. Models live in a flat
// directory layout, <root>/<id>/<file>; ids carrying a registered source
// URL are fetched on first resolution, with progress published as the
// service's Downloading state.
package models

import (
	"context"
	"strings"
)

// Handle is the resolved location and metadata of a model. The engine
// calls Resolve exactly once per runner load and treats the handle as
// read-only.
type Handle struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	// SizeBytes is the on-disk size of the entry point file.
	SizeBytes int64 `json:"size_bytes"`
	// Format is the detected file format ("gguf", "onnx", "bin").
	Format string `json:"format"`
	// Architecture and Parameters are populated from GGUF metadata when
	// the entry point is a GGUF file.
	Architecture string `json:"architecture,omitempty"`
	Parameters   string `json:"parameters,omitempty"`
	// RequiredMemoryBytes estimates the memory needed to serve the model,
	// zero when unknown.
	RequiredMemoryBytes uint64 `json:"required_memory_bytes,omitempty"`
}

// Resolver maps a model id to a local handle.
type Resolver interface {
	Resolve(ctx context.Context, id string) (Handle, error)
}

// formatOf classifies a model file by extension.
func formatOf(path string) string {
	switch {
	case strings.HasSuffix(path, ".gguf"):
		return "gguf"
	case strings.HasSuffix(path, ".onnx"):
		return "onnx"
	default:
		return "bin"
	}
}
