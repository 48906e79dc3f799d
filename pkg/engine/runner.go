package engine

import (
	"context"
	"net/http"
)

// Runner is the interface implemented by every inference backend. A runner
// advertises one or more capabilities and processes requests one-shot or as
// a stream. Instances move through Created -> Loaded -> Unloaded -> Loaded
// as models are loaded on demand and evicted; Load and Unload on a single
// instance are serialized by the engine manager, but Run and RunStream may
// be invoked concurrently with each other.
type Runner interface {
	// Capabilities returns the capability set of the instance. It must be
	// stable for the instance's lifetime and a superset of the descriptor
	// it was registered under.
	Capabilities() []Capability

	// Load makes modelID ready for processing. It may block on disk or
	// network I/O. Loading the already-loaded model is a no-op; loading a
	// different model unloads the current one first. params carries the
	// runner's effective parameters (persisted settings merged with
	// request-scoped overrides).
	Load(ctx context.Context, modelID string, params map[string]interface{}) error

	// Unload releases the loaded model. It is safe to call any number of
	// times, including before the first Load.
	Unload() error

	// IsLoaded reports whether a model is currently loaded.
	IsLoaded() bool

	// LoadedModelID returns the identifier last passed to a successful
	// Load, or the empty string when unloaded.
	LoadedModelID() string

	// Run processes a request synchronously. It never panics outward: all
	// faults are reported through the result's error, E001 when invoked
	// while not loaded.
	Run(ctx context.Context, req *Request) Result

	// RunStream processes a request as a lazy finite stream: zero or more
	// partial results followed by exactly one terminal result. Runners
	// that only implement one-shot processing return an E406 Error.
	// Cancelling ctx stops emission at the next boundary.
	RunStream(ctx context.Context, req *Request) (*Stream, error)

	// ParameterSchema describes the runner's tunable parameters. Pure and
	// static.
	ParameterSchema() []ParameterSchema

	// ValidateParameters checks params against the runner's schema and
	// returns an E401 Error describing every violation, or nil.
	ValidateParameters(params map[string]interface{}) error
}

// MetricsSource is implemented by runners whose backing subprocess exposes
// a Prometheus metrics endpoint the service can scrape and merge into its
// own /metrics output.
type MetricsSource interface {
	// MetricsEndpoint returns the scrape URL and the client able to reach
	// it. ok is false while no subprocess is running.
	MetricsEndpoint() (url string, client *http.Client, ok bool)
}
