// Package runnertest provides a configurable test double for the
// engine.Runner interface.
//
// Use Fake to script load failures, streaming emission patterns, and
// processing results, and to verify load/unload accounting from the
// outside:
//
//	r := runnertest.New(engine.CapabilityLLM)
//	r.StreamFrames = 10
//	r.FrameGap = 10 * time.Millisecond
package runnertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edgehive/engine-runner/pkg/engine"
)

// Fake is a scriptable implementation of engine.Runner.
type Fake struct {
	mu sync.Mutex

	caps []engine.Capability

	// --- Configurable behavior ---

	// LoadErr, if non-nil, is returned by Load, leaving the fake unloaded.
	LoadErr error

	// LoadDelay makes Load sleep before completing, to exercise lazy-load
	// races.
	LoadDelay time.Duration

	// RunResult is returned by Run when RunFunc is nil. The zero value is
	// a terminal text result echoing the request text.
	RunResult *engine.Result

	// RunFunc, if non-nil, computes Run's result.
	RunFunc func(ctx context.Context, req *engine.Request) engine.Result

	// RunPanic makes Run panic, to exercise the manager's fault boundary.
	RunPanic bool

	// NoStream makes RunStream report E406.
	NoStream bool

	// StreamFrames is the number of partial frames RunStream emits before
	// the terminal frame.
	StreamFrames int

	// FrameGap is the pause between streamed frames.
	FrameGap time.Duration

	// StreamErr, if non-nil, is carried by the terminal frame.
	StreamErr *engine.Error

	// OmitTerminal ends the stream after the partial frames without a
	// terminal frame, to exercise the coordinator's synthesized E101.
	OmitTerminal bool

	// Schema is returned by ParameterSchema.
	Schema []engine.ParameterSchema

	// --- Observed state ---

	// LoadCalls and UnloadCalls count invocations.
	LoadCalls   int
	UnloadCalls int

	// LastModelID and LastParams record the most recent Load arguments.
	LastModelID string
	LastParams  map[string]interface{}

	// CancelObserved is set when a stream emission was aborted by context
	// cancellation.
	CancelObserved bool

	loaded  bool
	modelID string
}

// New creates a Fake advertising caps.
func New(caps ...engine.Capability) *Fake {
	return &Fake{caps: caps}
}

// Capabilities implements engine.Runner.Capabilities.
func (f *Fake) Capabilities() []engine.Capability {
	return f.caps
}

// Load implements engine.Runner.Load.
func (f *Fake) Load(ctx context.Context, modelID string, params map[string]interface{}) error {
	if f.LoadDelay > 0 {
		select {
		case <-time.After(f.LoadDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.LoadCalls++
	f.LastModelID = modelID
	f.LastParams = params
	if f.LoadErr != nil {
		return f.LoadErr
	}
	if f.loaded && f.modelID == modelID {
		return nil
	}
	f.loaded = true
	f.modelID = modelID
	return nil
}

// Unload implements engine.Runner.Unload.
func (f *Fake) Unload() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UnloadCalls++
	f.loaded = false
	f.modelID = ""
	return nil
}

// IsLoaded implements engine.Runner.IsLoaded.
func (f *Fake) IsLoaded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded
}

// LoadedModelID implements engine.Runner.LoadedModelID.
func (f *Fake) LoadedModelID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.modelID
}

// Run implements engine.Runner.Run.
func (f *Fake) Run(ctx context.Context, req *engine.Request) engine.Result {
	if f.RunPanic {
		panic("scripted runner panic")
	}
	if !f.IsLoaded() {
		return engine.ErrorResultFor(engine.CodeNotLoaded, "no model loaded")
	}
	if f.RunFunc != nil {
		return f.RunFunc(ctx, req)
	}
	if f.RunResult != nil {
		return *f.RunResult
	}
	text, _ := req.Text()
	return engine.TextResult("echo: "+text, map[string]interface{}{
		engine.MetaSessionID: req.SessionID,
		engine.MetaModelName: f.LoadedModelID(),
	})
}

// RunStream implements engine.Runner.RunStream.
func (f *Fake) RunStream(ctx context.Context, req *engine.Request) (*engine.Stream, error) {
	if f.NoStream {
		return nil, engine.NewError(engine.CodeModeUnsupported, "streaming not supported")
	}
	if !f.IsLoaded() {
		return engine.SingleResultStream(engine.ErrorResultFor(engine.CodeNotLoaded, "no model loaded")), nil
	}

	frames := f.StreamFrames
	gap := f.FrameGap
	return engine.Produce(ctx, func(ctx context.Context, s *engine.Stream) {
		for i := 0; i < frames; i++ {
			if gap > 0 {
				select {
				case <-time.After(gap):
				case <-ctx.Done():
					f.observeCancel()
					return
				}
			}
			frame := engine.PartialTextResult(fmt.Sprintf("frame %d", i), map[string]interface{}{
				engine.MetaSessionID: req.SessionID,
			})
			if !s.Send(ctx, frame) {
				f.observeCancel()
				return
			}
		}
		if f.OmitTerminal {
			return
		}
		terminal := engine.TextResult("complete", map[string]interface{}{
			engine.MetaSessionID: req.SessionID,
		})
		if f.StreamErr != nil {
			terminal = engine.ErrorResult(f.StreamErr)
		}
		if !s.Send(ctx, terminal) {
			f.observeCancel()
		}
	}), nil
}

// ParameterSchema implements engine.Runner.ParameterSchema.
func (f *Fake) ParameterSchema() []engine.ParameterSchema {
	return f.Schema
}

// ValidateParameters implements engine.Runner.ValidateParameters.
func (f *Fake) ValidateParameters(params map[string]interface{}) error {
	return engine.ValidateParameters(f.Schema, params)
}

func (f *Fake) observeCancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CancelObserved = true
}

// Loaded reports loaded state and model id together, for assertions.
func (f *Fake) Loaded() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded, f.modelID
}
