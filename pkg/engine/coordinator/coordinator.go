// Package coordinator brackets every request's lifecycle: it stamps ids,
// keeps the in-flight count published as the service state, owns the
// per-request cancellation handles, and classifies failures before they
// reach the client transport.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgehive/engine-runner/pkg/engine"
	"github.com/edgehive/engine-runner/pkg/engine/state"
	"github.com/edgehive/engine-runner/pkg/logging"
	"github.com/edgehive/engine-runner/pkg/metrics"
)

// Engine is the processing facade the coordinator drives. It is satisfied
// by *manager.Manager.
type Engine interface {
	Process(ctx context.Context, req *engine.Request, capability engine.Capability, preferred string) engine.Result
	ProcessStream(ctx context.Context, req *engine.Request, capability engine.Capability, preferred string) *engine.Stream
}

// Coordinator tracks request lifecycles around an Engine. All methods are
// safe for concurrent use.
type Coordinator struct {
	log    logging.Logger
	engine Engine
	pub    *state.Publisher
	met    *metrics.Metrics

	mu      sync.Mutex
	active  int
	tracker map[string]context.CancelFunc
}

// New creates a coordinator publishing to pub. met may be nil.
func New(log logging.Logger, eng Engine, pub *state.Publisher, met *metrics.Metrics) *Coordinator {
	return &Coordinator{
		log:     log,
		engine:  eng,
		pub:     pub,
		met:     met,
		tracker: make(map[string]context.CancelFunc),
	}
}

// ActiveCount returns the number of requests currently in flight.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Cancel trips the cancellation handle of the identified request. It
// returns whether a live handle was found.
func (c *Coordinator) Cancel(id string) bool {
	c.mu.Lock()
	cancel, ok := c.tracker[id]
	c.mu.Unlock()
	if !ok {
		return false
	}
	c.log.Infof("Request %s cancelled", id)
	cancel()
	return true
}

// Shutdown cancels every in-flight request. Used before forced cleanup on
// abnormal shutdown; the coordinator remains usable afterwards.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(c.tracker))
	for _, cancel := range c.tracker {
		cancels = append(cancels, cancel)
	}
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// Process runs one request to completion and returns its single result.
// Input validation failures come back as an E401 result before any runner
// is touched.
func (c *Coordinator) Process(ctx context.Context, req *engine.Request, capability engine.Capability, preferred string) engine.Result {
	if eerr := engine.ValidateInputs(capability, req); eerr != nil {
		return engine.ErrorResult(eerr)
	}

	rctx, id := c.begin(ctx, req)
	started := time.Now()
	res := c.engine.Process(rctx, req, capability, preferred)
	res = c.stamp(res, id)

	status := resultStatus(res, rctx)
	if res.Error != nil {
		c.logError(id, capability, res.Error)
	}
	c.finish(rctx, id, capability, "run", status, started)
	return res
}

// ProcessStream runs one request in streaming mode. The returned stream
// honors the termination contract: at most one terminal frame; a terminal
// E101 is synthesized when the runner's stream ends without one; after
// cancellation no further frames are delivered and no terminal is
// synthesized.
func (c *Coordinator) ProcessStream(ctx context.Context, req *engine.Request, capability engine.Capability, preferred string) *engine.Stream {
	if eerr := engine.ValidateInputs(capability, req); eerr != nil {
		return engine.SingleResultStream(engine.ErrorResult(eerr))
	}

	rctx, id := c.begin(ctx, req)
	started := time.Now()
	src := c.engine.ProcessStream(rctx, req, capability, preferred)

	out := engine.NewStream()
	go func() {
		defer out.Close()
		status := "ok"
		sawTerminal := false
		for r := range src.Results() {
			if rctx.Err() != nil {
				// Cancelled: deliver nothing further, keep draining so the
				// producer can observe the cancellation and stop.
				continue
			}
			if sawTerminal {
				c.log.Warnf("Request %s: runner emitted after its terminal result, dropping", id)
				continue
			}
			r = c.stamp(r, id)
			if r.Error != nil {
				// Mid-stream errors are terminal.
				r.Partial = false
				c.logError(id, capability, r.Error)
				status = r.Error.Code
			}
			if !out.Send(rctx, r) {
				continue
			}
			if r.Terminal() {
				sawTerminal = true
			}
		}

		if rctx.Err() != nil {
			status = "cancelled"
		} else if !sawTerminal {
			eerr := engine.NewError(engine.CodeRuntime, "stream ended without completion")
			c.logError(id, capability, eerr)
			out.Send(rctx, c.stamp(engine.ErrorResult(eerr), id))
			status = eerr.Code
		}
		c.finish(rctx, id, capability, "stream", status, started)
	}()
	return out
}

// begin accepts the request: stamps a missing id, registers its cancel
// handle, and bumps the published in-flight count.
func (c *Coordinator) begin(ctx context.Context, req *engine.Request) (context.Context, string) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	rctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.tracker[req.SessionID] = cancel
	c.active++
	n := c.active
	c.mu.Unlock()

	c.pub.SetProcessing(n)
	c.met.AddActive(rctx, 1)
	return rctx, req.SessionID
}

// finish releases the request: untracks the handle, drops the in-flight
// count (collapsing to Ready at zero), and records metrics.
func (c *Coordinator) finish(ctx context.Context, id string, capability engine.Capability, mode, status string, started time.Time) {
	c.mu.Lock()
	if cancel, ok := c.tracker[id]; ok {
		delete(c.tracker, id)
		defer cancel()
	}
	c.active--
	n := c.active
	c.mu.Unlock()

	c.pub.SetProcessing(n)
	c.met.AddActive(context.WithoutCancel(ctx), -1)
	c.met.RecordRequest(context.WithoutCancel(ctx), capability.String(), mode, status, time.Since(started).Seconds())
}

// stamp makes sure the result's metadata carries the request id.
func (c *Coordinator) stamp(r engine.Result, id string) engine.Result {
	if r.Metadata == nil {
		r.Metadata = make(map[string]interface{}, 1)
	}
	if _, ok := r.Metadata[engine.MetaSessionID]; !ok {
		r.Metadata[engine.MetaSessionID] = id
	}
	return r
}

func (c *Coordinator) logError(id string, capability engine.Capability, eerr *engine.Error) {
	log := c.log.WithField("request", id).WithField("capability", capability.String())
	if eerr.Cause != nil {
		log = log.WithError(eerr.Cause)
	}
	log.Warnf("Request failed: %s", eerr)
}

func resultStatus(r engine.Result, ctx context.Context) string {
	switch {
	case ctx.Err() != nil:
		return "cancelled"
	case r.Error != nil:
		return r.Error.Code
	default:
		return "ok"
	}
}
