package coordinator

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgehive/engine-runner/pkg/engine"
	"github.com/edgehive/engine-runner/pkg/engine/runnertest"
	"github.com/edgehive/engine-runner/pkg/engine/state"
	"github.com/edgehive/engine-runner/pkg/logging"
)

func testLogger() logging.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logging.NewLogrusAdapter(l)
}

// fakeEngine adapts a runnertest.Fake to the Engine interface the way the
// manager does, without selection or lazy loading.
type fakeEngine struct {
	runner *runnertest.Fake

	// streamFn, if non-nil, overrides ProcessStream.
	streamFn func(ctx context.Context) *engine.Stream
}

func (e *fakeEngine) Process(ctx context.Context, req *engine.Request, _ engine.Capability, _ string) engine.Result {
	return e.runner.Run(ctx, req)
}

func (e *fakeEngine) ProcessStream(ctx context.Context, req *engine.Request, _ engine.Capability, _ string) *engine.Stream {
	if e.streamFn != nil {
		return e.streamFn(ctx)
	}
	s, err := e.runner.RunStream(ctx, req)
	if err != nil {
		return engine.SingleResultStream(engine.ErrorResult(engine.AsEngineError(err)))
	}
	return s
}

func newCoordinator(t *testing.T, fake *runnertest.Fake) (*Coordinator, *fakeEngine) {
	t.Helper()
	eng := &fakeEngine{runner: fake}
	pub := state.NewPublisher(testLogger())
	return New(testLogger(), eng, pub, nil), eng
}

func loadedFake(t *testing.T, caps ...engine.Capability) *runnertest.Fake {
	t.Helper()
	fake := runnertest.New(caps...)
	if err := fake.Load(t.Context(), "test-model", nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return fake
}

func textRequest(id, text string) *engine.Request {
	return engine.NewRequest(id, map[string]interface{}{engine.InputText: text}, nil)
}

// collect drains a stream to completion.
func collect(t *testing.T, s *engine.Stream) []engine.Result {
	t.Helper()
	var out []engine.Result
	deadline := time.After(5 * time.Second)
	for {
		select {
		case r, ok := <-s.Results():
			if !ok {
				return out
			}
			out = append(out, r)
		case <-deadline:
			t.Fatalf("stream did not complete; got %d results", len(out))
		}
	}
}

func waitForActive(t *testing.T, c *Coordinator, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.ActiveCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ActiveCount = %d, want %d", c.ActiveCount(), want)
}

func TestProcessRejectsMissingInputs(t *testing.T) {
	tests := []struct {
		name       string
		capability engine.Capability
		inputs     map[string]interface{}
	}{
		{"llm without text", engine.CapabilityLLM, nil},
		{"llm empty text", engine.CapabilityLLM, map[string]interface{}{engine.InputText: ""}},
		{"vlm without image", engine.CapabilityVLM, map[string]interface{}{engine.InputText: "describe"}},
		{"asr without audio", engine.CapabilityASR, map[string]interface{}{engine.InputText: "oops"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := loadedFake(t, tt.capability)
			c, _ := newCoordinator(t, fake)

			res := c.Process(t.Context(), engine.NewRequest("", tt.inputs, nil), tt.capability, "")
			if res.Error == nil || res.Error.Code != engine.CodeInvalidInput {
				t.Fatalf("Process error = %v, want %s", res.Error, engine.CodeInvalidInput)
			}
			if c.ActiveCount() != 0 {
				t.Errorf("ActiveCount = %d after rejected request", c.ActiveCount())
			}
		})
	}
}

func TestProcessStampsSessionID(t *testing.T) {
	fake := loadedFake(t, engine.CapabilityLLM)
	c, _ := newCoordinator(t, fake)

	req := textRequest("", "hello")
	res := c.Process(t.Context(), req, engine.CapabilityLLM, "")
	if res.Error != nil {
		t.Fatalf("Process: %v", res.Error)
	}
	if req.SessionID == "" {
		t.Fatal("request was not stamped with a session id")
	}
	if got := res.Metadata[engine.MetaSessionID]; got != req.SessionID {
		t.Errorf("result session id = %v, want %s", got, req.SessionID)
	}
}

func TestProcessKeepsClientSessionID(t *testing.T) {
	fake := loadedFake(t, engine.CapabilityLLM)
	c, _ := newCoordinator(t, fake)

	res := c.Process(t.Context(), textRequest("client-7", "hello"), engine.CapabilityLLM, "")
	if got := res.Metadata[engine.MetaSessionID]; got != "client-7" {
		t.Errorf("result session id = %v, want client-7", got)
	}
}

func TestProcessErrorResult(t *testing.T) {
	fake := loadedFake(t, engine.CapabilityLLM)
	res := engine.ErrorResultFor(engine.CodeRuntime, "backend fault")
	fake.RunResult = &res
	c, _ := newCoordinator(t, fake)

	got := c.Process(t.Context(), textRequest("", "hello"), engine.CapabilityLLM, "")
	if got.Error == nil || got.Error.Code != engine.CodeRuntime {
		t.Fatalf("Process error = %v, want %s", got.Error, engine.CodeRuntime)
	}
	if c.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d after failed request", c.ActiveCount())
	}
}

func TestProcessStreamDeliversPartialsThenTerminal(t *testing.T) {
	fake := loadedFake(t, engine.CapabilityLLM)
	fake.StreamFrames = 3
	c, _ := newCoordinator(t, fake)

	results := collect(t, c.ProcessStream(t.Context(), textRequest("req-1", "hello"), engine.CapabilityLLM, ""))
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
	for i, r := range results[:3] {
		if !r.Partial {
			t.Errorf("results[%d].Partial = false, want true", i)
		}
		if got := r.Metadata[engine.MetaSessionID]; got != "req-1" {
			t.Errorf("results[%d] session id = %v", i, got)
		}
	}
	last := results[3]
	if last.Partial || last.Error != nil {
		t.Errorf("terminal result = %+v", last)
	}
	waitForActive(t, c, 0)
}

func TestProcessStreamSynthesizesTerminalError(t *testing.T) {
	fake := loadedFake(t, engine.CapabilityLLM)
	fake.StreamFrames = 2
	fake.OmitTerminal = true
	c, _ := newCoordinator(t, fake)

	results := collect(t, c.ProcessStream(t.Context(), textRequest("req-1", "hello"), engine.CapabilityLLM, ""))
	if len(results) != 3 {
		t.Fatalf("got %d results, want 2 partials and a synthesized terminal", len(results))
	}
	last := results[2]
	if last.Error == nil || last.Error.Code != engine.CodeRuntime {
		t.Fatalf("synthesized terminal = %+v, want %s", last, engine.CodeRuntime)
	}
	if last.Partial {
		t.Error("synthesized terminal is marked partial")
	}
	waitForActive(t, c, 0)
}

func TestProcessStreamMidStreamErrorIsTerminal(t *testing.T) {
	fake := loadedFake(t, engine.CapabilityLLM)
	fake.StreamFrames = 1
	fake.StreamErr = engine.NewError(engine.CodeRuntime, "decoder fault")
	c, _ := newCoordinator(t, fake)

	results := collect(t, c.ProcessStream(t.Context(), textRequest("req-1", "hello"), engine.CapabilityLLM, ""))
	last := results[len(results)-1]
	if last.Error == nil || last.Error.Code != engine.CodeRuntime {
		t.Fatalf("terminal = %+v, want %s error", last, engine.CodeRuntime)
	}
	if last.Partial {
		t.Error("error frame is marked partial")
	}
}

func TestProcessStreamCancelStopsDelivery(t *testing.T) {
	fake := loadedFake(t, engine.CapabilityLLM)
	fake.StreamFrames = 50
	fake.FrameGap = 10 * time.Millisecond
	c, _ := newCoordinator(t, fake)

	stream := c.ProcessStream(t.Context(), textRequest("req-cancel", "hello"), engine.CapabilityLLM, "")

	seen := 0
	for r := range stream.Results() {
		if r.Terminal() {
			t.Fatalf("saw a terminal frame after cancellation: %+v", r)
		}
		seen++
		if seen == 3 {
			if !c.Cancel("req-cancel") {
				t.Fatal("Cancel returned false for an in-flight request")
			}
		}
	}
	if seen < 3 {
		t.Fatalf("saw %d frames before the stream ended, want at least 3", seen)
	}
	if seen >= 50 {
		t.Error("cancellation did not stop frame delivery")
	}

	waitForActive(t, c, 0)
	if !fake.CancelObserved {
		t.Error("runner did not observe the cancellation")
	}
}

func TestProcessStreamDropsFramesAfterTerminal(t *testing.T) {
	fake := loadedFake(t, engine.CapabilityLLM)
	c, eng := newCoordinator(t, fake)
	eng.streamFn = func(ctx context.Context) *engine.Stream {
		return engine.Produce(ctx, func(ctx context.Context, s *engine.Stream) {
			s.Send(ctx, engine.TextResult("done", nil))
			s.Send(ctx, engine.PartialTextResult("late frame", nil))
		})
	}

	results := collect(t, c.ProcessStream(t.Context(), textRequest("req-1", "hello"), engine.CapabilityLLM, ""))
	if len(results) != 1 {
		t.Fatalf("got %d results, want the terminal only", len(results))
	}
	if results[0].Partial {
		t.Errorf("terminal result = %+v", results[0])
	}
}

func TestProcessStreamRejectsMissingInputs(t *testing.T) {
	fake := loadedFake(t, engine.CapabilityASR)
	c, _ := newCoordinator(t, fake)

	results := collect(t, c.ProcessStream(t.Context(), engine.NewRequest("", nil, nil), engine.CapabilityASR, ""))
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Error == nil || results[0].Error.Code != engine.CodeInvalidInput {
		t.Fatalf("error = %v, want %s", results[0].Error, engine.CodeInvalidInput)
	}
}

func TestCancelUnknownRequest(t *testing.T) {
	fake := loadedFake(t, engine.CapabilityLLM)
	c, _ := newCoordinator(t, fake)

	if c.Cancel("never-started") {
		t.Error("Cancel returned true for an unknown id")
	}
}

func TestActiveCountBalances(t *testing.T) {
	fake := loadedFake(t, engine.CapabilityLLM)
	c, _ := newCoordinator(t, fake)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			c.Process(t.Context(), textRequest("", "hello"), engine.CapabilityLLM, "")
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	if c.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d after all requests finished", c.ActiveCount())
	}
}

func TestStatePublication(t *testing.T) {
	fake := loadedFake(t, engine.CapabilityLLM)
	fake.StreamFrames = 2
	fake.FrameGap = 20 * time.Millisecond
	eng := &fakeEngine{runner: fake}
	pub := state.NewPublisher(testLogger())
	c := New(testLogger(), eng, pub, nil)

	stream := c.ProcessStream(t.Context(), textRequest("req-1", "hello"), engine.CapabilityLLM, "")
	deadline := time.Now().Add(5 * time.Second)
	for pub.Current().Kind != state.KindProcessing && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := pub.Current(); got.Kind != state.KindProcessing || got.ActiveCount != 1 {
		t.Fatalf("state during stream = %+v, want processing with 1 active", got)
	}

	collect(t, stream)
	waitForActive(t, c, 0)
	deadline = time.Now().Add(5 * time.Second)
	for pub.Current().Kind != state.KindReady && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := pub.Current(); got.Kind != state.KindReady {
		t.Fatalf("state after stream = %+v, want ready", got)
	}
}

func TestShutdownCancelsInFlight(t *testing.T) {
	fake := loadedFake(t, engine.CapabilityLLM)
	fake.StreamFrames = 100
	fake.FrameGap = 10 * time.Millisecond
	c, _ := newCoordinator(t, fake)

	stream := c.ProcessStream(t.Context(), textRequest("req-1", "hello"), engine.CapabilityLLM, "")
	// Wait for the first frame so the request is definitely tracked.
	if _, ok := <-stream.Results(); !ok {
		t.Fatal("stream closed before the first frame")
	}

	c.Shutdown()
	for range stream.Results() {
	}
	waitForActive(t, c, 0)
}
