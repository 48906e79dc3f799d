package engine

import (
	"context"
	"testing"
	"time"
)

func TestStreamTermination(t *testing.T) {
	ctx := context.Background()
	stream := Produce(ctx, func(ctx context.Context, s *Stream) {
		for i := 0; i < 3; i++ {
			if !s.Send(ctx, PartialTextResult("chunk", nil)) {
				return
			}
		}
		s.Send(ctx, TextResult("done", nil))
	})

	var results []Result
	for r := range stream.Results() {
		results = append(results, r)
	}

	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
	for i, r := range results[:3] {
		if !r.Partial {
			t.Errorf("result %d should be partial", i)
		}
		if r.IsError() {
			t.Errorf("partial result %d carries an error", i)
		}
	}
	terminal := results[3]
	if terminal.Partial {
		t.Error("terminal result must not be partial")
	}
}

func TestProduceRecoversPanics(t *testing.T) {
	stream := Produce(context.Background(), func(ctx context.Context, s *Stream) {
		s.Send(ctx, PartialTextResult("before the fault", nil))
		panic("tensor shape mismatch")
	})

	var results []Result
	for r := range stream.Results() {
		results = append(results, r)
	}

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	terminal := results[1]
	if terminal.Partial {
		t.Error("fault result must be terminal")
	}
	if !terminal.IsError() || terminal.Error.Code != CodeRuntime {
		t.Errorf("fault result error = %+v, want %s", terminal.Error, CodeRuntime)
	}
	if !terminal.Error.Recoverable {
		t.Error("runtime faults are recoverable")
	}
}

func TestStreamSendObservesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewStream()
	cancel()

	// No consumer is reading; a cancelled context must unblock Send.
	done := make(chan bool, 1)
	go func() {
		done <- s.Send(ctx, TextResult("never delivered", nil))
	}()

	select {
	case ok := <-done:
		if ok {
			t.Error("Send should report failure after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("Send did not observe cancellation")
	}
}

func TestSingleResultStream(t *testing.T) {
	r := ErrorResultFor(CodeModeUnsupported, "streaming not supported")
	s := SingleResultStream(r)

	got, ok := <-s.Results()
	if !ok {
		t.Fatal("expected one result")
	}
	if got.Error == nil || got.Error.Code != CodeModeUnsupported {
		t.Errorf("unexpected result: %+v", got)
	}
	if _, ok := <-s.Results(); ok {
		t.Error("expected the stream to be closed after its single result")
	}
}

func TestStreamCloseIdempotent(t *testing.T) {
	s := NewStream()
	s.Close()
	s.Close() // must not panic
}

func TestErrorResultIsTerminal(t *testing.T) {
	r := ErrorResult(NewError(CodeRuntime, "boom"))
	if r.Partial {
		t.Error("error results must never be partial")
	}
	if !r.Terminal() {
		t.Error("error results must be terminal")
	}
}
