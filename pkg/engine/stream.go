package engine

import (
	"context"
	"fmt"
	"sync"
)

// Stream is a lazy, finite sequence of results. Producers emit with Send,
// which blocks until the consumer is ready (or the context is cancelled),
// so cancellation is observed at every emission boundary. A well-formed
// stream emits zero or more partial results followed by exactly one
// terminal result and is then closed.
type Stream struct {
	ch        chan Result
	closeOnce sync.Once
}

// NewStream creates an unbuffered stream.
func NewStream() *Stream {
	return &Stream{ch: make(chan Result)}
}

// Results returns the consumer side of the stream. The channel is closed
// after the terminal result (or after cancellation, without one).
func (s *Stream) Results() <-chan Result {
	return s.ch
}

// Send emits one result. It returns false when ctx was cancelled before
// the consumer accepted the result; producers must stop emitting and close
// the stream when that happens.
func (s *Stream) Send(ctx context.Context, r Result) bool {
	select {
	case s.ch <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close releases the consumer. Safe to call more than once.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.ch)
	})
}

// SingleResultStream returns an already-produced stream carrying exactly r.
// It is used for one-shot fallbacks on streaming paths.
func SingleResultStream(r Result) *Stream {
	s := &Stream{ch: make(chan Result, 1)}
	s.ch <- r
	s.Close()
	return s
}

// Produce runs fn on a new goroutine with a stream it may emit to, and
// closes the stream when fn returns. It is the canonical way for runners
// to implement their streaming mode. A panic inside fn is converted into a
// terminal E101 result instead of crashing the process.
func Produce(ctx context.Context, fn func(ctx context.Context, s *Stream)) *Stream {
	s := NewStream()
	go func() {
		defer s.Close()
		defer func() {
			if r := recover(); r != nil {
				s.Send(ctx, ErrorResultFor(CodeRuntime, fmt.Sprintf("runner fault: %v", r)))
			}
		}()
		fn(ctx, s)
	}()
	return s
}
