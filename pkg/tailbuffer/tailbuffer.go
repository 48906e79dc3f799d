// Package tailbuffer provides a fixed-size ring buffer that retains the
// tail of everything written to it. Runner subprocess stderr is piped
// through one so load failures can report the last lines of output.
package tailbuffer

import (
	"io"
	"strings"
	"sync"
)

// TailBuffer keeps the last capacity bytes written. The zero value is not
// usable; create one with New.
type TailBuffer struct {
	mu      sync.Mutex
	buf     []byte
	start   int
	length  int
	wrapped bool
}

// New creates a tail buffer retaining capacity bytes.
func New(capacity int) *TailBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &TailBuffer{buf: make([]byte, capacity)}
}

// Write implements io.Writer.Write. Writes never fail; older bytes are
// discarded once the capacity is exceeded.
func (t *TailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	if n >= len(t.buf) {
		copy(t.buf, p[n-len(t.buf):])
		t.start = 0
		t.length = len(t.buf)
		return n, nil
	}

	end := (t.start + t.length) % len(t.buf)
	for _, b := range p {
		t.buf[end] = b
		end = (end + 1) % len(t.buf)
		if t.length < len(t.buf) {
			t.length++
		} else {
			t.start = (t.start + 1) % len(t.buf)
		}
	}
	return n, nil
}

// Bytes returns a copy of the retained tail.
func (t *TailBuffer) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]byte, t.length)
	for i := 0; i < t.length; i++ {
		out[i] = t.buf[(t.start+i)%len(t.buf)]
	}
	return out
}

// String returns the retained tail with surrounding whitespace trimmed.
func (t *TailBuffer) String() string {
	return strings.TrimSpace(string(t.Bytes()))
}

var _ io.Writer = (*TailBuffer)(nil)
