package tailbuffer

import (
	"fmt"
	"io"
	"testing"
)

func TestWriteUnderCapacity(t *testing.T) {
	tb := New(16)
	n, err := tb.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("Write = (%d, %v)", n, err)
	}
	if got := tb.String(); got != "hello" {
		t.Errorf("String = %q", got)
	}
}

func TestWriteWrapsKeepingTail(t *testing.T) {
	tb := New(8)
	for _, s := range []string{"abcd", "efgh", "ijkl"} {
		if _, err := tb.Write([]byte(s)); err != nil {
			t.Fatalf("Write(%q): %v", s, err)
		}
	}
	if got := string(tb.Bytes()); got != "efghijkl" {
		t.Errorf("Bytes = %q, want efghijkl", got)
	}
}

func TestWriteLargerThanCapacity(t *testing.T) {
	tb := New(4)
	n, err := tb.Write([]byte("0123456789"))
	if err != nil || n != 10 {
		t.Fatalf("Write = (%d, %v)", n, err)
	}
	if got := string(tb.Bytes()); got != "6789" {
		t.Errorf("Bytes = %q, want 6789", got)
	}
}

func TestStringTrimsWhitespace(t *testing.T) {
	tb := New(32)
	fmt.Fprintln(tb, "error: model file corrupt")
	if got := tb.String(); got != "error: model file corrupt" {
		t.Errorf("String = %q", got)
	}
}

func TestZeroCapacityClamped(t *testing.T) {
	tb := New(0)
	if _, err := tb.Write([]byte("xy")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := string(tb.Bytes()); got != "y" {
		t.Errorf("Bytes = %q, want y", got)
	}
}

func TestCopySemantics(t *testing.T) {
	tb := New(8)
	_, _ = io.WriteString(tb, "abc")
	b := tb.Bytes()
	b[0] = 'z'
	if got := tb.String(); got != "abc" {
		t.Errorf("Bytes aliases the internal buffer; String = %q", got)
	}
}
