package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorRecoverability(t *testing.T) {
	tests := []struct {
		code        string
		recoverable bool
	}{
		{CodeNotLoaded, true},
		{CodeRuntime, true},
		{CodeInvalidInput, false},
		{CodeRunnerNotFound, false},
		{CodeCapabilityUnsupported, false},
		{CodeModeUnsupported, false},
		{CodeLoadFailed, true},
		{CodeProcessing, false},
	}
	for _, tt := range tests {
		if got := NewError(tt.code, "x").Recoverable; got != tt.recoverable {
			t.Errorf("NewError(%s).Recoverable = %v, want %v", tt.code, got, tt.recoverable)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("socket closed")
	err := WrapError(CodeRuntime, "backend died", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the cause")
	}
	if got := err.Error(); got != "E101: backend died" {
		t.Errorf("Error() = %q", got)
	}
}

func TestErrorfRecordsWrappedCause(t *testing.T) {
	cause := errors.New("no such file")
	err := Errorf(CodeLoadFailed, "open model: %w", cause)
	if !strings.Contains(err.Message, "no such file") {
		t.Errorf("message missing cause text: %q", err.Message)
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the cause")
	}
}

func TestAsEngineError(t *testing.T) {
	if AsEngineError(nil) != nil {
		t.Error("nil error should map to nil")
	}

	typed := NewError(CodeRunnerNotFound, "nope")
	if got := AsEngineError(fmt.Errorf("selecting: %w", typed)); got != typed {
		t.Errorf("expected the wrapped *Error to be extracted, got %v", got)
	}

	plain := errors.New("boom")
	wrapped := AsEngineError(plain)
	if wrapped.Code != CodeRuntime || !wrapped.Recoverable {
		t.Errorf("plain errors should wrap as recoverable E101, got %+v", wrapped)
	}
}

func TestErrorCauseNeverSerialized(t *testing.T) {
	err := WrapError(CodeProcessing, "synthesis failed", errors.New("internal detail"))
	encoded, marshalErr := json.Marshal(err)
	if marshalErr != nil {
		t.Fatalf("marshal: %v", marshalErr)
	}
	if strings.Contains(string(encoded), "internal detail") {
		t.Errorf("cause leaked into serialized error: %s", encoded)
	}
}
