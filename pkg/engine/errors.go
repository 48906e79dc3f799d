package engine

import (
	"errors"
	"fmt"
)

// Stable error codes surfaced to clients. The code ranges are fixed:
// E0xx resource, E1xx runtime, E4xx selection/validation, E5xx load,
// E6xx processing.
const (
	// CodeNotLoaded is returned when a runner is invoked while no model is
	// loaded.
	CodeNotLoaded = "E001"
	// CodeRuntime wraps unclassified faults escaping a runner.
	CodeRuntime = "E101"
	// CodeInvalidInput is returned when a request is missing or mis-typing
	// an input required by the capability.
	CodeInvalidInput = "E401"
	// CodeRunnerNotFound is returned when the preferred or default runner
	// is not registered.
	CodeRunnerNotFound = "E404"
	// CodeCapabilityUnsupported is returned when the selected runner does
	// not implement the requested capability.
	CodeCapabilityUnsupported = "E405"
	// CodeModeUnsupported is returned when streaming is requested from a
	// runner that only implements one-shot processing.
	CodeModeUnsupported = "E406"
	// CodeLoadFailed is returned when the lazy model load fails.
	CodeLoadFailed = "E501"
	// CodeProcessing is the generic code for faults a runner reports while
	// processing a request.
	CodeProcessing = "E600"
)

// Error is the error shape delivered to clients. Cause is retained for
// logging only and is never serialized.
type Error struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
	Cause       error  `json:"-"`
}

// NewError creates an Error with the recoverability implied by its code.
// Processing errors (E6xx) default to non-recoverable; use the Recoverable
// field directly when a runner knows better.
func NewError(code, message string) *Error {
	return &Error{
		Code:        code,
		Message:     message,
		Recoverable: codeRecoverable(code),
	}
}

// Errorf creates an Error with a formatted message. A trailing %w-wrapped
// error argument is also recorded as the cause.
func Errorf(code, format string, args ...interface{}) *Error {
	err := fmt.Errorf(format, args...)
	e := NewError(code, err.Error())
	e.Cause = errors.Unwrap(err)
	return e
}

// WrapError creates an Error recording cause for logging. The client-facing
// message does not include the cause text.
func WrapError(code, message string, cause error) *Error {
	e := NewError(code, message)
	e.Cause = cause
	return e
}

// Error implements error.Error.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements the anonymous interface consumed by errors.Is and
// errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// AsEngineError extracts an *Error from err's chain, wrapping ordinary
// errors as E101 runtime faults. A nil err yields nil.
func AsEngineError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return WrapError(CodeRuntime, err.Error(), err)
}

func codeRecoverable(code string) bool {
	switch code {
	case CodeNotLoaded, CodeRuntime, CodeLoadFailed:
		return true
	default:
		return false
	}
}
