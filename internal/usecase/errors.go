package usecase

import (
	"errors"
	"fmt"

	"voicedraft/internal/domain"
	"voicedraft/internal/genai"
)

// Error is a typed orchestration failure. Code places the failure in the
// pipeline; Reason is the human-readable message surfaced to the UI.
type Error struct {
	Code   domain.ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code domain.ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// wrapGeneration lifts a generation failure into an orchestration error,
// preserving the generation layer's code when it carries one.
func wrapGeneration(reason string, err error) *Error {
	if code, ok := genai.CodeOf(err); ok {
		return newError(code, reason, err)
	}
	return newError(domain.ErrorCodeTransport, reason, err)
}

// CodeOf extracts the orchestration error code, if err carries one.
func CodeOf(err error) (domain.ErrorCode, bool) {
	var ucErr *Error
	if errors.As(err, &ucErr) {
		return ucErr.Code, true
	}
	return genai.CodeOf(err)
}
