package genai

import (
	"errors"
	"fmt"

	"voicedraft/internal/domain"
)

// Error is a typed generation failure carrying the upstream message.
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
		return fmt.Sprintf("genai: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("genai: %s (%s): %v", e.Code, e.Reason, e.Err)
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

// CodeOf extracts the generation error code, if err is a generation failure.
func CodeOf(err error) (domain.ErrorCode, bool) {
	var genErr *Error
	if !errors.As(err, &genErr) {
		return "", false
	}
	return genErr.Code, true
}
