// internal/core/errors.go
package core

import (
	"errors"
	"fmt"
	"time"
)

// Error represents a structured error with code and optional cause.
type Error struct {
	Code    string
	Message string
	Cause   error

	// RetryAfter is an optional server-provided hint for RATE_LIMITED errors.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WrapError creates a new error with the same code but with a cause.
func WrapError(base *Error, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message,
		Cause:   cause,
	}
}

// RateLimited wraps cause as a RATE_LIMITED error carrying an optional retry hint.
func RateLimited(after time.Duration, cause error) *Error {
	e := WrapError(ErrRateLimited, cause)
	e.RetryAfter = after
	return e
}

// RetryAfterHint extracts the retry hint from a RATE_LIMITED error, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.Code == ErrRateLimited.Code && e.RetryAfter > 0 {
		return e.RetryAfter, true
	}
	return 0, false
}

// Predefined errors
var (
	// Data errors
	ErrNoData = &Error{Code: "NO_DATA", Message: "no data available"}

	// Source errors
	ErrRateLimited       = &Error{Code: "RATE_LIMITED", Message: "source rate limit reached"}
	ErrSourceTransient   = &Error{Code: "SOURCE_TRANSIENT", Message: "transient source error"}
	ErrSourcePermanent   = &Error{Code: "SOURCE_PERMANENT", Message: "permanent source error"}
	ErrRetriesExhausted  = &Error{Code: "RETRIES_EXHAUSTED", Message: "retry budget exhausted"}
	ErrCollectorNotFound = &Error{Code: "COLLECTOR_NOT_FOUND", Message: "collector not registered"}

	// Store errors
	ErrStoreFailed = &Error{Code: "STORE_FAILED", Message: "store operation failed"}

	// Config errors
	ErrConfigInvalid = &Error{Code: "CONFIG_INVALID", Message: "configuration invalid"}
	ErrConfigMissing = &Error{Code: "CONFIG_MISSING", Message: "required configuration missing"}
)
