// Package errs is Overseer's error taxonomy (spec.md §6, §7), ported
// from the per-domain enums in
// original_source/crates/os-core/src/error.rs into a single Go error
// type carrying a stable Code so every transport (CLI, HTTP, broker)
// maps it the same way.
package errs

import (
	"errors"
	"fmt"
)

// Code is the wire-visible error code, mapped onto HTTP status by
// external transports per spec.md §6.
type Code string

const (
	InvalidInput       Code = "invalid_input"
	Unauthorized       Code = "unauthorized"
	NotFound           Code = "not_found"
	Conflict           Code = "conflict"
	PreconditionFailed Code = "precondition_failed"
	InvalidState       Code = "invalid_state"
	Internal           Code = "internal_error"
)

// Error is Overseer's uniform domain error. Message identifies the
// offended invariant in domain terms and never leaks internal
// identifiers beyond the entity IDs actually involved (spec.md §7).
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf extracts the Code from err if it (or something it wraps) is an
// *Error, defaulting to Internal for anything else -- matching spec.md
// §7's "Fatal (abort process)" framing for unrecognized failures.
func CodeOf(err error) Code {
	var e *Error
	if err == nil {
		return ""
	}
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}
