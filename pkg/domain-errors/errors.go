// Package derrors defines the domain error taxonomy. Services return these;
// the HTTP layer maps each code onto a status, so transport never inspects
// error strings.
package derrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain failure.
type Code string

const (
	// CodeInvalidInput marks malformed or missing caller input.
	CodeInvalidInput Code = "invalid_input"
	// CodeUnauthorized marks a caller lacking the role or verification the
	// operation requires.
	CodeUnauthorized Code = "unauthorized"
	// CodeNotFound marks a reference to an entity that does not exist.
	CodeNotFound Code = "not_found"
	// CodeInvalidState marks an operation against an entity in the wrong
	// lifecycle state, terminal states included.
	CodeInvalidState Code = "invalid_state"
	// CodeConflict marks a lost concurrency race: a version mismatch after
	// retries, or a uniqueness rule such as one transfer per parcel.
	CodeConflict Code = "conflict"
	// CodeDuplicate marks a violated idempotency key, such as a second vote
	// from the same voter.
	CodeDuplicate Code = "duplicate"
	// CodeExpired marks a deadline already passed.
	CodeExpired Code = "expired"
	// CodeInternal marks infrastructure failure.
	CodeInternal Code = "internal"
)

// Error is a coded domain error. Detail optionally carries a machine-usable
// hint, such as the entity's current state.
type Error struct {
	Code    Code
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetail returns a copy carrying the detail hint.
func (e *Error) WithDetail(detail string) *Error {
	c := *e
	c.Detail = detail
	return &c
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the code from err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var de *Error
	return errors.As(err, &de) && de.Code == code
}

// Retryable reports whether the caller may reasonably retry the operation.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeConflict, CodeInternal:
		return true
	default:
		return false
	}
}
