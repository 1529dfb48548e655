// Package domainerrors provides coded errors for the API-facing error
// taxonomy. Stores return sentinel errors (pkg/platform/sentinel) for
// infrastructure facts; services translate those into coded errors here so the
// court-facing surface can render specific, legally meaningful messages.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies a category of domain error. The string value doubles as the
// machine-readable error code in HTTP responses.
type Code string

const (
	// CodeValidation rejects malformed input before any write. Example:
	// obligation shares not summing to the total amount.
	CodeValidation Code = "validation_error"

	// CodeInvalidInput rejects values that fail parsing at a trust boundary
	// (bad UUIDs, unknown enum values).
	CodeInvalidInput Code = "invalid_input"

	// CodeInvariantViolation marks a domain invariant breach detected by a
	// model constructor or transition guard. Services convert it to
	// CodeValidation when it originates from caller input.
	CodeInvariantViolation Code = "invariant_violation"

	// CodeInvalidTransition rejects an illegal obligation state change, such
	// as funding a cancelled obligation. No side effects occur.
	CodeInvalidTransition Code = "invalid_transition"

	// CodeOverfund rejects a funding amount that would exceed the
	// obligation's remaining balance.
	CodeOverfund Code = "overfund"

	// CodeConflict signals a lost-update race (optimistic version mismatch)
	// or a uniqueness collision. The caller decides whether to retry; nothing
	// here retries a financial write silently.
	CodeConflict Code = "conflict"

	// CodeIntegrity signals that a replayed balance disagrees with a stored
	// running balance. Fatal to trust in the ledger for that case; surfaced
	// to the audit channel, never swallowed.
	CodeIntegrity Code = "integrity_divergence"

	// CodeExpired rejects an operation on an expired resource, e.g.
	// downloading an expired report. The record remains retrievable.
	CodeExpired Code = "expired"

	// CodeUnauthorized rejects a request carrying a missing, invalid, or
	// expired bearer token.
	CodeUnauthorized Code = "unauthorized"

	CodeNotFound   Code = "not_found"
	CodeBadRequest Code = "bad_request"
	CodeTimeout    Code = "timeout"
	CodeInternal   Code = "internal_error"
)

// Error carries a code, a human-readable message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New builds a coded error with no underlying cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err returns
// nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
		de = nil
	}
	return false
}

// CodeOf returns the outermost code in the chain, or CodeInternal when the
// error carries no code.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the outermost coded message, or an empty string.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}
