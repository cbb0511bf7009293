// Package apperr defines the error taxonomy shared by every layer.
//
// Stores and services wrap one of the sentinels below with fmt.Errorf("...: %w")
// and the HTTP layer maps them to status codes with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks missing or malformed client input.
	ErrValidation = errors.New("validation error")
	// ErrConflict marks a duplicate identity or a state that would break an invariant.
	ErrConflict = errors.New("conflict")
	// ErrNotFound marks an unknown identity, case, screenshot or blob.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCode marks a wrong, expired or already consumed one-time code.
	ErrInvalidCode = errors.New("invalid or expired code")
	// ErrInvalidCredential marks an unknown email or wrong password.
	ErrInvalidCredential = errors.New("invalid credentials")
	// ErrPendingApproval marks an account that exists but is not trusted yet.
	ErrPendingApproval = errors.New("account pending approval")
	// ErrUnauthorized marks a missing, invalid or expired session token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden marks an authenticated caller acting outside its scope.
	ErrForbidden = errors.New("forbidden")
	// ErrStorageUnavailable marks a database failure.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrUpstream marks a blob store or notification transport failure.
	ErrUpstream = errors.New("upstream service error")
)

// Validation returns an ErrValidation carrying a client-facing message.
func Validation(format string, args ...any) error {
	return &Error{kind: ErrValidation, msg: fmt.Sprintf(format, args...)}
}

// Conflict returns an ErrConflict carrying a client-facing message.
func Conflict(format string, args ...any) error {
	return &Error{kind: ErrConflict, msg: fmt.Sprintf(format, args...)}
}

// NotFound returns an ErrNotFound carrying a client-facing message.
func NotFound(format string, args ...any) error {
	return &Error{kind: ErrNotFound, msg: fmt.Sprintf(format, args...)}
}

// Error is a sentinel kind plus a message that is safe to show to clients.
type Error struct {
	kind error
	msg  string
}

func (e *Error) Error() string { return e.kind.Error() + ": " + e.msg }

func (e *Error) Unwrap() error { return e.kind }

// Message returns the client-facing part of the error.
func (e *Error) Message() string { return e.msg }

// PublicMessage returns the client-facing message of err if it carries one,
// otherwise fallback.
func PublicMessage(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) {
		return e.msg
	}
	return fallback
}
