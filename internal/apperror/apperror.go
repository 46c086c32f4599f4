// Package apperror defines the error taxonomy shared by every layer.
//
// Each kind is a sentinel error; AppError wraps a sentinel together with a
// human-readable message, so callers test the kind with errors.Is and read
// the message with errors.As. Handlers are the only place that turn a kind
// into an HTTP status.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("conflict")
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUnavailable     = errors.New("store unavailable")
	ErrUpstream        = errors.New("upstream failure")
)

// AppError pairs a kind with the message shown to clients. Cause is for
// logs only and never reaches a response.
type AppError struct {
	Err     error
	Message string
	// Field names the offending input for validation errors, or the store
	// operation for StoreFailure.
	Field string
	Cause error
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the low-level cause, so errors.Is
// matches either of them.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthenticated means a write was attempted without a resolved identity.
func Unauthenticated() *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: "sign in to continue",
	}
}

// StoreFailure wraps any I/O failure from the document store. The message is
// deliberately generic; the cause is kept for logging.
func StoreFailure(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrUnavailable,
		Message: "the snippet store is unavailable, please try again",
		Field:   op,
		Cause:   cause,
	}
}

// Upstream wraps a failure of the explanation provider.
func Upstream(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrUpstream,
		Message: message,
		Cause:   cause,
	}
}
