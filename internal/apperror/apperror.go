// Package apperror defines the application's error taxonomy.
//
// Every error a service returns to a handler is either one of the typed
// *AppError values below (a user-correctable problem with a human-readable
// message) or a plain wrapped error (a remote/store failure). Handlers map
// the sentinels to HTTP status codes; everything else becomes a generic 500.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("Validation Error")
	ErrConflict          = errors.New("conflict")
	ErrForbidden         = errors.New("forbidden")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrPartial           = errors.New("partial failure")
	ErrRemote            = errors.New("remote failure")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
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

// Unauthorized is returned when an operation needs a signed-in principal
// and there is none. HTTP handlers map this to 401.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// InvalidCredential is the login-path error for an unknown email or a wrong
// password. The two cases are deliberately indistinguishable to the caller.
func InvalidCredential() *AppError {
	return &AppError{
		Err:     ErrInvalidCredential,
		Message: "invalid email or password",
	}
}

// Partial reports that a multi-step write applied some steps and could not
// undo them. Cause is kept in the chain for logging.
func Partial(message string, cause error) *AppError {
	return &AppError{
		Err:     errors.Join(ErrPartial, cause),
		Message: message,
	}
}

// Remote wraps a store, upload or provider failure with the generic message
// the caller is allowed to see. The cause is only for logs.
func Remote(message string, cause error) *AppError {
	return &AppError{
		Err:     errors.Join(ErrRemote, cause),
		Message: message,
	}
}
