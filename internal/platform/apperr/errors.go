// Package apperr defines the error taxonomy shared by the HTTP surface and the
// services behind it. Every error that reaches a handler is resolved to an
// *AppError so the response body is always a parseable JSON envelope.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("resource not found")
	ErrConflict         = errors.New("conflict")
	ErrUpstream         = errors.New("upstream model error")
	ErrDiagnosticFormat = errors.New("diagnostic format error")
	ErrPersistence      = errors.New("persistence error")
	ErrUnavailable      = errors.New("service unavailable")
	ErrInternal         = errors.New("internal error")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	HTTPStatus int               `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Validation reports a malformed inbound request. Never retried.
func Validation(message string, details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Message:    message,
		Code:       "VALIDATION_ERROR",
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

// NotFound creates a not found error
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Code:       "NOT_FOUND",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]string{"resource": resource, "id": id},
	}
}

// Conflict reports an operation that is not allowed in the current state.
func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Message:    message,
		Code:       "CONFLICT",
		HTTPStatus: http.StatusConflict,
	}
}

// Persistence wraps a datastore failure.
func Persistence(err error, message string) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %w", ErrPersistence, err),
		Message:    message,
		Code:       "PERSISTENCE_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// DiagnosticFormat reports model output that could not be coerced into a
// diagnostic record. cause may be nil.
func DiagnosticFormat(message string, cause error) *AppError {
	err := ErrDiagnosticFormat
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrDiagnosticFormat, cause)
	}
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "DIAGNOSTIC_FORMAT_ERROR",
		HTTPStatus: http.StatusBadGateway,
	}
}

// Unavailable reports an optional collaborator that is not configured.
func Unavailable(message string) *AppError {
	return &AppError{
		Err:        ErrUnavailable,
		Message:    message,
		Code:       "SERVICE_UNAVAILABLE",
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// Busy reports a request that gave up waiting for a resource held by
// another request. cause is kept for errors.Is.
func Busy(message string, cause error) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %w", ErrUnavailable, cause),
		Message:    message,
		Code:       "BUSY",
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// Internal creates an internal error
func Internal(err error) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %w", ErrInternal, err),
		Message:    "internal server error",
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// As resolves err to an *AppError. Upstream failures that escape a service
// become 502s; anything unrecognised is an internal error.
func As(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, ErrUpstream) {
		return &AppError{
			Err:        err,
			Message:    "model provider unavailable",
			Code:       "UPSTREAM_ERROR",
			HTTPStatus: http.StatusBadGateway,
		}
	}
	return Internal(err)
}

// IsModelFailure reports whether err is recoverable by degrading the response:
// a provider error, a timeout/cancellation of the provider call, or
// unparseable model output.
func IsModelFailure(err error) bool {
	return errors.Is(err, ErrUpstream) || errors.Is(err, ErrDiagnosticFormat)
}
