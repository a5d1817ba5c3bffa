// Package errors defines the error type rendered in API envelopes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a client-facing error. Code is the stable machine identifier,
// Field names the offending request field when there is one, and Internal
// carries the cause for logs only.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	switch {
	case e == nil:
		return "<nil>"
	case e.Internal != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	default:
		return e.Message
	}
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is reports whether target carries the same code, so derived copies still
// match their sentinel.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if e == nil || !errors.As(target, &other) || other == nil {
		return false
	}
	return e.Code == other.Code
}

// WithInternal returns a copy with the cause attached.
func (e *AppError) WithInternal(err error) *AppError {
	return e.derive(func(cpy *AppError) { cpy.Internal = err })
}

// WithField returns a copy scoped to a request field.
func (e *AppError) WithField(field string) *AppError {
	return e.derive(func(cpy *AppError) { cpy.Field = field })
}

// WithMessage returns a copy with a different client message.
func (e *AppError) WithMessage(message string) *AppError {
	return e.derive(func(cpy *AppError) { cpy.Message = message })
}

func (e *AppError) derive(apply func(*AppError)) *AppError {
	if e == nil {
		return nil
	}
	cpy := *e
	apply(&cpy)
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	ErrUnauthorized       = New("UNAUTHORIZED", "Authentication credentials were not provided", http.StatusUnauthorized)
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", "No active account found with the given credentials", http.StatusUnauthorized)
	ErrForbidden          = New("FORBIDDEN", "You do not have permission to perform this action", http.StatusForbidden)
	ErrNotFound           = New("NOT_FOUND", "Resource not found", http.StatusNotFound)
	ErrBadRequest         = New("BAD_REQUEST", "Invalid request", http.StatusBadRequest)
	ErrConflict           = New("CONFLICT", "Resource already exists", http.StatusConflict)
	ErrInternalServer     = New("INTERNAL_SERVER_ERROR", "Internal server error", http.StatusInternalServerError)
	ErrRateLimit          = New("RATE_LIMIT_EXCEEDED", "Request was throttled", http.StatusTooManyRequests)
)

func New(code, message string, statusCode int) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusCode}
}

// NewField builds an error scoped to a single request field.
func NewField(code, field, message string, statusCode int) *AppError {
	return &AppError{Code: code, Message: message, Field: field, StatusCode: statusCode}
}

// Wrap turns any error into a 500 while keeping the cause for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError returns the AppError inside err, or ErrInternalServer wrapping it.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrInternalServer.WithInternal(err)
}

func NewBadRequest(message string) *AppError {
	return ErrBadRequest.WithMessage(message)
}
