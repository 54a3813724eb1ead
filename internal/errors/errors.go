package errors

import (
	"errors"
	"fmt"
)

// Error codes used across repositories and services.
const (
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeInternal     = "INTERNAL"
)

// Error is a coded application error.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound creates a standard not-found error for a resource.
func NotFound(resource, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %s not found", resource, id)}
}

// InvalidInput creates a standard validation error for a field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeInvalidInput, Message: fmt.Sprintf("%s: %s", field, message)}
}

// Code returns the error code of err, or ErrCodeInternal for uncoded errors.
func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return Code(err) == code
}
