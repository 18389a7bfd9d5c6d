// Package models defines the error kinds shared by every store in the module.
package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode identifies the kind of a StoreError.
type ErrorCode string

const (
	// ErrorCodeLockTimeout is returned when an advisory lock is not acquired in time.
	ErrorCodeLockTimeout ErrorCode = "LOCK_TIMEOUT"
	// ErrorCodeMalformed is returned when stored data exists but cannot be parsed.
	ErrorCodeMalformed ErrorCode = "MALFORMED_STORED_DATA"
	// ErrorCodeValidationFailed is returned when caller input fails validation.
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	// ErrorCodeMissingField is returned when a required field or column is missing.
	ErrorCodeMissingField ErrorCode = "MISSING_FIELD"
)

// Sentinels for errors.Is. A StoreError matches the sentinel of its kind.
var (
	ErrLockTimeout = errors.New("lock timeout")
	ErrMalformed   = errors.New("malformed stored data")
	ErrValidation  = errors.New("validation failed")
)

// StoreError is a concrete error type with a code, a message and optional details.
type StoreError struct {
	code       ErrorCode
	message    string
	details    map[string]any
	wrappedErr error
}

// NewStoreError creates a new StoreError.
func NewStoreError(code ErrorCode, message string) *StoreError {
	return &StoreError{
		code:    code,
		message: message,
		details: make(map[string]any),
	}
}

// WithDetail adds a single detail to the error.
func (e *StoreError) WithDetail(key string, value any) *StoreError {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap wraps an underlying error.
func (e *StoreError) Wrap(err error) *StoreError {
	e.wrappedErr = err
	return e
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrappedErr)
	}
	return e.message
}

// Code returns the error code.
func (e *StoreError) Code() ErrorCode {
	return e.code
}

// Details returns additional error details.
func (e *StoreError) Details() map[string]any {
	return e.details
}

// Unwrap returns the wrapped error if any.
func (e *StoreError) Unwrap() error {
	return e.wrappedErr
}

// Is reports whether target is the sentinel for this error's kind.
func (e *StoreError) Is(target error) bool {
	switch target {
	case ErrLockTimeout:
		return e.code == ErrorCodeLockTimeout
	case ErrMalformed:
		return e.code == ErrorCodeMalformed
	case ErrValidation:
		return e.code == ErrorCodeValidationFailed || e.code == ErrorCodeMissingField
	}
	return false
}

// LockTimeout creates the error returned when resource could not be locked within waited.
func LockTimeout(resource string, waited time.Duration) *StoreError {
	return NewStoreError(ErrorCodeLockTimeout, fmt.Sprintf("timed out after %s waiting for lock %s", waited, resource)).
		WithDetail("resource", resource).
		WithDetail("waited", waited)
}

// Malformed creates the error for a stored file that cannot be parsed.
func Malformed(path string, err error) *StoreError {
	return NewStoreError(ErrorCodeMalformed, fmt.Sprintf("malformed stored data in %s", path)).
		WithDetail("path", path).
		Wrap(err)
}

// Validation creates a validation error.
func Validation(message string) *StoreError {
	return NewStoreError(ErrorCodeValidationFailed, message)
}

// MissingField creates a validation error for a missing field.
func MissingField(fieldName string) *StoreError {
	return NewStoreError(ErrorCodeMissingField, fmt.Sprintf("missing required field: %s", fieldName)).
		WithDetail("field", fieldName)
}

// IsLockTimeout reports whether err is, or wraps, a lock timeout.
func IsLockTimeout(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}
