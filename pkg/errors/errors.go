// Package errors provides the structured error system for Petrel's buffer and
// cache subsystem, with error codes and categories.
package errors

import (
	"fmt"
	"strings"
)

// ErrorCode represents a structured error code for buffer/cache operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig ErrorCode = "MISSING_CONFIG"

	// Memory pool errors
	ErrCodeInvalidHandle ErrorCode = "INVALID_HANDLE"
	ErrCodePoolExhausted ErrorCode = "POOL_EXHAUSTED"
	ErrCodePoolSize      ErrorCode = "POOL_SIZE"

	// Cache backend errors
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrCodeBackendTimeout     ErrorCode = "BACKEND_TIMEOUT"
	ErrCodeBackendProtocol    ErrorCode = "BACKEND_PROTOCOL"
	ErrCodeBackendClosed      ErrorCode = "BACKEND_CLOSED"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryPool          ErrorCategory = "pool"
	CategoryBackend       ErrorCategory = "backend"
	CategoryInternal      ErrorCategory = "internal"
)

// Error represents a structured error with a code, category and optional cause.
type Error struct {
	Code      ErrorCode     `json:"code"`
	Category  ErrorCategory `json:"category"`
	Message   string        `json:"message"`
	Component string        `json:"component,omitempty"`
	Cause     error         `json:"-"`

	// Retryable hints whether the caller may reasonably try again. Pool and
	// configuration errors are caller bugs and never retryable; backend
	// errors are transient by nature but are absorbed by the circuit
	// breaker rather than retried.
	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error wrapping compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	if other, ok := target.(*Error); ok {
		return e.Code == other.Code
	}
	return false
}

// New creates a new structured error.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Category:  categoryOf(code),
		Message:   message,
		Retryable: retryableOf(code),
	}
}

// Newf creates a new structured error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new structured error wrapping a cause.
func Wrap(cause error, code ErrorCode, message string) *Error {
	err := New(code, message)
	err.Cause = cause
	return err
}

// WithComponent annotates the error with the component that produced it.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if structured, ok := err.(*Error); ok && structured.Code == code {
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// categoryOf determines the category based on the error code.
func categoryOf(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "CONFIG"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "POOL_") || codeStr == string(ErrCodeInvalidHandle):
		return CategoryPool
	case strings.HasPrefix(codeStr, "BACKEND_"):
		return CategoryBackend
	default:
		return CategoryInternal
	}
}

// retryableOf determines whether an error code is retryable by default.
func retryableOf(code ErrorCode) bool {
	switch code {
	case ErrCodeBackendUnavailable, ErrCodeBackendTimeout:
		return true
	default:
		return false
	}
}
