// Package errors provides structured error types for pindown.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across the CLI and the resolver
//   - Machine-readable error codes for programmatic handling
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Parse-level codes (INVALID_VERSION, MALFORMED_REQUIREMENT,
// UNSUPPORTED_MARKER) indicate malformed input and abort a run immediately.
// Network-level codes (PROJECT_NOT_FOUND, INDEX_UNAVAILABLE,
// METADATA_UNAVAILABLE) prune individual candidates or escalate depending on
// context. Solver-level codes (CONFLICT, RESOLUTION_TIMED_OUT) are terminal,
// user-visible outcomes.
//
// # Usage
//
//	err := errors.New(errors.ErrCodeMalformedRequirement, "bad specifier: %s", raw)
//	if errors.Is(err, errors.ErrCodeMalformedRequirement) {
//	    // Handle parse error
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeIndexUnavailable, origErr, "fetching %s", url)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input parse errors. These abort a run immediately.
	ErrCodeInvalidVersion       Code = "INVALID_VERSION"
	ErrCodeMalformedRequirement Code = "MALFORMED_REQUIREMENT"
	ErrCodeUnsupportedMarker    Code = "UNSUPPORTED_MARKER"
	ErrCodeInvalidInput         Code = "INVALID_INPUT"

	// Index and metadata errors. These prune a candidate unless nothing
	// remains for a required project.
	ErrCodeProjectNotFound     Code = "PROJECT_NOT_FOUND"
	ErrCodeIndexUnavailable    Code = "INDEX_UNAVAILABLE"
	ErrCodeMetadataUnavailable Code = "METADATA_UNAVAILABLE"

	// Solver outcomes.
	ErrCodeConflict           Code = "CONFLICT"
	ErrCodeResolutionTimedOut Code = "RESOLUTION_TIMED_OUT"

	// Internal errors.
	ErrCodeInternal Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// As finds the first error in err's chain that matches target. It is the
// standard library's errors.As, re-exported so callers need only one
// errors import.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
