// Package domainerrors carries typed, code-bearing errors across service
// boundaries. Stores return sentinels; services translate them into these.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error for callers and transports.
type Code string

const (
	CodeValidation   Code = "validation_error"
	CodeBadRequest   Code = "bad_request"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeUnauthorized Code = "unauthorized"
	CodeTimeout      Code = "timeout"
	CodeUnavailable  Code = "unavailable"
	CodeAlignment    Code = "alignment_failure"
	CodeUpstream     Code = "upstream_error"
	CodeInvalidState Code = "invalid_state"
	CodeInternal     Code = "internal_error"
)

// Error is a domain error with a stable code and a caller-safe message.
// Err holds the underlying cause and is never rendered to clients.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an error with no underlying cause.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and safe message to err. A nil err yields nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether any error in err's chain carries code.
func HasCode(err error, code Code) bool {
	var de *Error
	for err != nil {
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// CodeOf returns the outermost domain code, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the outermost caller-safe message.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}
