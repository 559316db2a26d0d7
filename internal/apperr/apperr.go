// Package apperr provides the controller's unified error taxonomy. Errors
// stay local to the service that raised them —
// they are never serialized across the shared-state boundary, only
// summarized into alarm or alert documents by the caller.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies one member of the error taxonomy.
type Code string

const (
	// CodeConfig — invalid or missing configuration; recoverable by reload.
	CodeConfig Code = "CONFIG_1001"

	// CodeCommunication — transport failure (timeout, refused, reset, serial
	// closed); recoverable; triggers device-level backoff.
	CodeCommunication Code = "COMM_2001"

	// CodeRegister — device responded with a Modbus exception code, or
	// client-side address validation failed; not retried.
	CodeRegister Code = "REG_2002"

	// CodeWrite — write sent but device rejected it.
	CodeWrite Code = "WRITE_2003"

	// CodeCommandNotTaken — write succeeded but read-back disagrees beyond
	// tolerance; raises a critical operational alarm.
	CodeCommandNotTaken Code = "WRITE_2004"

	// CodeSync — cloud POST/PATCH failed after retries; affected rows stay
	// unsynced.
	CodeSync Code = "SYNC_3001"

	// CodeService — lifecycle failure within a service; visible to the
	// supervisor via health status, never as a propagated exception.
	CodeService Code = "SVC_4001"

	// CodeCircuitOpen — not used for retrying; signals a deliberate stop.
	CodeCircuitOpen Code = "SVC_4002"
)

// Error is a structured error carrying a taxonomy code, a human message, an
// optional wrapped cause, and free-form details used when the error is
// rendered into an alarm or alert document.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetail attaches a detail key/value pair and returns the receiver for
// chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an Error that wraps an underlying cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Is reports whether err carries the given taxonomy code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Retryable reports whether the taxonomy code represents a transient
// condition worth retrying. Register-class and command-not-taken errors are
// specific-device faults and are deliberately excluded:
// exception-code and address-validation errors are not retried.
func Retryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Code {
	case CodeCommunication, CodeSync:
		return true
	default:
		return false
	}
}
