// Package failure defines the error taxonomy shared by every mutating
// operation. Errors carry a machine-readable Code plus a human-readable
// message that is safe to show to the caller.
package failure

import (
	"errors"
	"net/http"
)

// Code is a machine-readable failure code.
type Code string

const (
	CodeUnknown             Code = "UNKNOWN"
	CodeUnauthenticated     Code = "UNAUTHENTICATED"
	CodeNotFound            Code = "NOT_FOUND"
	CodeInvalidState        Code = "INVALID_STATE"
	CodeForbidden           Code = "FORBIDDEN"
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeAlreadyTerminal     Code = "ALREADY_TERMINAL"
	CodeStorage             Code = "STORAGE_ERROR"
	CodeInsufficientPlayers Code = "INSUFFICIENT_PLAYERS"
	CodeAlreadyStarted      Code = "ALREADY_STARTED"
)

// HTTPStatus maps a code to the status the HTTP layer answers with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidState, CodeInsufficientPlayers, CodeAlreadyStarted:
		return http.StatusConflict
	case CodeForbidden:
		return http.StatusForbidden
	case CodeValidation:
		return http.StatusBadRequest
	case CodeAlreadyTerminal:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// Error is a structured failure.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a failure with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a failure that keeps the underlying cause for logs.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeUnknown
}

// MessageOf returns the caller-facing message for err. The cause of a
// wrapped failure is left out, it belongs in logs.
func MessageOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return "internal error"
}
