// Package apperr defines the error taxonomy used across the runtime
// (spec.md §7 "Taxonomy") so HTTP handlers and pipeline stages can classify
// a failure without string-matching error messages.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is one of the seven error classes spec.md §7 names.
type Code string

const (
	InvalidInput    Code = "invalid_input"
	Unauthorized    Code = "unauthorized"
	NotFound        Code = "not_found"
	Rejected        Code = "rejected"
	Unavailable     Code = "unavailable"
	UpstreamFailure Code = "upstream_failure"
	Internal        Code = "internal"
)

// HTTPStatus maps a Code to the status code spec.md §7 assigns it.
func (c Code) HTTPStatus() int {
	switch c {
	case InvalidInput:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case Rejected:
		return http.StatusTooManyRequests
	case Unavailable:
		return http.StatusServiceUnavailable
	case UpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified application error.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a classified error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap classifies an underlying error.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the Code of err, defaulting to Internal if err isn't (or
// doesn't wrap) an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}
