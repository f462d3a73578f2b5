// Package domainerrors provides coded errors that carry the failure taxonomy
// callers must distinguish. Services build these from validator results and
// store sentinels; the HTTP layer maps codes to status lines.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code classifies an error for callers. Codes are stable API; messages are
// human-readable and may change.
type Code string

const (
	// CodeBadRequest covers missing or malformed required fields, rejected
	// before any lock or ledger scan.
	CodeBadRequest Code = "bad_request"
	// CodeValidation covers business-rule rejections: amount out of bounds,
	// receipt already used, ineligible student, same-day duplicate. Never
	// retried automatically.
	CodeValidation Code = "validation_failed"
	// CodeBusy means a lock could not be acquired within the retry budget.
	// The request itself may be valid; callers should retry with backoff.
	CodeBusy Code = "busy"
	// CodePersistence means the ledger write failed after validation passed.
	// No partial write occurred; callers should retry.
	CodePersistence Code = "persistence_error"

	CodeNotFound     Code = "not_found"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeConflict     Code = "conflict"
	CodeInternal     Code = "internal_error"
)

// Error is a coded error. Message is safe to show to API callers except for
// CodeInternal, which httputil redacts.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a coded error with a caller-facing message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds a coded error that keeps the cause for logs and errors.Is.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeFrom extracts the code from an error chain, defaulting to CodeInternal.
func CodeFrom(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageFrom extracts the caller-facing message, empty when the error is not
// a coded error.
func MessageFrom(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ""
}

// ToHTTPStatus maps a code to the HTTP status the transport layer should use.
func ToHTTPStatus(err error) int {
	switch CodeFrom(err) {
	case CodeBadRequest, CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeConflict:
		return http.StatusConflict
	case CodeBusy:
		return http.StatusServiceUnavailable
	case CodePersistence:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
