package types

import (
	"errors"
	"fmt"
)

// Code is the machine-readable failure class shared by the remote store,
// metadata provider, and reconciliation engine.
type Code string

const (
	CodeNotFound      Code = "NOT_FOUND"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeRateLimited   Code = "RATE_LIMITED"
	CodeQuotaExceeded Code = "QUOTA_EXCEEDED"
	CodeNetwork       Code = "NETWORK"
	CodeMalformed     Code = "MALFORMED"
	CodeAlreadyExists Code = "ALREADY_EXISTS"
	CodeValidation    Code = "VALIDATION"
	CodeNotConfigured Code = "NOT_CONFIGURED"
	CodeBusy          Code = "BUSY"
)

// Error carries a Code plus the operation that produced it.
type Error struct {
	Code    Code
	Op      string
	Message string
	cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for use with errors.Is.
var (
	ErrNotFound      = &Error{Code: CodeNotFound, Message: "not found"}
	ErrUnauthorized  = &Error{Code: CodeUnauthorized, Message: "credential rejected"}
	ErrRateLimited   = &Error{Code: CodeRateLimited, Message: "rate limited"}
	ErrQuotaExceeded = &Error{Code: CodeQuotaExceeded, Message: "quota exceeded"}
	ErrNetwork       = &Error{Code: CodeNetwork, Message: "network failure"}
	ErrMalformed     = &Error{Code: CodeMalformed, Message: "malformed data"}
	ErrAlreadyExists = &Error{Code: CodeAlreadyExists, Message: "already exists"}
	ErrValidation    = &Error{Code: CodeValidation, Message: "validation failed"}
	ErrNotConfigured = &Error{Code: CodeNotConfigured, Message: "remote document not configured"}
	ErrSyncInFlight  = &Error{Code: CodeBusy, Message: "sync already in flight"}
)

// NewError builds an Error for op with the given code, message and cause.
func NewError(code Code, op, message string, cause error) *Error {
	return &Error{Code: code, Op: op, Message: message, cause: cause}
}

// CodeOf extracts the Code of err, or "" when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
