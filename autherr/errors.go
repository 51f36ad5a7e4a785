// Package autherr defines the single error type shared by the authgate engine,
// its flows and the HTTP layer.
//
// Every expected authentication or authorization failure is an [*Error] that
// carries a stable [Code], the HTTP status it maps to, and a client-safe
// message. Causes are attached with [Internal] or [Unavailable] and are only
// reachable through errors.Unwrap; they are never rendered to clients.
package autherr

import (
	"errors"
	"net/http"
)

// Code is the stable, client-facing error identifier.
type Code string

const (
	CodeNoToken            Code = "NO_TOKEN"
	CodeInvalidFormat      Code = "INVALID_FORMAT"
	CodeTokenExpired       Code = "TOKEN_EXPIRED"
	CodeInvalidToken       Code = "INVALID_TOKEN"
	CodeTokenRevoked       Code = "TOKEN_REVOKED"
	CodeNoRole             Code = "NO_ROLE"
	CodeInvalidRole        Code = "INVALID_ROLE"
	CodeAccountLocked      Code = "ACCOUNT_LOCKED"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeInvalidResetToken  Code = "INVALID_OR_EXPIRED_RESET_TOKEN"
	CodeInvalidRequest     Code = "INVALID_REQUEST"
	CodeWeakPassword       Code = "WEAK_PASSWORD"
	CodeEmailTaken         Code = "EMAIL_TAKEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeUnavailable        Code = "AUTH_UNAVAILABLE"
	CodeInternal           Code = "INTERNAL_ERROR"
)

// Error is the discriminated auth error. Two errors are equal under
// errors.Is when their codes match.
type Error struct {
	Code    Code
	Status  int
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.cause.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports code equality so wrapped instances still match their sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// Wrap returns a copy of e carrying cause. The client message is unchanged.
func (e *Error) Wrap(cause error) *Error {
	if e == nil {
		return nil
	}
	out := *e
	out.cause = cause
	return &out
}

// WithMessage returns a copy of e with a different client message.
func (e *Error) WithMessage(msg string) *Error {
	if e == nil {
		return nil
	}
	out := *e
	out.Message = msg
	return &out
}

var (
	ErrNoToken            = &Error{Code: CodeNoToken, Status: http.StatusUnauthorized, Message: "authorization token required"}
	ErrInvalidFormat      = &Error{Code: CodeInvalidFormat, Status: http.StatusUnauthorized, Message: "malformed authorization header"}
	ErrTokenExpired       = &Error{Code: CodeTokenExpired, Status: http.StatusUnauthorized, Message: "token expired"}
	ErrInvalidToken       = &Error{Code: CodeInvalidToken, Status: http.StatusUnauthorized, Message: "invalid token"}
	ErrTokenRevoked       = &Error{Code: CodeTokenRevoked, Status: http.StatusUnauthorized, Message: "token revoked"}
	ErrNoRole             = &Error{Code: CodeNoRole, Status: http.StatusForbidden, Message: "no identity on request"}
	ErrInvalidRole        = &Error{Code: CodeInvalidRole, Status: http.StatusForbidden, Message: "insufficient privileges"}
	ErrAccountLocked      = &Error{Code: CodeAccountLocked, Status: http.StatusLocked, Message: "account temporarily locked"}
	ErrInvalidCredentials = &Error{Code: CodeInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid credentials"}
	ErrInvalidResetToken  = &Error{Code: CodeInvalidResetToken, Status: http.StatusBadRequest, Message: "reset token invalid or expired"}
	ErrInvalidRequest     = &Error{Code: CodeInvalidRequest, Status: http.StatusBadRequest, Message: "invalid request"}
	ErrWeakPassword       = &Error{Code: CodeWeakPassword, Status: http.StatusBadRequest, Message: "password does not meet policy"}
	ErrEmailTaken         = &Error{Code: CodeEmailTaken, Status: http.StatusConflict, Message: "email already registered"}
	ErrNotFound           = &Error{Code: CodeNotFound, Status: http.StatusNotFound, Message: "not found"}
	ErrRateLimited        = &Error{Code: CodeRateLimited, Status: http.StatusTooManyRequests, Message: "too many requests"}
	ErrUnavailable        = &Error{Code: CodeUnavailable, Status: http.StatusServiceUnavailable, Message: "authentication backend unavailable"}
	ErrInternal           = &Error{Code: CodeInternal, Status: http.StatusInternalServerError, Message: "internal error"}
)

// Internal wraps an unexpected failure as INTERNAL_ERROR.
func Internal(cause error) *Error {
	return ErrInternal.Wrap(cause)
}

// Unavailable wraps a backend timeout or outage as AUTH_UNAVAILABLE.
func Unavailable(cause error) *Error {
	return ErrUnavailable.Wrap(cause)
}

// From maps any error onto the taxonomy. Anything that is not already an
// *Error becomes INTERNAL_ERROR with err as its cause.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}
