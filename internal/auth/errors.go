package auth

import (
	"errors"
	"net/http"
)

// Store-level sentinels. Persistence implementations return these and the
// service translates them into coded domain errors.
var (
	ErrNotFound = errors.New("auth: not found")
	ErrConflict = errors.New("auth: conflict")
)

// Kind classifies a domain error.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthenticated
	KindPermission
	KindNotFound
	KindConflict
	KindRateLimited
)

// Status maps the kind to its HTTP equivalent.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindPermission:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Code is a stable machine-readable error code surfaced verbatim to callers.
type Code string

const (
	CodeInternal              Code = "INTERNAL_SERVER_ERROR"
	CodeInvalidInput          Code = "INVALID_INPUT"
	CodeTokensRequired        Code = "ACCESS_AND_REFRESH_TOKENS_ARE_REQUIRED"
	CodeUnauthorized          Code = "UNAUTHORIZED"
	CodeInvalidToken          Code = "INVALID_TOKEN"
	CodePermissionDenied      Code = "PERMISSION_DENIED"
	CodeUserNotFound          Code = "USER_NOT_FOUND"
	CodeUserDoesNotExist      Code = "USER_DOES_NOT_EXIST"
	CodeUserNotActive         Code = "USER_IS_NOT_ACTIVE"
	CodeRoleNotFound          Code = "ROLE_NOT_FOUND"
	CodePermissionNotFound    Code = "PERMISSION_NOT_FOUND"
	CodeRoleUserNotFound      Code = "ROLE_USER_NOT_FOUND"
	CodeRolePermissionMissing Code = "ROLE_PERMISSION_NOT_FOUND"
	CodeEmailTaken            Code = "EMAIL_IS_ALREADY_ASSOCIATED_WITH_A_USER"
	CodeRoleUserExists        Code = "ROLE_USER_ALREADY_EXISTS"
	CodePasswordIncorrect     Code = "PASSWORD_IS_INCORRECT"
	CodeOTPNotValid           Code = "OTP_IS_NOT_VALID"
	CodeOTPPending            Code = "OTP_ALREADY_PENDING"
	CodeTooManyRequests       Code = "TOO_MANY_REQUESTS"
)

// Error is a typed domain failure.
type Error struct {
	Code  Code
	Kind  Kind
	Cause error
}

// Error returns the code; messages are the code vocabulary itself.
func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Code) + ": " + e.Cause.Error()
	}
	return string(e.Code)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Status returns the HTTP equivalent of the error.
func (e *Error) Status() int { return e.Kind.Status() }

func newError(code Code, kind Kind) *Error {
	return &Error{Code: code, Kind: kind}
}

// Domain errors. Compare with errors.Is.
var (
	ErrInvalidInput          = newError(CodeInvalidInput, KindValidation)
	ErrTokensRequired        = newError(CodeTokensRequired, KindValidation)
	ErrUnauthorized          = newError(CodeUnauthorized, KindUnauthenticated)
	ErrInvalidToken          = newError(CodeInvalidToken, KindUnauthenticated)
	ErrPermissionDenied      = newError(CodePermissionDenied, KindPermission)
	ErrUserNotFound          = newError(CodeUserNotFound, KindNotFound)
	ErrUserDoesNotExist      = newError(CodeUserDoesNotExist, KindNotFound)
	ErrUserNotActive         = newError(CodeUserNotActive, KindUnauthenticated)
	ErrRoleNotFound          = newError(CodeRoleNotFound, KindNotFound)
	ErrPermissionNotFound    = newError(CodePermissionNotFound, KindNotFound)
	ErrRoleUserNotFound      = newError(CodeRoleUserNotFound, KindNotFound)
	ErrRolePermissionMissing = newError(CodeRolePermissionMissing, KindNotFound)
	ErrEmailTaken            = newError(CodeEmailTaken, KindConflict)
	ErrRoleUserExists        = newError(CodeRoleUserExists, KindConflict)
	ErrPasswordIncorrect     = newError(CodePasswordIncorrect, KindUnauthenticated)
	ErrOTPNotValid           = newError(CodeOTPNotValid, KindValidation)
	ErrOTPPending            = newError(CodeOTPPending, KindConflict)
	ErrTooManyRequests       = newError(CodeTooManyRequests, KindRateLimited)
)

// Internal wraps an unexpected failure. The cause is kept for logs only.
func Internal(err error) *Error {
	return &Error{Code: CodeInternal, Kind: KindInternal, Cause: err}
}

// AsError returns the domain error carried by err, wrapping anything else
// as an internal failure.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return Internal(err)
}

// translate maps a store sentinel to the domain error for its context and
// passes domain errors through.
func translate(err error, notFound, conflict *Error) error {
	switch {
	case err == nil:
		return nil
	case notFound != nil && errors.Is(err, ErrNotFound):
		return notFound
	case conflict != nil && errors.Is(err, ErrConflict):
		return conflict
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return Internal(err)
}
