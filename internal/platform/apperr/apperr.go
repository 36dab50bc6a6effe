// Package apperr defines the typed errors raised by services and translated
// into HTTP responses at the boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes an error and determines its HTTP status.
type Kind string

const (
	KindValidation           Kind = "validation"
	KindAuthRequired         Kind = "auth_required"
	KindInvalidToken         Kind = "invalid_token"
	KindTokenExpired         Kind = "token_expired"
	KindWrongScope           Kind = "wrong_scope"
	KindRecordMismatch       Kind = "record_mismatch"
	KindForbidden            Kind = "forbidden"
	KindNotFound             Kind = "not_found"
	KindConflict             Kind = "conflict"
	KindRequestExpired       Kind = "request_expired"
	KindRequestNotApprovable Kind = "request_not_approvable"
	KindRateLimited          Kind = "rate_limited"
	KindUnavailable          Kind = "unavailable"
	KindTimeout              Kind = "timeout"
	KindInternal             Kind = "internal"
)

// Default machine-readable codes per kind. Services may override the code
// with something more specific, e.g. RECORD_NOT_FOUND.
const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeAuthRequired         = "AUTH_REQUIRED"
	CodeInvalidToken         = "INVALID_TOKEN"
	CodeTokenExpired         = "TOKEN_EXPIRED"
	CodeWrongScope           = "WRONG_SCOPE"
	CodeRecordMismatch       = "RECORD_MISMATCH"
	CodeForbidden            = "FORBIDDEN"
	CodeNotFound             = "NOT_FOUND"
	CodeConflict             = "CONFLICT"
	CodeRequestExpired       = "REQUEST_EXPIRED"
	CodeRequestNotApprovable = "REQUEST_NOT_APPROVABLE"
	CodeRateLimited          = "RATE_LIMITED"
	CodeUnavailable          = "SERVICE_UNAVAILABLE"
	CodeTimeout              = "REQUEST_TIMEOUT"
	CodeInternal             = "INTERNAL_ERROR"
)

var defaultCodes = map[Kind]string{
	KindValidation:           CodeValidation,
	KindAuthRequired:         CodeAuthRequired,
	KindInvalidToken:         CodeInvalidToken,
	KindTokenExpired:         CodeTokenExpired,
	KindWrongScope:           CodeWrongScope,
	KindRecordMismatch:       CodeRecordMismatch,
	KindForbidden:            CodeForbidden,
	KindNotFound:             CodeNotFound,
	KindConflict:             CodeConflict,
	KindRequestExpired:       CodeRequestExpired,
	KindRequestNotApprovable: CodeRequestNotApprovable,
	KindRateLimited:          CodeRateLimited,
	KindUnavailable:          CodeUnavailable,
	KindTimeout:              CodeTimeout,
	KindInternal:             CodeInternal,
}

// Error is a structured application error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Status maps the error kind to an HTTP status code. All record token
// failures share 401; the distinct kinds stay visible through Code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation, KindRequestExpired, KindRequestNotApprovable:
		return http.StatusBadRequest
	case KindAuthRequired, KindInvalidToken, KindTokenExpired, KindWrongScope, KindRecordMismatch:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// New creates an error with the kind's default code.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Code: defaultCodes[kind], Message: message}
}

// WithCode creates an error with an explicit machine-readable code.
func WithCode(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a cause to a new error of the given kind.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Code: defaultCodes[kind], Message: message, Cause: cause}
}

// Internal wraps an unexpected failure. The message shown to clients is
// always generic.
func Internal(cause error) *Error {
	return Wrap(KindInternal, "Internal server error", cause)
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsKind reports whether err carries an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	ae, ok := As(err)
	return ok && ae.Kind == kind
}

// KindOf returns the kind of err, or KindInternal when err is not typed.
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return KindInternal
}
