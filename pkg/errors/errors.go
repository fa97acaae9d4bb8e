package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable identifier of a failure. Kinds are recorded by logs and
// metrics but never written to HTTP bodies.
type Kind string

const (
	// Key generation and keystore
	KindInvalidKeyParam   Kind = "InvalidKeyParam"
	KindNoCurrentKey      Kind = "NoCurrentKey"
	KindUnknownKid        Kind = "UnknownKid"
	KindPersistRead       Kind = "PersistRead"
	KindPersistWrite      Kind = "PersistWrite"
	KindCorruptJWK        Kind = "CorruptJWK"
	KindRotateWithoutSeed Kind = "RotateWithoutSeed"

	// Token verification
	KindDecode          Kind = "Decode"
	KindExpired         Kind = "Expired"
	KindImmature        Kind = "Immature"
	KindInvalidIat      Kind = "InvalidIat"
	KindInvalidAudience Kind = "InvalidAudience"
	KindInvalidIssuer   Kind = "InvalidIssuer"
	KindMissingClaim    Kind = "MissingClaim"

	// Remote JWKS
	KindUpstreamJWKSUnavailable Kind = "UpstreamJWKSUnavailable"

	// Authorization
	KindPermissionDenied Kind = "PermissionDenied"
	KindQuotaExceeded    Kind = "QuotaExceeded"

	// RPC
	KindRpcUnavailable Kind = "RpcUnavailable"
	KindRpcTimeout     Kind = "RpcTimeout"

	// Edge
	KindRateLimited     Kind = "RateLimited"
	KindPayloadTooLarge Kind = "PayloadTooLarge"
	KindCsrfMismatch    Kind = "CsrfMismatch"
	KindShuttingDown    Kind = "ShuttingDown"

	KindInternal Kind = "Internal"
)

// Error carries a Kind together with a message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, errors.New(KindExpired, "")) matches on kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// HTTPStatusCode returns the HTTP status the edge answers with for this error
func (e *Error) HTTPStatusCode() int {
	return HTTPStatus(e.Kind)
}

// New creates a new Error with the given kind and message
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a new Error with formatted message
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with kind and message. A nil err yields nil.
func Wrap(err error, kind Kind, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// Wrapf wraps an existing error with kind and formatted message
func Wrapf(err error, kind Kind, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsKind checks if any error in the chain has the given kind
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the kind from an error.
// Returns KindInternal if the error is not a structured Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsAuthentication reports whether kind is one the edge answers with 401.
func IsAuthentication(kind Kind) bool {
	return HTTPStatus(kind) == http.StatusUnauthorized
}

// HTTPStatus maps error kinds to HTTP status codes
func HTTPStatus(kind Kind) int {
	switch kind {
	// 401 Unauthorized
	case KindUnknownKid, KindDecode, KindExpired, KindImmature, KindInvalidIat,
		KindInvalidAudience, KindInvalidIssuer, KindMissingClaim:
		return http.StatusUnauthorized

	// 403 Forbidden
	case KindPermissionDenied, KindQuotaExceeded, KindCsrfMismatch:
		return http.StatusForbidden

	// 413 Request Entity Too Large
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge

	// 503 Service Unavailable
	case KindRpcUnavailable, KindRpcTimeout, KindRateLimited, KindShuttingDown:
		return http.StatusServiceUnavailable

	// 500 Internal Server Error (default)
	default:
		return http.StatusInternalServerError
	}
}

// Is, As and Join are re-exported so callers importing this package under
// the name errors keep the standard helpers.
var (
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
)
