// Package apperr carries the failure kinds shared by the account, session and
// chat components. Callers return *Error values and the HTTP boundary maps the
// kind to a status code.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies a failure.
type Kind uint8

const (
	Internal Kind = iota
	Invalid
	Conflict
	InvalidCredential
	Expired
	Unauthorized
	Malformed
	NotFound
	UpstreamFailure
	PersistenceFailure
)

var kindNames = [...]string{
	Internal:           "internal",
	Invalid:            "invalid",
	Conflict:           "conflict",
	InvalidCredential:  "invalid_credential",
	Expired:            "expired",
	Unauthorized:       "unauthorized",
	Malformed:          "malformed",
	NotFound:           "not_found",
	UpstreamFailure:    "upstream_failure",
	PersistenceFailure: "persistence_failure",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Error is a classified failure. Msg is safe to show to clients; Err is the
// underlying cause and is only logged.
type Error struct {
	Kind      Kind
	Msg       string
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error of the given kind without a cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// IsRetryable reports whether the failure may succeed if the caller repeats it.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// Message returns the client-facing message of err, falling back to def.
func Message(err error, def string) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return def
}

// HTTPStatus maps a failure to the default status used by the account API.
// Handlers override it where an endpoint documents a different code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Invalid:
		return http.StatusUnprocessableEntity
	case Conflict:
		return http.StatusConflict
	case InvalidCredential, Expired:
		return http.StatusForbidden
	case Unauthorized, Malformed:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case UpstreamFailure:
		return http.StatusBadGateway
	case PersistenceFailure:
		if IsRetryable(err) {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
