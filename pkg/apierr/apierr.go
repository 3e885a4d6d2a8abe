// Package apierr defines the closed error taxonomy the gateway core uses to
// classify every terminated request. Every error that crosses the
// orchestrator boundary — to a client response or to a RequestLog row — is
// one of the Kind values below.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the ten error kinds the request orchestrator recognizes.
type Kind string

const (
	KindPrincipalRejected Kind = "principal_rejected"
	KindAdmissionTimeout  Kind = "admission_timeout"
	KindNoKeyAvailable    Kind = "no_key_available"
	KindRateLimited       Kind = "rate_limited"
	KindUpstream5xx       Kind = "upstream_5xx"
	KindAuthRejected      Kind = "auth_rejected"
	KindRequestTimeout    Kind = "request_timeout"
	KindClientDisconnect  Kind = "client_disconnect"
	KindMalformedResponse Kind = "malformed_response"
	KindInternal          Kind = "internal"
)

// httpStatus is the status code natural to each kind, per spec §7.
var httpStatus = map[Kind]int{
	KindPrincipalRejected: http.StatusUnauthorized,
	KindAdmissionTimeout:  http.StatusServiceUnavailable,
	KindNoKeyAvailable:    http.StatusServiceUnavailable,
	KindRateLimited:       http.StatusTooManyRequests,
	KindUpstream5xx:       http.StatusBadGateway,
	KindAuthRejected:      http.StatusUnauthorized,
	KindRequestTimeout:    http.StatusGatewayTimeout,
	KindClientDisconnect:  499,
	KindMalformedResponse: http.StatusBadGateway,
	KindInternal:          http.StatusInternalServerError,
}

// retryable reports whether the orchestrator may retry with a different key,
// before any byte has reached the client.
var retryable = map[Kind]bool{
	KindRateLimited: true,
	KindUpstream5xx: true,
}

// Error wraps a Kind with a human message and an optional cause, and is the
// only error type the orchestrator and its collaborators return across
// package boundaries.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus returns the status code natural to the error's kind.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Retryable reports whether a single pre-byte retry with a different key is
// permitted for this error (spec §4.6/§7).
func (e *Error) Retryable() bool {
	return retryable[e.Kind]
}

// As extracts an *Error from err, if present.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Body is the JSON envelope returned to clients on failure (spec §7).
type Body struct {
	ErrorKind Kind   `json:"error_kind"`
	Message   string `json:"message"`
}

func (e *Error) Body() Body {
	return Body{ErrorKind: e.Kind, Message: e.Message}
}

// ClassifyUpstreamStatus maps an upstream HTTP status code to an error kind,
// generalized from pkg/errors.IsCooldownRequired in the teacher repository
// into the full ten-kind table spec §7 requires.
func ClassifyUpstreamStatus(statusCode int) Kind {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return KindRateLimited
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return KindAuthRejected
	case statusCode >= 500:
		return KindUpstream5xx
	default:
		return KindMalformedResponse
	}
}
