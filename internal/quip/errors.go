// Package quip provides an HTTP client for the Quip platform read API
// with automatic retry, rate limiting, error classification, and
// recursive folder discovery.
package quip

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, quip.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("quip: bad request")
	ErrUnauthorized = errors.New("quip: unauthorized")
	ErrForbidden    = errors.New("quip: forbidden")
	ErrNotFound     = errors.New("quip: not found")
	ErrThrottled    = errors.New("quip: throttled")
	ErrServerError  = errors.New("quip: server error")
	ErrBadResponse  = errors.New("quip: malformed response")
	ErrUnavailable  = errors.New("quip: request failed")
)

// APIError wraps a sentinel error with the HTTP status code, the endpoint
// that failed, and the API error message body for debugging. StatusCode is
// zero for transport-level failures (timeouts, connection errors).
type APIError struct {
	StatusCode int
	Endpoint   string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("quip: %s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("quip: %s: %s", e.Endpoint, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-2xx HTTP status code to a sentinel error.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return ErrUnavailable
	}
}

// isTerminal reports whether the given status must fail immediately
// without retry. Auth, permission, and missing-resource responses do not
// resolve themselves on a second attempt.
func isTerminal(code int) bool {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	default:
		return false
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
