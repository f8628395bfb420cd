// Package resilience guards calls to the slow, flaky services behind address
// and name extraction: a local LLM daemon, a hosted model and an entity
// recognizer. It provides bounded retry with backoff and a circuit breaker
// so that a dead service costs one fast failure per label instead of a full
// timeout.
package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// TransientError marks an error as safe to retry, for example a 503 from the
// model server while it loads weights.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as transient. statusCode may be zero.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

var transientMessages = []string{
	"connection reset by peer",
	"broken pipe",
	"i/o timeout",
	"server closed idle connection",
	"tls handshake timeout",
	"client.timeout exceeded",
}

// IsTransient reports whether err is worth retrying. Cancellation by the
// caller never is; a per-request deadline hit by the HTTP client is.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientMessages {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether an HTTP status is a server-side hiccup.
func IsTransientHTTPStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return code >= 500 && code != http.StatusNotImplemented
}
