// Package upstream holds the retry policy and the shared limiter used by
// every call to the embedding and completion APIs.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// HeaderRetryAfter is the retry-after header (seconds or HTTP date).
	HeaderRetryAfter = "Retry-After"

	maxBodyInError = 512
)

var (
	// ErrPermanent marks a failure that will not succeed on retry.
	ErrPermanent = errors.New("permanent upstream failure")

	// ErrExhausted marks a transient failure that persisted through every attempt.
	ErrExhausted = errors.New("upstream retries exhausted")
)

// StatusError is a non-2xx response from an upstream API.
type StatusError struct {
	Code       int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream status %d", e.Code)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Body)
}

// NewStatusError builds a StatusError from resp and the already-read body.
func NewStatusError(resp *http.Response, body []byte) *StatusError {
	text := strings.TrimSpace(string(body))
	if len(text) > maxBodyInError {
		text = text[:maxBodyInError] + "..."
	}
	return &StatusError{
		Code:       resp.StatusCode,
		Body:       text,
		RetryAfter: parseRetryAfter(resp.Header.Get(HeaderRetryAfter)),
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// MalformedResponseError wraps a 2xx response whose body could not be used.
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string { return "malformed upstream response: " + e.Err.Error() }
func (e *MalformedResponseError) Unwrap() error { return e.Err }

// Transient reports whether err is worth another attempt.
// Rate limits, timeouts, 5xx responses and connection failures are transient.
// Other 4xx responses and malformed bodies are not.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) {
		return false
	}

	var status *StatusError
	if errors.As(err, &status) {
		switch {
		case status.Code == http.StatusRequestTimeout,
			status.Code == http.StatusTooEarly,
			status.Code == http.StatusTooManyRequests:
			return true
		case status.Code >= 500:
			return true
		default:
			return false
		}
	}

	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return false
	}

	// A per-call timeout surfaces as DeadlineExceeded from the attempt context.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Connection resets and refused dials do not always implement net.Error.
	e := strings.ToLower(err.Error())
	switch {
	case strings.Contains(e, "connection reset"),
		strings.Contains(e, "connection refused"),
		strings.Contains(e, "eof"),
		strings.Contains(e, "temporarily"),
		strings.Contains(e, "unavailable"):
		return true
	}
	return false
}

// retryAfter returns the server-requested delay carried by err, if any.
func retryAfter(err error) time.Duration {
	var status *StatusError
	if errors.As(err, &status) {
		return status.RetryAfter
	}
	return 0
}
