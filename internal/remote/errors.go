package remote

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// APIError is a non-2xx response from the workspace API.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration // server-provided retry hint, 0 if absent
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("workspace API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("workspace API error %d", e.StatusCode)
}

// Retryable classifies an error as transient (429, 5xx, request timeout) or
// fatal. Fatal errors abort the fetch immediately; transient ones are retried
// with backoff.
func Retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

// retryHint returns the server-provided retry delay, or 0 when the error
// carries none.
func retryHint(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}
