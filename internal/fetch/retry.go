package fetch

import (
	"errors"
	"net"
	"strings"
)

// retryablePatterns groups error substrings by category. Matched
// case-insensitively against err.Error(). String matching is the fallback
// for errors that arrive untyped from the HTTP stack.
var retryablePatterns = [][]string{
	{"rate limit", "429"},                         // rate limiting
	{"500", "502", "503", "504", "unavailable"},   // transient server errors
	{"connection reset", "timeout", "temporary"},  // network errors
	{"eof", "broken pipe", "connection refused"},  // flaky peers
}

// Retryable reports whether a fetch error is transient. Validation failures
// and client-side HTTP statuses are permanent and never retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, group := range retryablePatterns {
		for _, sub := range group {
			if strings.Contains(errStr, sub) {
				return true
			}
		}
	}
	return false
}
