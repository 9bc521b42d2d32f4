package tool

import (
	"errors"
	"strings"

	"github.com/chih3b/SanteConnect/internal/domain"
)

// retryableSentinels lists domain errors that indicate transient failures of
// an external collaborator.
var retryableSentinels = []error{
	domain.ErrTimeout,
	domain.ErrProviderError,
	domain.ErrRateLimit,
}

// retryablePatterns are substrings in error messages that indicate transient failures.
// Checked case-insensitively.
var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"timeout",
	"deadline exceeded",
	"temporarily unavailable",
	"service unavailable",
	"try again",
	"eof",
}

// isTransient returns true if err looks like a collaborator outage rather
// than a problem with the request. Only transient errors count against a
// circuit breaker.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrInvalidInput) {
		return false
	}

	for _, sentinel := range retryableSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}

	lower := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
