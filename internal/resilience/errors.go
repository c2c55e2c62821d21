package resilience

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMethodNotFound is returned when no operation is registered under
	// the requested name
	ErrMethodNotFound = errors.New("operation not registered")

	// ErrConnectionFailed is returned when the dependency cannot be
	// connected before an attempt
	ErrConnectionFailed = errors.New("connection to dependency failed")

	// ErrAttemptTimeout is returned when a single attempt exceeds its
	// per-attempt deadline
	ErrAttemptTimeout = errors.New("attempt timed out")
)

// RateLimitError signals that the dependency rejected the call for rate
// limiting. It moves the dependency to the rate_limited state rather than
// the generic error state.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}
