package gitlab

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError signals a retryable transport condition (429 or 5xx).
// It is distinct from hard failures so the collector's retry policy can
// tell the two apart.
type RateLimitError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("gitlab: status %d, retry after %s", e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("gitlab: status %d", e.StatusCode)
}

// IsRetryable reports whether err is a transient transport error.
func IsRetryable(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}

// RetryAfter extracts the server-requested delay, zero if none.
func RetryAfter(err error) time.Duration {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryAfter
	}
	return 0
}
