package pipeline

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/dgallion1/filingsum/internal/llm"
)

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var retryErr *llm.RetryableError
	return errors.As(err, &retryErr)
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

// RetryDelay prefers the server's Retry-After hint over Backoff.
func RetryDelay(err error, attempt int) time.Duration {
	var retryErr *llm.RetryableError
	if errors.As(err, &retryErr) && retryErr.RetryAfter > 0 {
		return min(retryErr.RetryAfter, time.Minute)
	}
	return Backoff(attempt)
}

const MaxRetries = 3
