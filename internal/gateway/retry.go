package gateway

import (
	"context"
	"math/rand"
	"time"
)

// withBackoff retries fn up to maxRetries times using exponential backoff
// with full jitter: base 250ms, x2 per attempt, capped at 4s. Only errors
// whose category is Retryable() are retried; anything else, or a context
// cancellation, returns immediately.
func withBackoff(ctx context.Context, maxRetries int, categorize func(error) ErrorCategory, fn func() error) error {
	const (
		base = 250 * time.Millisecond
		cap  = 4 * time.Second
	)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == maxRetries || !categorize(lastErr).Retryable() {
			return lastErr
		}

		backoff := base << attempt
		if backoff > cap || backoff <= 0 {
			backoff = cap
		}
		jittered := time.Duration(rand.Int63n(int64(backoff)))
		select {
		case <-time.After(jittered):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
