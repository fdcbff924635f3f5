// Package retry wraps fallible operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"
)

// nonRetryable is implemented by errors that must never be retried, e.g. a
// provider reporting it has no credentials configured, or an explicit
// provider-side permanent failure.
type nonRetryable interface {
	Retryable() bool
}

// sleep waits for d or until ctx is cancelled. Swapped out in tests.
var sleep = func(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Do invokes op up to maxAttempts times, waiting baseDelay * 2^(attempt-1)
// between consecutive attempts. The last failure is returned once attempts
// are exhausted. Errors that declare themselves non-retryable (an unavailable
// provider, a permanent provider failure) are surfaced immediately.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, op func(context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := baseDelay << (attempt - 2) // base, 2*base, 4*base, ...
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		var nr nonRetryable
		if errors.As(lastErr, &nr) && !nr.Retryable() {
			return lastErr
		}
	}

	return lastErr
}
