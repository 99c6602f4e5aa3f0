// Package retry implements bounded retries with exponential backoff for
// transient provider failures.
package retry

import (
	"context"
	"time"
)

type Retryer struct {
	maxRetries uint
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func New(maxRetries uint, baseDelay, maxDelay time.Duration) *Retryer {
	return &Retryer{maxRetries: maxRetries, baseDelay: baseDelay, maxDelay: maxDelay}
}

// Do calls fn up to maxRetries+1 times. fn reports whether its error is
// worth retrying; a non-retryable result returns immediately. The last
// error is returned once the budget is exhausted.
func (r *Retryer) Do(ctx context.Context, fn func() (shouldRetry bool, err error)) error {
	var lastErr error

	for attempt := uint(0); attempt <= r.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		shouldRetry, err := fn()
		if !shouldRetry {
			return err
		}
		lastErr = err

		if attempt < r.maxRetries {
			select {
			case <-time.After(r.backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func (r *Retryer) backoff(attempt uint) time.Duration {
	delay := r.baseDelay * (1 << attempt)
	if delay > r.maxDelay {
		return r.maxDelay
	}
	return delay
}
