package projects

import (
	"context"
	"errors"
	"time"

	"slate/internal/services"
)

// RetryPolicy describes the fixed-backoff retry applied to writes that hit a
// project advisory lock.
type RetryPolicy struct {
	Interval time.Duration
	Attempts int
}

// DefaultRetryPolicy mirrors the workflow config defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Interval: 2 * time.Second, Attempts: 5}
}

// WithLockRetry runs op, retrying with a fixed delay while it keeps failing
// with services.ErrLocked. Any other error (or success) returns immediately.
func WithLockRetry(ctx context.Context, policy RetryPolicy, op func(context.Context) error) error {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil || !errors.Is(lastErr, services.ErrLocked) {
			return lastErr
		}
		if attempt == policy.Attempts-1 {
			break
		}
		select {
		case <-time.After(policy.Interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
