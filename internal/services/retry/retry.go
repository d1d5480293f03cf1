// Package retry holds the HTTP retry plumbing shared by the vendor clients:
// status error classification, Retry-After parsing, exponential backoff with
// a cap, and context-aware sleeping.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"slate/internal/services"
)

// HTTPStatusError reports a non-2xx vendor response. It unwraps to the
// matching taxonomy sentinel so callers can classify with errors.Is.
type HTTPStatusError struct {
	Op         string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Op, e.StatusCode, strings.TrimSpace(e.Body))
}

func (e *HTTPStatusError) Unwrap() error {
	return services.ClassifyHTTPStatus(e.StatusCode)
}

// Delay decides whether err warrants another attempt and how long to wait.
// Retry-After from the vendor wins over computed backoff.
func Delay(ctx context.Context, err error, attempt, maxAttempts int, baseDelay, maxDelay time.Duration) (time.Duration, bool) {
	if attempt >= maxAttempts || err == nil || ctx == nil || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			if statusErr.RetryAfter > 0 {
				return capDelay(statusErr.RetryAfter, maxDelay), true
			}
			return Backoff(attempt, baseDelay, maxDelay), true
		default:
			return 0, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Backoff(attempt, baseDelay, maxDelay), true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return Backoff(attempt, baseDelay, maxDelay), true
	}

	return 0, false
}

// Backoff computes the delay before the next attempt: base, base*2, base*4,
// capped at maxDelay. attempt is 1-based.
func Backoff(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	if baseDelay <= 0 {
		return 0
	}
	if attempt <= 0 {
		attempt = 1
	}
	delay := baseDelay
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	return capDelay(delay, maxDelay)
}

func capDelay(delay, maxDelay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

// Sleep waits for delay or until the context is done. A non-nil sleeper
// replaces the timer (used in tests to avoid real waits).
func Sleep(ctx context.Context, delay time.Duration, sleeper func(time.Duration)) error {
	if delay <= 0 {
		return nil
	}
	if ctx == nil {
		return errors.New("retry sleep: nil context")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if sleeper != nil {
		sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ParseRetryAfter parses a Retry-After header as either delta seconds or an
// HTTP date.
func ParseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
