package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"slate/internal/queue"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrPayment       = errors.New("payment required")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrLocked        = errors.New("project locked")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later status classification. The marker should
// be one of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureStatus maps a stage error to the queue status the workflow manager
// should persist after the stage fails.
func FailureStatus(err error) queue.Status {
	switch {
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrTimeout), errors.Is(err, ErrTransient):
		return queue.StatusPending
	default:
		return queue.StatusFailed
	}
}

// IsRetryable reports whether an error represents a condition worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransient)
}

// IsLocked reports whether an error stems from a held project lock.
func IsLocked(err error) bool {
	return errors.Is(err, ErrLocked)
}

// Marker returns the taxonomy sentinel carried by err, or ErrTransient when
// the error has not been classified. Used when re-wrapping vendor errors so
// the original classification survives the stage context.
func Marker(err error) error {
	for _, marker := range []error{
		ErrValidation, ErrConfiguration, ErrNotFound, ErrRateLimited,
		ErrPayment, ErrTimeout, ErrLocked,
	} {
		if errors.Is(err, marker) {
			return marker
		}
	}
	return ErrTransient
}

// ClassifyHTTPStatus maps a vendor HTTP response code to a sentinel error.
// 429 means the vendor throttled us, 402 means credits are exhausted; both
// are distinguished so callers can decide between retrying and surfacing a
// permanent failure.
func ClassifyHTTPStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusPaymentRequired:
		return ErrPayment
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrTimeout
	case status >= 500:
		return ErrTransient
	case status >= 400:
		return ErrValidation
	default:
		return nil
	}
}

// HTTPStatus maps a classified error back onto the status code the daemon
// API should answer with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrLocked):
		return http.StatusConflict
	case errors.Is(err, ErrPayment):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
