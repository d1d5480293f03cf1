package workflow

import (
	"context"
	"log/slog"
	"time"

	"slate/internal/logging"
	"slate/internal/queue"
)

// HeartbeatMonitor keeps in-flight tasks visibly alive and reclaims tasks
// whose owner stopped beating. The timeout defaults to ten minutes so a
// slow vendor render does not get swept prematurely.
type HeartbeatMonitor struct {
	store    *queue.Store
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

// NewHeartbeatMonitor builds a monitor. Zero or negative durations fall back
// to a 15 second interval and a 10 minute timeout.
func NewHeartbeatMonitor(store *queue.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &HeartbeatMonitor{
		store:    store,
		logger:   logging.NewComponentLogger(logger, "heartbeat"),
		interval: interval,
		timeout:  timeout,
	}
}

// Run writes heartbeats for a task until the context is cancelled. It beats
// once immediately so a freshly claimed task is never without a timestamp.
func (h *HeartbeatMonitor) Run(ctx context.Context, taskID int64) {
	h.beat(ctx, taskID)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat(ctx, taskID)
		}
	}
}

func (h *HeartbeatMonitor) beat(ctx context.Context, taskID int64) {
	if err := h.store.UpdateHeartbeat(ctx, taskID); err != nil {
		if ctx.Err() != nil {
			return
		}
		h.logger.Warn("heartbeat write failed",
			logging.Int64(logging.FieldTaskID, taskID),
			logging.Error(err))
	}
}

// A stage attempt running past this multiple of the heartbeat timeout is
// abandoned. Heartbeats cannot catch a worker that keeps beating while hung
// on a vendor call, so the fail sweep is bounded by attempt runtime instead.
const staleFailMultiplier = 6

// StaleTaskReason is the error message set on tasks failed by the sweep.
const StaleTaskReason = "Task exceeded the maximum stage runtime"

// ReclaimStaleItems returns processing tasks with expired heartbeats to the
// start of their current stage so the next poll picks them up again.
func (h *HeartbeatMonitor) ReclaimStaleItems(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-h.timeout)
	return h.store.ReclaimStaleProcessing(ctx, cutoff)
}

// FailStaleItems marks in-flight tasks whose current attempt outlived the
// fail window as failed. This is the terminal sweep behind ReclaimStaleItems.
func (h *HeartbeatMonitor) FailStaleItems(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-h.FailWindow())
	return h.store.FailStaleProcessing(ctx, cutoff, StaleTaskReason)
}

// FailWindow exposes the maximum runtime allowed for a single stage attempt.
func (h *HeartbeatMonitor) FailWindow() time.Duration {
	return staleFailMultiplier * h.timeout
}

// Timeout exposes the configured staleness window.
func (h *HeartbeatMonitor) Timeout() time.Duration {
	return h.timeout
}
