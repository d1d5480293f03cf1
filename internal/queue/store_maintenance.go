package queue

import (
	"context"
	"fmt"
	"time"
)

// UpdateHeartbeat updates the last heartbeat timestamp for an in-flight task.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.execWithRetry(
		ctx,
		`UPDATE tasks SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now,
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleProcessing returns tasks stuck in processing back to the start
// of their current stage when heartbeats expire. Finished stages keep their
// work: a stale render restarts from storyboarded, not from scratch. Tasks
// the daemon never heartbeated (crashed before the first beat) are matched
// on updated_at instead.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffStr := cutoff.UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE tasks
        SET status = CASE status
            WHEN ? THEN ?
            WHEN ? THEN ?
            WHEN ? THEN ?
            WHEN ? THEN ?
            ELSE status
        END,
            progress_stage = 'Reclaimed from stale processing',
            progress_percent = 0, progress_message = NULL, last_heartbeat = NULL, updated_at = ?
        WHERE status IN (?, ?, ?, ?)
          AND ((last_heartbeat IS NOT NULL AND last_heartbeat < ?)
               OR (last_heartbeat IS NULL AND updated_at < ?))`,
		StatusStoryboarding, StatusPending,
		StatusRendering, StatusStoryboarded,
		StatusAnimating, StatusRendered,
		StatusAssembling, StatusAnimated,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusStoryboarding,
		StatusRendering,
		StatusAnimating,
		StatusAssembling,
		cutoffStr,
		cutoffStr,
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale tasks: %w", err)
	}
	return res.RowsAffected()
}

// FailStaleProcessing marks long-stuck in-flight tasks as failed. This is the
// terminal sweep for tasks that were reclaimed repeatedly without progress.
func (s *Store) FailStaleProcessing(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	statuses := ProcessingStatuses()
	placeholders := makePlaceholders(len(statuses))
	now := time.Now().UTC().Format(time.RFC3339Nano)
	args := make([]any, 0, len(statuses)+5)
	args = append(args, StatusFailed, reason, now, now)
	for _, status := range statuses {
		args = append(args, status)
	}
	args = append(args, cutoff.UTC().Format(time.RFC3339Nano))

	res, err := s.execWithRetry(
		ctx,
		`UPDATE tasks
        SET status = ?, error_message = ?, progress_stage = 'Failed',
            progress_percent = 0, last_heartbeat = NULL, finished_at = ?, updated_at = ?
        WHERE status IN (`+placeholders+`) AND started_at IS NOT NULL AND started_at < ?`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("fail stale tasks: %w", err)
	}
	return res.RowsAffected()
}

// ResetStuckProcessing resets tasks in processing states back to the start of
// their current stage. Called on daemon startup before workers are running.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE tasks
         SET status = CASE status
             WHEN ? THEN ?
             WHEN ? THEN ?
             WHEN ? THEN ?
             WHEN ? THEN ?
             ELSE status
         END,
             progress_stage = 'Reset from stuck processing',
             progress_percent = 0, progress_message = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE status IN (?, ?, ?, ?)`,
		StatusStoryboarding, StatusPending,
		StatusRendering, StatusStoryboarded,
		StatusAnimating, StatusRendered,
		StatusAssembling, StatusAnimated,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusStoryboarding,
		StatusRendering,
		StatusAnimating,
		StatusAssembling,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck tasks: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed moves failed tasks back to pending for reprocessing.
// With no ids every failed task is retried.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if len(ids) == 0 {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE tasks
            SET status = ?, progress_stage = 'Retry requested', progress_percent = 0,
                progress_message = NULL, error_message = NULL, finished_at = NULL, updated_at = ?
            WHERE status = ?`,
			StatusPending,
			now,
			StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed tasks: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+3)
	args = append(args, StatusPending, now, StatusFailed)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE tasks
        SET status = ?, progress_stage = 'Retry requested', progress_percent = 0,
            progress_message = NULL, error_message = NULL, finished_at = NULL, updated_at = ?
        WHERE status = ? AND id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("retry selected tasks: %w", err)
	}
	return res.RowsAffected()
}
