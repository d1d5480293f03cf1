package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"slate/internal/logging"
	"slate/internal/projects"
	"slate/internal/queue"
	"slate/internal/services"
)

func (m *Manager) processItem(ctx context.Context, task *queue.Task) {
	stg, ok := m.stageForStatus(task.Status)
	if !ok {
		m.logger.Warn("no stage registered for status",
			logging.Int64(logging.FieldTaskID, task.ID),
			logging.String("status", string(task.Status)))
		m.waitForItemOrShutdown(ctx)
		return
	}

	taskCtx := services.WithTaskID(ctx, task.ID)
	taskCtx = services.WithProjectID(taskCtx, task.ProjectID)
	taskCtx = services.WithStage(taskCtx, stg.name)
	taskCtx = services.WithRequestID(taskCtx, uuid.NewString())
	logger := logging.WithContext(taskCtx, m.logger)

	locked, err := m.acquireProjectLock(taskCtx, task, logger)
	if err != nil {
		m.failTask(taskCtx, task, stg, err, logger)
		return
	}
	if !locked {
		// Another task holds the project; leave this one queued.
		m.waitForItemOrShutdown(ctx)
		return
	}

	if err := m.transitionToProcessing(taskCtx, task, stg); err != nil {
		m.setLastError(err)
		logger.Error("failed to mark task processing", logging.Error(err))
		m.releaseProjectLock(taskCtx, task, logger)
		return
	}

	m.setLastTask(task)
	logger.Info("stage started",
		logging.String("kind", task.Kind),
		logging.String("status", string(task.Status)))

	execErr := m.executeStage(taskCtx, task, stg)
	if execErr != nil {
		m.failTask(taskCtx, task, stg, execErr, logger)
		return
	}

	task.Status = stg.doneStatus
	task.SetProgressComplete(stg.name, "complete")
	if task.IsTerminal() {
		now := time.Now().UTC()
		task.FinishedAt = &now
	}
	if err := m.store.Update(taskCtx, task); err != nil {
		m.setLastError(err)
		logger.Error("failed to persist stage result", logging.Error(err))
		m.releaseProjectLock(taskCtx, task, logger)
		return
	}

	logger.Info("stage completed", logging.String("next_status", string(task.Status)))

	if task.IsTerminal() {
		m.releaseProjectLock(taskCtx, task, logger)
		if task.Status == queue.StatusCompleted {
			m.notifyCompleted(taskCtx, task)
		}
	}
}

// acquireProjectLock takes the project's advisory lock for this task. A
// task already holding the lock (mid-pipeline) passes through. Returns
// false without error when another task holds the project.
func (m *Manager) acquireProjectLock(ctx context.Context, task *queue.Task, logger *slog.Logger) (bool, error) {
	err := m.library.Lock(ctx, task.ProjectID, task.ID)
	if err == nil {
		return true, nil
	}
	if services.IsLocked(err) {
		logger.Warn("project locked by another task",
			logging.String(logging.FieldProjectID, task.ProjectID))
		return false, nil
	}
	return false, err
}

func (m *Manager) releaseProjectLock(ctx context.Context, task *queue.Task, logger *slog.Logger) {
	if err := m.library.Unlock(ctx, task.ProjectID, task.ID); err != nil {
		logger.Warn("failed to release project lock",
			logging.String(logging.FieldProjectID, task.ProjectID),
			logging.Error(err))
	}
}

func (m *Manager) transitionToProcessing(ctx context.Context, task *queue.Task, stg pipelineStage) error {
	task.Status = stg.processingStatus
	task.SetProgress(stg.name, "starting", 0)
	if task.StartedAt == nil {
		now := time.Now().UTC()
		task.StartedAt = &now
	}
	now := time.Now().UTC()
	task.LastHeartbeat = &now
	return m.store.Update(ctx, task)
}

// executeStage runs Prepare then Execute under a heartbeat goroutine so a
// long vendor call keeps the task visible as alive.
func (m *Manager) executeStage(ctx context.Context, task *queue.Task, stg pipelineStage) error {
	if err := stg.handler.Prepare(ctx, task); err != nil {
		return err
	}
	if err := m.store.Update(ctx, task); err != nil {
		return services.Wrap(services.ErrTransient, stg.name, "persist", "failed to persist prepared task", err)
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.heartbeat.Run(hbCtx, task.ID)
	}()

	err := stg.handler.Execute(ctx, task)

	stopHeartbeat()
	<-done
	return err
}

func (m *Manager) failTask(ctx context.Context, task *queue.Task, stg pipelineStage, err error, logger *slog.Logger) {
	m.setLastError(err)
	status := services.FailureStatus(err)
	logger.Error("stage failed",
		logging.String(logging.FieldStage, stg.name),
		logging.String("failure_status", string(status)),
		logging.Error(err))

	if status == queue.StatusFailed {
		task.SetFailed(err.Error())
	} else {
		// Retryable failure; requeue at the stage's start status so the next
		// poll resumes from the same point in the pipeline.
		task.Status = stg.startStatus
		task.ErrorMessage = err.Error()
		task.LastHeartbeat = nil
	}

	if uerr := m.store.Update(ctx, task); uerr != nil {
		m.logger.Error("failed to persist task failure", logging.Error(uerr))
	}

	if status == queue.StatusFailed {
		m.releaseProjectLock(ctx, task, m.logger)
		if nerr := m.notifier.NotifyError(ctx, err, fmt.Sprintf("task %d (%s)", task.ID, stg.name)); nerr != nil {
			m.logger.Warn("failed to send error notification", logging.Error(nerr))
		}
		m.markProjectFailed(ctx, task)
	}
}

func (m *Manager) notifyCompleted(ctx context.Context, task *queue.Task) {
	title := task.ProjectID
	if project, err := m.library.GetProject(ctx, task.ProjectID); err == nil && project != nil {
		title = project.Title
	}
	if err := m.notifier.NotifyTaskCompleted(ctx, title, task.ID); err != nil {
		m.logger.Warn("failed to send completion notification", logging.Error(err))
	}
}

func (m *Manager) markProjectFailed(ctx context.Context, task *queue.Task) {
	project, err := m.library.GetProject(ctx, task.ProjectID)
	if err != nil || project == nil {
		return
	}
	project.Status = projects.ProjectStatusFailed
	if err := m.library.UpdateProject(ctx, project); err != nil {
		m.logger.Warn("failed to mark project failed",
			logging.String(logging.FieldProjectID, task.ProjectID),
			logging.Error(err))
	}
}
