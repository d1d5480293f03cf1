package workflow

import (
	"context"
	"errors"
	"time"

	"slate/internal/logging"
	"slate/internal/queue"
)

// Start launches the polling loop. It returns immediately; processing
// happens on a background goroutine until Stop or context cancellation.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow manager already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	if reclaimed, err := m.store.ResetStuckProcessing(runCtx); err != nil {
		m.logger.Warn("failed to reset stuck tasks at startup", logging.Error(err))
	} else if reclaimed > 0 {
		m.logger.Info("reset stuck tasks from previous run", logging.Int64("count", reclaimed))
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runLoop(runCtx)
	}()
	return nil
}

// Stop cancels the run loop and waits for in-flight work to settle.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.running = false
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

func (m *Manager) runLoop(ctx context.Context) {
	m.logger.Info("workflow manager started",
		logging.Duration("poll_interval", m.pollInterval))

	for {
		if ctx.Err() != nil {
			m.logger.Info("workflow manager stopped")
			return
		}

		m.reclaimStale(ctx)

		task, err := m.store.NextForStatuses(ctx, m.startStatuses()...)
		if err != nil {
			m.handleNextItemError(ctx, err)
			continue
		}
		if task == nil {
			m.waitForItemOrShutdown(ctx)
			continue
		}

		m.processItem(ctx, task)
	}
}

func (m *Manager) startStatuses() []queue.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	statuses := make([]queue.Status, len(m.statusOrder))
	copy(statuses, m.statusOrder)
	return statuses
}

func (m *Manager) reclaimStale(ctx context.Context) {
	failed, err := m.heartbeat.FailStaleItems(ctx)
	if err != nil {
		m.logger.Warn("stale task fail sweep failed", logging.Error(err))
	} else if failed > 0 {
		m.logger.Warn("failed tasks that outlived the stage runtime window",
			logging.Int64("count", failed),
			logging.Duration("window", m.heartbeat.FailWindow()))
	}

	reclaimed, err := m.heartbeat.ReclaimStaleItems(ctx)
	if err != nil {
		m.logger.Warn("stale task reclaim failed", logging.Error(err))
		return
	}
	if reclaimed > 0 {
		m.logger.Info("reclaimed stale processing tasks", logging.Int64("count", reclaimed))
	}
}

func (m *Manager) handleNextItemError(ctx context.Context, err error) {
	m.setLastError(err)
	m.logger.Error("failed to fetch next task", logging.Error(err))
	retry := time.Duration(m.cfg.Workflow.ErrorRetryInterval) * time.Second
	if retry <= 0 {
		retry = m.pollInterval
	}
	select {
	case <-ctx.Done():
	case <-time.After(retry):
	}
}

func (m *Manager) waitForItemOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}
