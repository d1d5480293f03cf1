package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"slate/internal/config"
	"slate/internal/logging"
	"slate/internal/notifications"
	"slate/internal/projects"
	"slate/internal/queue"
	"slate/internal/stage"
)

// Manager coordinates queue processing using registered stage handlers.
type Manager struct {
	cfg          *config.Config
	store        *queue.Store
	library      *projects.Store
	logger       *slog.Logger
	pollInterval time.Duration
	notifier     notifications.Service

	heartbeat *HeartbeatMonitor

	stages       []pipelineStage
	stageByStart map[queue.Status]pipelineStage
	statusOrder  []queue.Status

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastErr  error
	lastTask *queue.Task
}

type pipelineStage struct {
	name             string
	handler          stage.Handler
	startStatus      queue.Status
	processingStatus queue.Status
	doneStatus       queue.Status
}

// StageSet bundles the concrete workflow handlers the manager orchestrates.
type StageSet struct {
	Storyboard stage.Handler
	Stills     stage.Handler
	Animatic   stage.Handler
	Assembly   stage.Handler
}

// NewManager constructs a workflow manager with the default notifier.
func NewManager(cfg *config.Config, store *queue.Store, library *projects.Store, logger *slog.Logger) *Manager {
	return NewManagerWithNotifier(cfg, store, library, logger, notifications.NewService(cfg))
}

// NewManagerWithNotifier constructs a workflow manager with a custom notifier (used in tests).
func NewManagerWithNotifier(cfg *config.Config, store *queue.Store, library *projects.Store, logger *slog.Logger, notifier notifications.Service) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:          cfg,
		store:        store,
		library:      library,
		logger:       logging.NewComponentLogger(logger, "workflow"),
		notifier:     notifier,
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		stageByStart: make(map[queue.Status]pipelineStage),
	}
}

// ConfigureStages registers the full pipeline in order.
func (m *Manager) ConfigureStages(set StageSet) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stages = m.stages[:0]
	m.register(pipelineStage{
		name:             "storyboard",
		handler:          set.Storyboard,
		startStatus:      queue.StatusPending,
		processingStatus: queue.StatusStoryboarding,
		doneStatus:       queue.StatusStoryboarded,
	})
	m.register(pipelineStage{
		name:             "stills",
		handler:          set.Stills,
		startStatus:      queue.StatusStoryboarded,
		processingStatus: queue.StatusRendering,
		doneStatus:       queue.StatusRendered,
	})
	m.register(pipelineStage{
		name:             "animatic",
		handler:          set.Animatic,
		startStatus:      queue.StatusRendered,
		processingStatus: queue.StatusAnimating,
		doneStatus:       queue.StatusAnimated,
	})
	m.register(pipelineStage{
		name:             "assembly",
		handler:          set.Assembly,
		startStatus:      queue.StatusAnimated,
		processingStatus: queue.StatusAssembling,
		doneStatus:       queue.StatusCompleted,
	})
}

func (m *Manager) register(stg pipelineStage) {
	if stg.handler == nil {
		return
	}
	m.stages = append(m.stages, stg)
	m.stageByStart[stg.startStatus] = stg
	m.statusOrder = append(m.statusOrder, stg.startStatus)
}

func (m *Manager) stageForStatus(status queue.Status) (pipelineStage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stg, ok := m.stageByStart[status]
	return stg, ok
}

// StageHealth reports readiness for every registered stage.
func (m *Manager) StageHealth(ctx context.Context) []stage.Health {
	m.mu.RLock()
	stages := make([]pipelineStage, len(m.stages))
	copy(stages, m.stages)
	m.mu.RUnlock()

	health := make([]stage.Health, 0, len(stages))
	for _, stg := range stages {
		health = append(health, stg.handler.HealthCheck(ctx))
	}
	return health
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastTask(task *queue.Task) {
	m.mu.Lock()
	m.lastTask = task
	m.mu.Unlock()
}

// StatusSummary captures a snapshot of workflow state for API/CLI output.
type StatusSummary struct {
	Running    bool
	QueueStats map[queue.Status]int
	LastError  string
	LastTask   *queue.Task
}

// Status returns a snapshot of workflow state.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{Running: m.running, LastTask: m.lastTask}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	m.mu.RUnlock()

	if stats, err := m.store.Stats(ctx); err == nil {
		summary.QueueStats = stats
	}
	return summary
}
