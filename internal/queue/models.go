package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a production task.
type Status string

const (
	StatusPending       Status = "pending"
	StatusStoryboarding Status = "storyboarding"
	StatusStoryboarded  Status = "storyboarded"
	StatusRendering     Status = "rendering"
	StatusRendered      Status = "rendered"
	StatusAnimating     Status = "animating"
	StatusAnimated      Status = "animated"
	StatusAssembling    Status = "assembling"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

// UserStopReason is the error message set when a user explicitly stops a task.
const UserStopReason = "Stop requested by user"

// DaemonStopReason is the error message set when tasks are failed due to daemon shutdown.
const DaemonStopReason = "Daemon stopped"

var allStatuses = []Status{
	StatusPending,
	StatusStoryboarding,
	StatusStoryboarded,
	StatusRendering,
	StatusRendered,
	StatusAnimating,
	StatusAnimated,
	StatusAssembling,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusStoryboarding: {},
	StatusRendering:     {},
	StatusAnimating:     {},
	StatusAssembling:    {},
}

// Task represents a production task persisted in SQLite.
type Task struct {
	ID              int64
	ProjectID       string
	ShotID          string
	Kind            string
	Status          Status
	ParametersJSON  string
	ResultJSON      string
	ErrorMessage    string
	ProgressStage   string
	ProgressPercent float64
	ProgressMessage string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
	LastHeartbeat   *time.Time
}

// Task kinds accepted by the pipeline.
const (
	KindProduction = "production"  // full storyboard-to-video run
	KindShotRedo   = "shot_redo"   // regenerate a single shot's still/clip
	KindMicroShots = "micro_shots" // split one shot into sub-clips
)

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessing returns true when the status reflects an in-flight operation.
func (t Task) IsProcessing() bool {
	_, ok := processingStatuses[t.Status]
	return ok
}

// IsProcessingStatus reports whether a status reflects an in-flight operation.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// ProcessingStatuses returns the set of in-flight statuses in pipeline order.
func ProcessingStatuses() []Status {
	return []Status{StatusStoryboarding, StatusRendering, StatusAnimating, StatusAssembling}
}

// IsTerminal reports whether a task has finished its run, successfully or not.
func (t Task) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// SetProgress updates all three progress fields atomically.
func (t *Task) SetProgress(stage, message string, percent float64) {
	t.ProgressStage = stage
	t.ProgressMessage = message
	t.ProgressPercent = percent
}

// SetProgressComplete sets progress to 100% with the given stage and message.
func (t *Task) SetProgressComplete(stage, message string) {
	t.SetProgress(stage, message, 100)
}

// SetFailed marks the task as failed with the given error message.
// Clears the heartbeat and records the finish time.
func (t *Task) SetFailed(message string) {
	now := time.Now().UTC()
	t.Status = StatusFailed
	t.ErrorMessage = message
	t.ProgressPercent = 0
	t.ProgressMessage = message
	t.ProgressStage = "Failed"
	t.LastHeartbeat = nil
	t.FinishedAt = &now
}

// HealthSummary describes aggregated queue counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Failed     int
	Completed  int
}
