package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// TaskItem describes a queue task in a transport-friendly format.
type TaskItem struct {
	ID           int64           `json:"id"`
	ProjectID    string          `json:"projectId"`
	ShotID       string          `json:"shotId,omitempty"`
	Kind         string          `json:"kind"`
	Status       string          `json:"status"`
	Progress     TaskProgress    `json:"progress"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	CreatedAt    string          `json:"createdAt,omitempty"`
	UpdatedAt    string          `json:"updatedAt,omitempty"`
	StartedAt    string          `json:"startedAt,omitempty"`
	FinishedAt   string          `json:"finishedAt,omitempty"`
}

// TaskProgress captures stage progress information for a queue task.
type TaskProgress struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running    bool           `json:"running"`
	QueueStats map[string]int `json:"queueStats"`
	LastError  string         `json:"lastError,omitempty"`
	LastTask   *TaskItem      `json:"lastTask,omitempty"`
}

// StageHealth mirrors readiness reporting for workflow stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running       bool           `json:"running"`
	PID           int            `json:"pid"`
	QueueDBPath   string         `json:"queueDbPath"`
	LibraryDBPath string         `json:"libraryDbPath"`
	LockFilePath  string         `json:"lockFilePath"`
	Workflow      WorkflowStatus `json:"workflow"`
	Stages        []StageHealth  `json:"stages"`
}

// ProjectItem describes a project in a transport-friendly format.
type ProjectItem struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Synopsis     string `json:"synopsis,omitempty"`
	Style        string `json:"style,omitempty"`
	Status       string `json:"status"`
	CoverImage   string `json:"coverImage,omitempty"`
	VideoPath    string `json:"videoPath,omitempty"`
	ShotCount    int    `json:"shotCount"`
	LockedByTask int64  `json:"lockedByTask,omitempty"`
	CreatedAt    string `json:"createdAt,omitempty"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
}

// ShotItem describes a storyboard shot in a transport-friendly format.
type ShotItem struct {
	ID          string `json:"id"`
	Idx         int    `json:"idx"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
	Status      string `json:"status"`
	ImagePath   string `json:"imagePath,omitempty"`
	VideoPath   string `json:"videoPath,omitempty"`
	Transition  string `json:"transition,omitempty"`
}

// ProjectDetail pairs a project with its ordered shots.
type ProjectDetail struct {
	Project ProjectItem `json:"project"`
	Shots   []ShotItem  `json:"shots"`
}

// TaskListResponse wraps a collection of tasks for API responses.
type TaskListResponse struct {
	Items []TaskItem `json:"items"`
}

// TaskResponse wraps a single task.
type TaskResponse struct {
	Item TaskItem `json:"item"`
}

// ProjectListResponse wraps a collection of projects.
type ProjectListResponse struct {
	Projects []ProjectItem `json:"projects"`
}

// ProjectResponse wraps a single project with its shots.
type ProjectResponse struct {
	Detail ProjectDetail `json:"detail"`
}
