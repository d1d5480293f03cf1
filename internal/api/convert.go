package api

import (
	"encoding/json"
	"time"

	"slate/internal/projects"
	"slate/internal/queue"
	"slate/internal/stage"
	"slate/internal/workflow"
)

// FromTask converts a queue record to its API representation.
func FromTask(task *queue.Task) TaskItem {
	if task == nil {
		return TaskItem{}
	}

	dto := TaskItem{
		ID:        task.ID,
		ProjectID: task.ProjectID,
		ShotID:    task.ShotID,
		Kind:      task.Kind,
		Status:    string(task.Status),
		Progress: TaskProgress{
			Stage:   task.ProgressStage,
			Percent: task.ProgressPercent,
			Message: task.ProgressMessage,
		},
		ErrorMessage: task.ErrorMessage,
		CreatedAt:    FormatTime(task.CreatedAt),
		UpdatedAt:    FormatTime(task.UpdatedAt),
	}
	if task.StartedAt != nil {
		dto.StartedAt = FormatTime(*task.StartedAt)
	}
	if task.FinishedAt != nil {
		dto.FinishedAt = FormatTime(*task.FinishedAt)
	}
	if raw := task.ParametersJSON; raw != "" {
		dto.Parameters = json.RawMessage(raw)
	}
	if raw := task.ResultJSON; raw != "" {
		dto.Result = json.RawMessage(raw)
	}
	return dto
}

// FromTasks converts a slice of queue records into API DTOs.
func FromTasks(tasks []*queue.Task) []TaskItem {
	if len(tasks) == 0 {
		return nil
	}
	out := make([]TaskItem, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, FromTask(task))
	}
	return out
}

// FromStatusSummary converts a workflow status summary to API payload.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	stats := make(map[string]int, len(summary.QueueStats))
	for status, count := range summary.QueueStats {
		stats[string(status)] = count
	}

	wf := WorkflowStatus{
		Running:    summary.Running,
		QueueStats: stats,
	}
	if summary.LastError != "" {
		wf.LastError = summary.LastError
	}
	if summary.LastTask != nil {
		last := FromTask(summary.LastTask)
		wf.LastTask = &last
	}
	return wf
}

// StageHealthSlice converts stage health reports into API payloads.
func StageHealthSlice(health []stage.Health) []StageHealth {
	if len(health) == 0 {
		return nil
	}
	out := make([]StageHealth, 0, len(health))
	for _, h := range health {
		out = append(out, StageHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FromProject converts a project record to its API representation.
func FromProject(project *projects.Project) ProjectItem {
	if project == nil {
		return ProjectItem{}
	}
	return ProjectItem{
		ID:           project.ID,
		Title:        project.Title,
		Synopsis:     project.Synopsis,
		Style:        project.Style,
		Status:       project.Status,
		CoverImage:   project.CoverImage,
		VideoPath:    project.VideoPath,
		ShotCount:    project.ShotCount,
		LockedByTask: project.LockedByTask,
		CreatedAt:    FormatTime(project.CreatedAt),
		UpdatedAt:    FormatTime(project.UpdatedAt),
	}
}

// FromProjects converts a slice of project records into API DTOs.
func FromProjects(list []*projects.Project) []ProjectItem {
	if len(list) == 0 {
		return nil
	}
	out := make([]ProjectItem, 0, len(list))
	for _, project := range list {
		out = append(out, FromProject(project))
	}
	return out
}

// FromShot converts a shot record to its API representation.
func FromShot(shot *projects.Shot) ShotItem {
	if shot == nil {
		return ShotItem{}
	}
	return ShotItem{
		ID:          shot.ID,
		Idx:         shot.Idx,
		Title:       shot.Title,
		Description: shot.Description,
		Prompt:      shot.Prompt,
		Status:      shot.Status,
		ImagePath:   shot.ImagePath,
		VideoPath:   shot.VideoPath,
		Transition:  shot.Transition,
	}
}

// FromShots converts a slice of shot records into API DTOs.
func FromShots(shots []*projects.Shot) []ShotItem {
	if len(shots) == 0 {
		return nil
	}
	out := make([]ShotItem, 0, len(shots))
	for _, shot := range shots {
		out = append(out, FromShot(shot))
	}
	return out
}

// MergeQueueStats produces a string-keyed representation of queue stats.
func MergeQueueStats(stats map[queue.Status]int) map[string]int {
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
