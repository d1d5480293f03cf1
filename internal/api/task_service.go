package api

import (
	"context"

	"slate/internal/queue"
)

// TaskReader abstracts queue persistence interactions needed for API queries.
type TaskReader interface {
	List(ctx context.Context, statuses ...queue.Status) ([]*queue.Task, error)
	Stats(ctx context.Context) (map[queue.Status]int, error)
	GetByID(ctx context.Context, id int64) (*queue.Task, error)
}

// TaskService exposes read-only queue operations returning API DTOs.
type TaskService struct {
	store TaskReader
}

// NewTaskService constructs a TaskService around the provided reader.
func NewTaskService(store TaskReader) *TaskService {
	if store == nil {
		return nil
	}
	return &TaskService{store: store}
}

// List returns queue tasks filtered by status.
func (s *TaskService) List(ctx context.Context, statuses ...queue.Status) ([]TaskItem, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	tasks, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromTasks(tasks), nil
}

// Stats returns queue summary counts keyed by status string.
func (s *TaskService) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeQueueStats(stats), nil
}

// Describe fetches a single queue task.
func (s *TaskService) Describe(ctx context.Context, id int64) (*TaskItem, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	task, err := s.store.GetByID(ctx, id)
	if err != nil || task == nil {
		return nil, err
	}
	dto := FromTask(task)
	return &dto, nil
}
