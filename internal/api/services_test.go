package api_test

import (
	"context"
	"errors"
	"testing"

	"slate/internal/api"
	"slate/internal/projects"
	"slate/internal/queue"
)

type fakeTaskReader struct {
	tasks map[int64]*queue.Task
	err   error
}

func (f *fakeTaskReader) List(ctx context.Context, statuses ...queue.Status) ([]*queue.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*queue.Task
	for _, task := range f.tasks {
		if len(statuses) == 0 {
			out = append(out, task)
			continue
		}
		for _, status := range statuses {
			if task.Status == status {
				out = append(out, task)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeTaskReader) Stats(ctx context.Context) (map[queue.Status]int, error) {
	if f.err != nil {
		return nil, f.err
	}
	stats := make(map[queue.Status]int)
	for _, task := range f.tasks {
		stats[task.Status]++
	}
	return stats, nil
}

func (f *fakeTaskReader) GetByID(ctx context.Context, id int64) (*queue.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tasks[id], nil
}

type fakeProjectReader struct {
	projects map[string]*projects.Project
	shots    map[string][]*projects.Shot
}

func (f *fakeProjectReader) ListProjects(ctx context.Context) ([]*projects.Project, error) {
	var out []*projects.Project
	for _, p := range f.projects {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeProjectReader) GetProject(ctx context.Context, id string) (*projects.Project, error) {
	return f.projects[id], nil
}

func (f *fakeProjectReader) ListShots(ctx context.Context, projectID string) ([]*projects.Shot, error) {
	return f.shots[projectID], nil
}

func TestTaskServiceListFiltersByStatus(t *testing.T) {
	reader := &fakeTaskReader{tasks: map[int64]*queue.Task{
		1: {ID: 1, Status: queue.StatusPending},
		2: {ID: 2, Status: queue.StatusCompleted},
	}}
	svc := api.NewTaskService(reader)

	items, err := svc.List(context.Background(), queue.StatusPending)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(items) != 1 || items[0].ID != 1 {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestTaskServiceDescribeMissing(t *testing.T) {
	svc := api.NewTaskService(&fakeTaskReader{tasks: map[int64]*queue.Task{}})
	item, err := svc.Describe(context.Background(), 99)
	if err != nil {
		t.Fatalf("Describe returned error: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil for missing task, got %+v", item)
	}
}

func TestTaskServicePropagatesStoreErrors(t *testing.T) {
	storeErr := errors.New("db locked")
	svc := api.NewTaskService(&fakeTaskReader{err: storeErr})
	if _, err := svc.List(context.Background()); !errors.Is(err, storeErr) {
		t.Fatalf("expected store error, got %v", err)
	}
	if _, err := svc.Stats(context.Background()); !errors.Is(err, storeErr) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestNewTaskServiceNilReader(t *testing.T) {
	if svc := api.NewTaskService(nil); svc != nil {
		t.Fatalf("expected nil service, got %+v", svc)
	}
	// Nil service must still answer safely.
	var svc *api.TaskService
	items, err := svc.List(context.Background())
	if err != nil || items != nil {
		t.Fatalf("nil service should return empty, got %v %v", items, err)
	}
}

func TestProjectServiceDescribe(t *testing.T) {
	reader := &fakeProjectReader{
		projects: map[string]*projects.Project{
			"proj-1": {ID: "proj-1", Title: "Night Crossing", Status: projects.ProjectStatusDraft},
		},
		shots: map[string][]*projects.Shot{
			"proj-1": {
				{ID: "s1", Idx: 1, Title: "Opening"},
				{ID: "s2", Idx: 2, Title: "Chase"},
			},
		},
	}
	svc := api.NewProjectService(reader)

	detail, err := svc.Describe(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("Describe returned error: %v", err)
	}
	if detail == nil || detail.Project.Title != "Night Crossing" {
		t.Fatalf("unexpected detail %+v", detail)
	}
	if len(detail.Shots) != 2 || detail.Shots[1].Idx != 2 {
		t.Fatalf("unexpected shots %+v", detail.Shots)
	}

	missing, err := svc.Describe(context.Background(), "proj-999")
	if err != nil {
		t.Fatalf("Describe missing returned error: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing project, got %+v", missing)
	}
}
