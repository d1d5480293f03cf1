package testsupport

import (
	"context"
	"testing"

	"slate/internal/config"
	"slate/internal/projects"
	"slate/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenLibrary opens a projects.Store for tests and registers cleanup.
func MustOpenLibrary(t testing.TB, cfg *config.Config) *projects.Store {
	t.Helper()

	library, err := projects.Open(cfg)
	if err != nil {
		t.Fatalf("projects.Open: %v", err)
	}
	t.Cleanup(func() {
		library.Close()
	})
	return library
}

// NewProject creates a project for tests using the provided library.
func NewProject(t testing.TB, library *projects.Store, title string) *projects.Project {
	t.Helper()

	project, err := library.CreateProject(context.Background(), title, "a short test synopsis", "storyboard sketch")
	if err != nil {
		t.Fatalf("library.CreateProject: %v", err)
	}
	return project
}

// NewTask enqueues a production task for tests using the provided store.
func NewTask(t testing.TB, store *queue.Store, projectID string) *queue.Task {
	t.Helper()

	task, err := store.NewTask(context.Background(), projectID, "", queue.KindProduction, "")
	if err != nil {
		t.Fatalf("store.NewTask: %v", err)
	}
	return task
}
