package projects_test

import (
	"context"
	"errors"
	"testing"

	"slate/internal/projects"
	"slate/internal/services"
	"slate/internal/testsupport"
)

func TestCreateProjectRequiresTitle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	library := testsupport.MustOpenLibrary(t, cfg)

	if _, err := library.CreateProject(context.Background(), "   ", "", ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateProjectRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	library := testsupport.MustOpenLibrary(t, cfg)

	project, err := library.CreateProject(context.Background(), "Night Crossing", "a heist at sea", "noir")
	if err != nil {
		t.Fatalf("CreateProject returned error: %v", err)
	}
	if project.ID == "" {
		t.Fatal("expected generated project id")
	}
	if project.Status != projects.ProjectStatusDraft {
		t.Fatalf("expected draft status, got %q", project.Status)
	}

	fetched, err := library.GetProject(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("GetProject returned error: %v", err)
	}
	if fetched == nil {
		t.Fatal("expected project, got nil")
	}
	if fetched.Title != "Night Crossing" || fetched.Synopsis != "a heist at sea" || fetched.Style != "noir" {
		t.Fatalf("unexpected project fields: %+v", fetched)
	}
}

func TestGetProjectMissingReturnsNil(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	library := testsupport.MustOpenLibrary(t, cfg)

	project, err := library.GetProject(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("GetProject returned error: %v", err)
	}
	if project != nil {
		t.Fatalf("expected nil for missing project, got %+v", project)
	}
}

func TestListProjectsOrderedByCreation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	library := testsupport.MustOpenLibrary(t, cfg)

	first := testsupport.NewProject(t, library, "First")
	second := testsupport.NewProject(t, library, "Second")

	listed, err := library.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("ListProjects returned error: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(listed))
	}
	if listed[0].ID != first.ID || listed[1].ID != second.ID {
		t.Fatalf("unexpected ordering: %s, %s", listed[0].Title, listed[1].Title)
	}
}

func TestUpdateProjectPersistsChanges(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	library := testsupport.MustOpenLibrary(t, cfg)
	project := testsupport.NewProject(t, library, "Draft Title")

	project.Title = "Final Title"
	project.Status = projects.ProjectStatusRendered
	project.VideoPath = "/renders/final/sequence.json"
	project.ShotCount = 12
	if err := library.UpdateProject(context.Background(), project); err != nil {
		t.Fatalf("UpdateProject returned error: %v", err)
	}

	fetched, err := library.GetProject(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("GetProject returned error: %v", err)
	}
	if fetched.Title != "Final Title" || fetched.Status != projects.ProjectStatusRendered {
		t.Fatalf("update not persisted: %+v", fetched)
	}
	if fetched.VideoPath != "/renders/final/sequence.json" {
		t.Fatalf("expected video path to persist, got %q", fetched.VideoPath)
	}
	if fetched.ShotCount != 12 {
		t.Fatalf("expected shot count to persist, got %d", fetched.ShotCount)
	}
}

func TestConcurrentShotWritesSurviveBusyDatabase(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	library := testsupport.MustOpenLibrary(t, cfg)
	project := testsupport.NewProject(t, library, "Parallel Renders")

	seed := make([]*projects.Shot, 8)
	for i := range seed {
		seed[i] = &projects.Shot{Title: "Shot", Prompt: "prompt"}
	}
	if err := library.ReplaceShots(context.Background(), project.ID, seed); err != nil {
		t.Fatalf("ReplaceShots returned error: %v", err)
	}
	shots, err := library.ListShots(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("ListShots returned error: %v", err)
	}

	errCh := make(chan error, len(shots))
	for _, shot := range shots {
		go func() {
			shot.Status = projects.ShotStatusStill
			shot.ImagePath = "/stills/" + shot.ID + ".png"
			errCh <- library.UpdateShot(context.Background(), shot)
		}()
	}
	for range shots {
		if err := <-errCh; err != nil {
			t.Fatalf("concurrent UpdateShot returned error: %v", err)
		}
	}

	updated, err := library.ListShots(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("ListShots returned error: %v", err)
	}
	for _, shot := range updated {
		if shot.Status != projects.ShotStatusStill || shot.ImagePath == "" {
			t.Fatalf("write lost for shot %d: %+v", shot.Idx, shot)
		}
	}
}

func TestUpdateProjectRefusedWhileLockedByOtherTask(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	library := testsupport.MustOpenLibrary(t, cfg)
	project := testsupport.NewProject(t, library, "Contested")

	if err := library.Lock(context.Background(), project.ID, 7); err != nil {
		t.Fatalf("Lock returned error: %v", err)
	}

	project.LockedByTask = 8
	project.Title = "Stolen Update"
	err := library.UpdateProject(context.Background(), project)
	if !services.IsLocked(err) {
		t.Fatalf("expected lock conflict, got %v", err)
	}

	// The holder itself may still write.
	project.LockedByTask = 7
	if err := library.UpdateProject(context.Background(), project); err != nil {
		t.Fatalf("holder update returned error: %v", err)
	}
}

func TestLockIsAtomicPerTask(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	library := testsupport.MustOpenLibrary(t, cfg)
	project := testsupport.NewProject(t, library, "Locked Down")

	if err := library.Lock(context.Background(), project.ID, 11); err != nil {
		t.Fatalf("first Lock returned error: %v", err)
	}
	// Re-acquiring by the same task is a no-op success.
	if err := library.Lock(context.Background(), project.ID, 11); err != nil {
		t.Fatalf("re-lock by holder returned error: %v", err)
	}
	if err := library.Lock(context.Background(), project.ID, 12); !services.IsLocked(err) {
		t.Fatalf("expected conflict for second task, got %v", err)
	}

	fetched, err := library.GetProject(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("GetProject returned error: %v", err)
	}
	if fetched.LockedByTask != 11 {
		t.Fatalf("expected lock held by task 11, got %d", fetched.LockedByTask)
	}
}

func TestLockMissingProject(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	library := testsupport.MustOpenLibrary(t, cfg)

	err := library.Lock(context.Background(), "missing", 3)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUnlockOnlyReleasesHolder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	library := testsupport.MustOpenLibrary(t, cfg)
	project := testsupport.NewProject(t, library, "Release Me")

	if err := library.Lock(context.Background(), project.ID, 5); err != nil {
		t.Fatalf("Lock returned error: %v", err)
	}
	// A non-holder unlock is a silent no-op.
	if err := library.Unlock(context.Background(), project.ID, 6); err != nil {
		t.Fatalf("Unlock by non-holder returned error: %v", err)
	}
	fetched, _ := library.GetProject(context.Background(), project.ID)
	if fetched.LockedByTask != 5 {
		t.Fatalf("non-holder unlock released the lock: %d", fetched.LockedByTask)
	}

	if err := library.Unlock(context.Background(), project.ID, 5); err != nil {
		t.Fatalf("Unlock returned error: %v", err)
	}
	fetched, _ = library.GetProject(context.Background(), project.ID)
	if fetched.Locked() {
		t.Fatal("expected project to be unlocked")
	}
}

func TestDeleteProjectRefusedWhileLocked(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	library := testsupport.MustOpenLibrary(t, cfg)
	project := testsupport.NewProject(t, library, "Protected")

	if err := library.Lock(context.Background(), project.ID, 9); err != nil {
		t.Fatalf("Lock returned error: %v", err)
	}
	if _, err := library.DeleteProject(context.Background(), project.ID); !services.IsLocked(err) {
		t.Fatalf("expected lock conflict on delete, got %v", err)
	}

	if err := library.Unlock(context.Background(), project.ID, 9); err != nil {
		t.Fatalf("Unlock returned error: %v", err)
	}
	deleted, err := library.DeleteProject(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("DeleteProject returned error: %v", err)
	}
	if !deleted {
		t.Fatal("expected delete to report success")
	}
	fetched, err := library.GetProject(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("GetProject returned error: %v", err)
	}
	if fetched != nil {
		t.Fatal("expected project to be gone")
	}
}

func TestDeleteProjectMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	library := testsupport.MustOpenLibrary(t, cfg)

	deleted, err := library.DeleteProject(context.Background(), "missing")
	if err != nil {
		t.Fatalf("DeleteProject returned error: %v", err)
	}
	if deleted {
		t.Fatal("expected no-op for missing project")
	}
}
