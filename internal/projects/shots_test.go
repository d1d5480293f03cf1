package projects_test

import (
	"context"
	"testing"

	"slate/internal/projects"
	"slate/internal/testsupport"
)

func TestReplaceShotsAssignsOrderAndDefaults(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	library := testsupport.MustOpenLibrary(t, cfg)
	project := testsupport.NewProject(t, library, "Boards")

	shots := []*projects.Shot{
		{Title: "Opening", Prompt: "wide shot of the harbor at dawn"},
		{Title: "Arrival", Prompt: "a figure steps off the ferry"},
		{Title: "Reveal", Prompt: "close on the briefcase", Status: projects.ShotStatusStill},
	}
	if err := library.ReplaceShots(context.Background(), project.ID, shots); err != nil {
		t.Fatalf("ReplaceShots returned error: %v", err)
	}

	listed, err := library.ListShots(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("ListShots returned error: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected 3 shots, got %d", len(listed))
	}
	for i, shot := range listed {
		if shot.Idx != i+1 {
			t.Fatalf("shot %d has idx %d", i, shot.Idx)
		}
		if shot.ID == "" {
			t.Fatalf("shot %d missing generated id", i)
		}
		if shot.ProjectID != project.ID {
			t.Fatalf("shot %d bound to wrong project %q", i, shot.ProjectID)
		}
	}
	if listed[0].Status != projects.ShotStatusPlanned {
		t.Fatalf("expected planned default, got %q", listed[0].Status)
	}
	if listed[2].Status != projects.ShotStatusStill {
		t.Fatalf("expected explicit status preserved, got %q", listed[2].Status)
	}
}

func TestReplaceShotsDiscardsPreviousSet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	library := testsupport.MustOpenLibrary(t, cfg)
	project := testsupport.NewProject(t, library, "Regenerated")

	initial := []*projects.Shot{{Title: "Old A"}, {Title: "Old B"}}
	if err := library.ReplaceShots(context.Background(), project.ID, initial); err != nil {
		t.Fatalf("initial ReplaceShots returned error: %v", err)
	}
	if err := library.ReplaceShots(context.Background(), project.ID, []*projects.Shot{{Title: "New Only"}}); err != nil {
		t.Fatalf("second ReplaceShots returned error: %v", err)
	}

	listed, err := library.ListShots(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("ListShots returned error: %v", err)
	}
	if len(listed) != 1 || listed[0].Title != "New Only" {
		t.Fatalf("expected only the regenerated shot, got %+v", listed)
	}
}

func TestUpdateShotPersistsRenderPaths(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	library := testsupport.MustOpenLibrary(t, cfg)
	project := testsupport.NewProject(t, library, "Renders")

	if err := library.ReplaceShots(context.Background(), project.ID, []*projects.Shot{{Title: "One"}}); err != nil {
		t.Fatalf("ReplaceShots returned error: %v", err)
	}
	listed, err := library.ListShots(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("ListShots returned error: %v", err)
	}
	shot := listed[0]
	shot.Status = projects.ShotStatusAnimated
	shot.ImagePath = "/renders/one/still.png"
	shot.VideoPath = "/renders/one/clip.mp4"
	if err := library.UpdateShot(context.Background(), shot); err != nil {
		t.Fatalf("UpdateShot returned error: %v", err)
	}

	fetched, err := library.GetShot(context.Background(), shot.ID)
	if err != nil {
		t.Fatalf("GetShot returned error: %v", err)
	}
	if fetched.Status != projects.ShotStatusAnimated {
		t.Fatalf("expected animated status, got %q", fetched.Status)
	}
	if fetched.ImagePath != "/renders/one/still.png" || fetched.VideoPath != "/renders/one/clip.mp4" {
		t.Fatalf("render paths not persisted: %+v", fetched)
	}
}

func TestGetShotMissingReturnsNil(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	library := testsupport.MustOpenLibrary(t, cfg)

	shot, err := library.GetShot(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetShot returned error: %v", err)
	}
	if shot != nil {
		t.Fatalf("expected nil for missing shot, got %+v", shot)
	}
}

func TestDeleteShot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	library := testsupport.MustOpenLibrary(t, cfg)
	project := testsupport.NewProject(t, library, "Trim")

	if err := library.ReplaceShots(context.Background(), project.ID, []*projects.Shot{{Title: "Cut Me"}}); err != nil {
		t.Fatalf("ReplaceShots returned error: %v", err)
	}
	listed, _ := library.ListShots(context.Background(), project.ID)

	deleted, err := library.DeleteShot(context.Background(), listed[0].ID)
	if err != nil {
		t.Fatalf("DeleteShot returned error: %v", err)
	}
	if !deleted {
		t.Fatal("expected delete to report success")
	}
	if deleted, _ := library.DeleteShot(context.Background(), listed[0].ID); deleted {
		t.Fatal("expected second delete to be a no-op")
	}
}

func TestReplaceMicroShots(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	library := testsupport.MustOpenLibrary(t, cfg)
	project := testsupport.NewProject(t, library, "Split")

	if err := library.ReplaceShots(context.Background(), project.ID, []*projects.Shot{{Title: "Long Take"}}); err != nil {
		t.Fatalf("ReplaceShots returned error: %v", err)
	}
	listed, _ := library.ListShots(context.Background(), project.ID)
	shotID := listed[0].ID

	micros := []*projects.MicroShot{
		{Prompt: "hand reaches for the door"},
		{Prompt: "the door swings open"},
	}
	if err := library.ReplaceMicroShots(context.Background(), shotID, micros); err != nil {
		t.Fatalf("ReplaceMicroShots returned error: %v", err)
	}

	stored, err := library.ListMicroShots(context.Background(), shotID)
	if err != nil {
		t.Fatalf("ListMicroShots returned error: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 micro shots, got %d", len(stored))
	}
	if stored[0].Idx != 1 || stored[1].Idx != 2 {
		t.Fatalf("unexpected micro shot ordering: %d, %d", stored[0].Idx, stored[1].Idx)
	}
	if stored[0].Status != projects.ShotStatusPlanned {
		t.Fatalf("expected planned default, got %q", stored[0].Status)
	}

	// A second replace drops the previous clips.
	if err := library.ReplaceMicroShots(context.Background(), shotID, micros[:1]); err != nil {
		t.Fatalf("second ReplaceMicroShots returned error: %v", err)
	}
	stored, _ = library.ListMicroShots(context.Background(), shotID)
	if len(stored) != 1 {
		t.Fatalf("expected 1 micro shot after replace, got %d", len(stored))
	}
}

func TestUpdateMicroShot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	library := testsupport.MustOpenLibrary(t, cfg)
	project := testsupport.NewProject(t, library, "Clips")

	if err := library.ReplaceShots(context.Background(), project.ID, []*projects.Shot{{Title: "Base"}}); err != nil {
		t.Fatalf("ReplaceShots returned error: %v", err)
	}
	listed, _ := library.ListShots(context.Background(), project.ID)
	if err := library.ReplaceMicroShots(context.Background(), listed[0].ID, []*projects.MicroShot{{Prompt: "beat"}}); err != nil {
		t.Fatalf("ReplaceMicroShots returned error: %v", err)
	}
	micros, _ := library.ListMicroShots(context.Background(), listed[0].ID)

	micro := micros[0]
	micro.Status = projects.ShotStatusAnimated
	micro.VideoPath = "/renders/base/micro-1.mp4"
	if err := library.UpdateMicroShot(context.Background(), micro); err != nil {
		t.Fatalf("UpdateMicroShot returned error: %v", err)
	}

	micros, _ = library.ListMicroShots(context.Background(), listed[0].ID)
	if micros[0].Status != projects.ShotStatusAnimated || micros[0].VideoPath != "/renders/base/micro-1.mp4" {
		t.Fatalf("micro shot update not persisted: %+v", micros[0])
	}
}
