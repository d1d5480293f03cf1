package queue_test

import (
	"context"
	"testing"
	"time"

	"slate/internal/queue"
	"slate/internal/testsupport"
)

func TestUpdateHeartbeat(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	task := testsupport.NewTask(t, store, "project-1")
	if task.LastHeartbeat != nil {
		t.Fatal("expected no heartbeat on a fresh task")
	}

	if err := store.UpdateHeartbeat(ctx, task.ID); err != nil {
		t.Fatalf("UpdateHeartbeat failed: %v", err)
	}
	updated, err := store.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if updated.LastHeartbeat == nil {
		t.Fatal("expected heartbeat to be recorded")
	}
}

func TestReclaimStaleProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	stale := testsupport.NewTask(t, store, "stale")
	stale.Status = queue.StatusRendering
	old := time.Now().UTC().Add(-time.Hour)
	stale.LastHeartbeat = &old
	if err := store.Update(ctx, stale); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	fresh := testsupport.NewTask(t, store, "fresh")
	fresh.Status = queue.StatusRendering
	now := time.Now().UTC()
	fresh.LastHeartbeat = &now
	if err := store.Update(ctx, fresh); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	cutoff := time.Now().UTC().Add(-10 * time.Minute)
	count, err := store.ReclaimStaleProcessing(ctx, cutoff)
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 reclaimed, got %d", count)
	}

	reclaimed, err := store.GetByID(ctx, stale.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if reclaimed.Status != queue.StatusStoryboarded {
		t.Fatalf("expected storyboarded after reclaim, got %s", reclaimed.Status)
	}
	if reclaimed.LastHeartbeat != nil {
		t.Fatal("expected heartbeat cleared after reclaim")
	}

	untouched, err := store.GetByID(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if untouched.Status != queue.StatusRendering {
		t.Fatalf("expected fresh task untouched, got %s", untouched.Status)
	}
}

func TestReclaimStaleProcessingKeepsFinishedStages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	old := time.Now().UTC().Add(-time.Hour)
	want := map[queue.Status]queue.Status{
		queue.StatusStoryboarding: queue.StatusPending,
		queue.StatusRendering:     queue.StatusStoryboarded,
		queue.StatusAnimating:     queue.StatusRendered,
		queue.StatusAssembling:    queue.StatusAnimated,
	}

	ids := make(map[queue.Status]int64, len(want))
	for status := range want {
		task := testsupport.NewTask(t, store, "project-"+string(status))
		task.Status = status
		task.LastHeartbeat = &old
		if err := store.Update(ctx, task); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		ids[status] = task.ID
	}

	count, err := store.ReclaimStaleProcessing(ctx, time.Now().UTC().Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing failed: %v", err)
	}
	if count != int64(len(want)) {
		t.Fatalf("expected %d reclaimed, got %d", len(want), count)
	}

	for status, target := range want {
		task, err := store.GetByID(ctx, ids[status])
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if task.Status != target {
			t.Fatalf("stale %s task reclaimed to %s, want %s", status, task.Status, target)
		}
	}
}

func TestReclaimStaleProcessingWithoutHeartbeat(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	task := testsupport.NewTask(t, store, "crashed")
	task.Status = queue.StatusAnimating
	if err := store.Update(ctx, task); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// A crashed daemon never wrote a heartbeat; updated_at is the fallback.
	count, err := store.ReclaimStaleProcessing(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 reclaimed, got %d", count)
	}
	reclaimed, err := store.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if reclaimed.Status != queue.StatusRendered {
		t.Fatalf("expected rendered after reclaim, got %s", reclaimed.Status)
	}
}

func TestFailStaleProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	task := testsupport.NewTask(t, store, "zombie")
	task.Status = queue.StatusAssembling
	started := time.Now().UTC().Add(-2 * time.Hour)
	task.StartedAt = &started
	if err := store.Update(ctx, task); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	count, err := store.FailStaleProcessing(ctx, time.Now().UTC().Add(-time.Hour), queue.DaemonStopReason)
	if err != nil {
		t.Fatalf("FailStaleProcessing failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 failed, got %d", count)
	}

	failed, err := store.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if failed.Status != queue.StatusFailed {
		t.Fatalf("expected failed status, got %s", failed.Status)
	}
	if failed.ErrorMessage != queue.DaemonStopReason {
		t.Fatalf("unexpected error message: %q", failed.ErrorMessage)
	}
	if failed.FinishedAt == nil {
		t.Fatal("expected finished timestamp")
	}
}
