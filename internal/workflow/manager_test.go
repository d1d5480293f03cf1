package workflow_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"slate/internal/queue"
	"slate/internal/services"
	"slate/internal/stage"
	"slate/internal/testsupport"
	"slate/internal/workflow"
)

type fakeHandler struct {
	name    string
	execute func(context.Context, *queue.Task) error
	calls   atomic.Int32
}

func (f *fakeHandler) Prepare(context.Context, *queue.Task) error { return nil }

func (f *fakeHandler) Execute(ctx context.Context, task *queue.Task) error {
	f.calls.Add(1)
	if f.execute != nil {
		return f.execute(ctx, task)
	}
	return nil
}

func (f *fakeHandler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(f.name)
}

type recordingNotifier struct {
	mu        sync.Mutex
	completed []int64
	errors    []string
}

func (r *recordingNotifier) NotifyStoryboardComplete(context.Context, string, int) error { return nil }
func (r *recordingNotifier) NotifyRenderComplete(context.Context, string, int) error     { return nil }

func (r *recordingNotifier) NotifyTaskCompleted(_ context.Context, _ string, taskID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, taskID)
	return nil
}

func (r *recordingNotifier) NotifyQueueCompleted(context.Context, int, int, time.Duration) error {
	return nil
}

func (r *recordingNotifier) NotifyError(_ context.Context, err error, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err.Error())
	return nil
}

func (r *recordingNotifier) TestNotification(context.Context) error { return nil }

func (r *recordingNotifier) snapshot() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completed), len(r.errors)
}

func passingStages() (workflow.StageSet, map[string]*fakeHandler) {
	handlers := map[string]*fakeHandler{
		"storyboard": {name: "storyboard"},
		"stills":     {name: "stills"},
		"animatic":   {name: "animatic"},
		"assembly":   {name: "assembly"},
	}
	return workflow.StageSet{
		Storyboard: handlers["storyboard"],
		Stills:     handlers["stills"],
		Animatic:   handlers["animatic"],
		Assembly:   handlers["assembly"],
	}, handlers
}

func waitForStatus(t *testing.T, store *queue.Store, taskID int64, want queue.Status) *queue.Task {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		task, err := store.GetByID(context.Background(), taskID)
		if err != nil {
			t.Fatalf("GetByID returned error: %v", err)
		}
		if task != nil && task.Status == want {
			return task
		}
		time.Sleep(50 * time.Millisecond)
	}
	task, _ := store.GetByID(context.Background(), taskID)
	t.Fatalf("task never reached %s, last seen: %+v", want, task)
	return nil
}

func TestManagerRunsFullPipeline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	library := testsupport.MustOpenLibrary(t, cfg)
	project := testsupport.NewProject(t, library, "Pipeline Run")
	task := testsupport.NewTask(t, store, project.ID)

	notifier := &recordingNotifier{}
	manager := workflow.NewManagerWithNotifier(cfg, store, library, nil, notifier)
	set, handlers := passingStages()
	manager.ConfigureStages(set)

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer manager.Stop()

	finished := waitForStatus(t, store, task.ID, queue.StatusCompleted)
	if finished.FinishedAt == nil {
		t.Fatal("expected finished timestamp")
	}
	if finished.ProgressPercent != 100 {
		t.Fatalf("expected complete progress, got %f", finished.ProgressPercent)
	}
	for name, handler := range handlers {
		if handler.calls.Load() != 1 {
			t.Errorf("stage %s executed %d times", name, handler.calls.Load())
		}
	}

	// The advisory lock is released once the pipeline finishes.
	fetched, err := library.GetProject(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("GetProject returned error: %v", err)
	}
	if fetched.Locked() {
		t.Fatalf("expected project unlocked, held by %d", fetched.LockedByTask)
	}

	completed, errored := notifier.snapshot()
	if completed != 1 || errored != 0 {
		t.Fatalf("unexpected notifications: %d completed, %d errors", completed, errored)
	}
}

func TestManagerRequeuesRetryableFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	library := testsupport.MustOpenLibrary(t, cfg)
	project := testsupport.NewProject(t, library, "Flaky Vendor")
	task := testsupport.NewTask(t, store, project.ID)

	notifier := &recordingNotifier{}
	manager := workflow.NewManagerWithNotifier(cfg, store, library, nil, notifier)
	set, handlers := passingStages()
	handlers["storyboard"].execute = func(context.Context, *queue.Task) error {
		if handlers["storyboard"].calls.Load() == 1 {
			return services.Wrap(services.ErrRateLimited, "storyboard", "complete", "throttled", nil)
		}
		return nil
	}
	manager.ConfigureStages(set)

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer manager.Stop()

	waitForStatus(t, store, task.ID, queue.StatusCompleted)
	if got := handlers["storyboard"].calls.Load(); got != 2 {
		t.Fatalf("expected storyboard to run twice, got %d", got)
	}
	if _, errored := notifier.snapshot(); errored != 0 {
		t.Fatal("retryable failures must not page")
	}
}

func TestManagerFailsTaskOnPermanentError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	library := testsupport.MustOpenLibrary(t, cfg)
	project := testsupport.NewProject(t, library, "Bad Prompt")
	task := testsupport.NewTask(t, store, project.ID)

	notifier := &recordingNotifier{}
	manager := workflow.NewManagerWithNotifier(cfg, store, library, nil, notifier)
	set, handlers := passingStages()
	handlers["storyboard"].execute = func(context.Context, *queue.Task) error {
		return services.Wrap(services.ErrValidation, "storyboard", "parse", "model returned prose", nil)
	}
	manager.ConfigureStages(set)

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer manager.Stop()

	failed := waitForStatus(t, store, task.ID, queue.StatusFailed)
	if failed.ErrorMessage == "" {
		t.Fatal("expected error message on failed task")
	}
	if handlers["stills"].calls.Load() != 0 {
		t.Fatal("later stages must not run after a permanent failure")
	}

	fetched, _ := library.GetProject(context.Background(), project.ID)
	if fetched.Locked() {
		t.Fatal("expected lock released after failure")
	}
	if fetched.Status != "failed" {
		t.Fatalf("expected project marked failed, got %q", fetched.Status)
	}

	_, errored := notifier.snapshot()
	if errored != 1 {
		t.Fatalf("expected one error notification, got %d", errored)
	}
}

func TestManagerLeavesTaskQueuedWhileProjectLocked(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	library := testsupport.MustOpenLibrary(t, cfg)
	project := testsupport.NewProject(t, library, "Contended")
	task := testsupport.NewTask(t, store, project.ID)

	// Another task already owns the project.
	if err := library.Lock(context.Background(), project.ID, task.ID+1000); err != nil {
		t.Fatalf("Lock returned error: %v", err)
	}

	manager := workflow.NewManagerWithNotifier(cfg, store, library, nil, &recordingNotifier{})
	set, handlers := passingStages()
	manager.ConfigureStages(set)

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer manager.Stop()

	time.Sleep(2500 * time.Millisecond)
	queued, err := store.GetByID(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if queued.Status != queue.StatusPending {
		t.Fatalf("expected task to stay pending, got %s", queued.Status)
	}
	if handlers["storyboard"].calls.Load() != 0 {
		t.Fatal("stage must not run while the project is locked")
	}

	// Releasing the lock lets the pipeline proceed.
	if err := library.Unlock(context.Background(), project.ID, task.ID+1000); err != nil {
		t.Fatalf("Unlock returned error: %v", err)
	}
	waitForStatus(t, store, task.ID, queue.StatusCompleted)
}

func TestManagerFailsAttemptsThatOutliveTheRuntimeWindow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	library := testsupport.MustOpenLibrary(t, cfg)
	project := testsupport.NewProject(t, library, "Hung Vendor")
	task := testsupport.NewTask(t, store, project.ID)

	// Hold the project lock so the poll loop cannot claim the task while
	// the test stages it as a long-running attempt.
	if err := library.Lock(context.Background(), project.ID, task.ID+1000); err != nil {
		t.Fatalf("Lock returned error: %v", err)
	}

	notifier := &recordingNotifier{}
	manager := workflow.NewManagerWithNotifier(cfg, store, library, nil, notifier)
	set, _ := passingStages()
	manager.ConfigureStages(set)

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer manager.Stop()

	// An attempt that started a day ago but still heartbeats: reclaim must
	// skip it, the runtime window sweep must fail it.
	started := time.Now().UTC().Add(-24 * time.Hour)
	beat := time.Now().UTC()
	task.Status = queue.StatusAnimating
	task.StartedAt = &started
	task.LastHeartbeat = &beat
	if err := store.Update(context.Background(), task); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	failed := waitForStatus(t, store, task.ID, queue.StatusFailed)
	if failed.ErrorMessage != workflow.StaleTaskReason {
		t.Fatalf("unexpected error message: %q", failed.ErrorMessage)
	}
}

func TestStageHealthReportsEveryRegisteredStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	library := testsupport.MustOpenLibrary(t, cfg)

	manager := workflow.NewManagerWithNotifier(cfg, store, library, nil, &recordingNotifier{})
	set, _ := passingStages()
	manager.ConfigureStages(set)

	health := manager.StageHealth(context.Background())
	if len(health) != 4 {
		t.Fatalf("expected 4 stages, got %d", len(health))
	}
	for _, h := range health {
		if !h.Ready {
			t.Fatalf("expected ready stage, got %+v", h)
		}
	}
}

func TestStatusSnapshot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	library := testsupport.MustOpenLibrary(t, cfg)
	project := testsupport.NewProject(t, library, "Snapshot")
	testsupport.NewTask(t, store, project.ID)

	manager := workflow.NewManagerWithNotifier(cfg, store, library, nil, &recordingNotifier{})
	summary := manager.Status(context.Background())
	if summary.Running {
		t.Fatal("expected stopped manager")
	}
	if summary.QueueStats[queue.StatusPending] != 1 {
		t.Fatalf("unexpected queue stats: %+v", summary.QueueStats)
	}
}
