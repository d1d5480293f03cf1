package storyboard_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"slate/internal/config"
	"slate/internal/logging"
	"slate/internal/projects"
	"slate/internal/queue"
	"slate/internal/services"
	"slate/internal/storyboard"
	"slate/internal/testsupport"
)

// fakeGenerator serves canned JSON payloads into the stage's target structs.
type fakeGenerator struct {
	payload string
	err     error
	calls   int
}

func (f *fakeGenerator) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string, target any) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.payload), target)
}

func (f *fakeGenerator) HealthCheck(ctx context.Context) error { return nil }

type recordingNotifier struct {
	mu          sync.Mutex
	storyboards []int
}

func (r *recordingNotifier) NotifyStoryboardComplete(ctx context.Context, projectTitle string, shots int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storyboards = append(r.storyboards, shots)
	return nil
}

func (r *recordingNotifier) NotifyRenderComplete(context.Context, string, int) error  { return nil }
func (r *recordingNotifier) NotifyTaskCompleted(context.Context, string, int64) error { return nil }
func (r *recordingNotifier) NotifyQueueCompleted(context.Context, int, int, time.Duration) error {
	return nil
}
func (r *recordingNotifier) NotifyError(context.Context, error, string) error { return nil }
func (r *recordingNotifier) TestNotification(context.Context) error           { return nil }

type fixture struct {
	cfg      *config.Config
	store    *queue.Store
	library  *projects.Store
	client   *fakeGenerator
	notifier *recordingNotifier
	stage    *storyboard.Storyboard
}

func newFixture(t *testing.T, client *fakeGenerator) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	library := testsupport.MustOpenLibrary(t, cfg)
	notifier := &recordingNotifier{}
	return &fixture{
		cfg:      cfg,
		store:    store,
		library:  library,
		client:   client,
		notifier: notifier,
		stage:    storyboard.NewStoryboardWithDependencies(cfg, store, library, logging.NewNop(), client, notifier),
	}
}

func TestGenerateBoardPersistsShotsAndCast(t *testing.T) {
	client := &fakeGenerator{payload: `{
		"shots": [
			{"title": "Opening", "description": "dusk at the border", "prompt": "wide shot of the crossing at dusk", "transition": "cut"},
			{"title": "Blank", "prompt": "   "},
			{"title": "Chase", "prompt": "handheld pursuit through a freight yard", "transition": "dissolve"}
		],
		"characters": [
			{"name": "MARLOWE", "description": "weathered courier"},
			{"name": "  "}
		],
		"locations": [
			{"name": "Freight Yard", "interior": false}
		]
	}`}
	fix := newFixture(t, client)
	project := testsupport.NewProject(t, fix.library, "Night Crossing")
	task := testsupport.NewTask(t, fix.store, project.ID)

	if err := fix.stage.Execute(context.Background(), task); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	ctx := context.Background()
	shots, err := fix.library.ListShots(ctx, project.ID)
	if err != nil {
		t.Fatalf("ListShots: %v", err)
	}
	if len(shots) != 2 {
		t.Fatalf("expected blank prompt filtered, got %d shots", len(shots))
	}
	if shots[0].Title != "Opening" || shots[0].Idx != 1 || shots[0].Status != projects.ShotStatusPlanned {
		t.Fatalf("unexpected first shot %+v", shots[0])
	}
	if shots[1].Transition != "dissolve" {
		t.Fatalf("unexpected second shot %+v", shots[1])
	}

	characters, err := fix.library.ListCharacters(ctx, project.ID)
	if err != nil {
		t.Fatalf("ListCharacters: %v", err)
	}
	if len(characters) != 1 || characters[0].Name != "MARLOWE" {
		t.Fatalf("unexpected characters %+v", characters)
	}
	locations, err := fix.library.ListLocations(ctx, project.ID)
	if err != nil {
		t.Fatalf("ListLocations: %v", err)
	}
	if len(locations) != 1 || locations[0].Interior {
		t.Fatalf("unexpected locations %+v", locations)
	}

	updated, err := fix.library.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if updated.Status != projects.ProjectStatusProducing || updated.ShotCount != 2 {
		t.Fatalf("unexpected project state %+v", updated)
	}

	if !strings.Contains(task.ResultJSON, `"shots":2`) {
		t.Fatalf("expected result json, got %q", task.ResultJSON)
	}
	if len(fix.notifier.storyboards) != 1 || fix.notifier.storyboards[0] != 2 {
		t.Fatalf("expected storyboard notification with 2 shots, got %v", fix.notifier.storyboards)
	}
}

func TestGenerateBoardRejectsEmptyShotList(t *testing.T) {
	fix := newFixture(t, &fakeGenerator{payload: `{"shots": []}`})
	project := testsupport.NewProject(t, fix.library, "Night Crossing")
	task := testsupport.NewTask(t, fix.store, project.ID)

	err := fix.stage.Execute(context.Background(), task)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if !strings.Contains(err.Error(), "no shots") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestGenerateBoardPropagatesModelErrorMarker(t *testing.T) {
	modelErr := services.Wrap(services.ErrRateLimited, "anthropic", "messages", "rate limited", nil)
	fix := newFixture(t, &fakeGenerator{err: modelErr})
	project := testsupport.NewProject(t, fix.library, "Night Crossing")
	task := testsupport.NewTask(t, fix.store, project.ID)

	err := fix.stage.Execute(context.Background(), task)
	if !errors.Is(err, services.ErrRateLimited) {
		t.Fatalf("expected rate-limit marker to survive, got %v", err)
	}
}

func TestPrepareRequiresExistingProject(t *testing.T) {
	fix := newFixture(t, &fakeGenerator{})
	task := &queue.Task{ID: 1, ProjectID: "missing", Kind: queue.KindProduction}

	err := fix.stage.Prepare(context.Background(), task)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestPrepareShotRedoValidatesShot(t *testing.T) {
	fix := newFixture(t, &fakeGenerator{})
	project := testsupport.NewProject(t, fix.library, "Night Crossing")

	task := &queue.Task{ID: 1, ProjectID: project.ID, Kind: queue.KindShotRedo}
	if err := fix.stage.Prepare(context.Background(), task); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error without shot id, got %v", err)
	}

	task.ShotID = "not-a-real-shot"
	if err := fix.stage.Prepare(context.Background(), task); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found error for unknown shot, got %v", err)
	}
}

func TestRegenerateShotResetsRenderArtifacts(t *testing.T) {
	fix := newFixture(t, &fakeGenerator{payload: `{"prompt": "tighter framing on the courier", "transition": "match cut"}`})
	project := testsupport.NewProject(t, fix.library, "Night Crossing")
	ctx := context.Background()

	err := fix.library.ReplaceShots(ctx, project.ID, []*projects.Shot{{
		Title:     "Chase",
		Prompt:    "old prompt",
		Status:    projects.ShotStatusAnimated,
		ImagePath: "/img/chase.png",
		VideoPath: "/clips/chase.mp4",
	}})
	if err != nil {
		t.Fatalf("ReplaceShots: %v", err)
	}
	shots, err := fix.library.ListShots(ctx, project.ID)
	if err != nil {
		t.Fatalf("ListShots: %v", err)
	}

	task := &queue.Task{ID: 1, ProjectID: project.ID, ShotID: shots[0].ID, Kind: queue.KindShotRedo}
	if err := fix.stage.Execute(ctx, task); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	updated, err := fix.library.GetShot(ctx, shots[0].ID)
	if err != nil {
		t.Fatalf("GetShot: %v", err)
	}
	if updated.Prompt != "tighter framing on the courier" || updated.Transition != "match cut" {
		t.Fatalf("unexpected regenerated shot %+v", updated)
	}
	if updated.Status != projects.ShotStatusPlanned || updated.ImagePath != "" || updated.VideoPath != "" {
		t.Fatalf("render artifacts should be reset, got %+v", updated)
	}
}

func TestSplitShotStoresMicroShots(t *testing.T) {
	fix := newFixture(t, &fakeGenerator{payload: `{"prompts": ["courier ducks under the gate", "  ", "boots splash through a puddle"]}`})
	project := testsupport.NewProject(t, fix.library, "Night Crossing")
	ctx := context.Background()

	if err := fix.library.ReplaceShots(ctx, project.ID, []*projects.Shot{{Title: "Chase", Prompt: "pursuit"}}); err != nil {
		t.Fatalf("ReplaceShots: %v", err)
	}
	shots, err := fix.library.ListShots(ctx, project.ID)
	if err != nil {
		t.Fatalf("ListShots: %v", err)
	}

	task := &queue.Task{ID: 1, ProjectID: project.ID, ShotID: shots[0].ID, Kind: queue.KindMicroShots}
	if err := fix.stage.Execute(ctx, task); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	micros, err := fix.library.ListMicroShots(ctx, shots[0].ID)
	if err != nil {
		t.Fatalf("ListMicroShots: %v", err)
	}
	if len(micros) != 2 {
		t.Fatalf("expected 2 micro shots, got %d", len(micros))
	}
	if micros[0].Idx != 1 || micros[1].Prompt != "boots splash through a puddle" {
		t.Fatalf("unexpected micro shots %+v", micros)
	}
}

func TestHealthCheckRequiresAPIKey(t *testing.T) {
	fix := newFixture(t, &fakeGenerator{})
	if health := fix.stage.HealthCheck(context.Background()); !health.Ready {
		t.Fatalf("expected healthy stage with configured key, got %+v", health)
	}

	fix.cfg.Anthropic.APIKey = ""
	if health := fix.stage.HealthCheck(context.Background()); health.Ready {
		t.Fatal("expected unhealthy stage without api key")
	}
}
