package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"slate/internal/api"
	"slate/internal/logging"
	"slate/internal/notifications"
	"slate/internal/projects"
	"slate/internal/queue"
	"slate/internal/testsupport"
	"slate/internal/workflow"
)

type apiFixture struct {
	server  *httptest.Server
	store   *queue.Store
	library *projects.Store
	daemon  *Daemon
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	library := testsupport.MustOpenLibrary(t, cfg)
	logger := logging.NewNop()
	wf := workflow.NewManagerWithNotifier(cfg, store, library, logger, notifications.NewService(cfg))

	d, err := New(cfg, store, library, logger, wf)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if d.api == nil {
		t.Fatal("expected api server to be configured")
	}

	server := httptest.NewServer(d.api.server.Handler)
	t.Cleanup(server.Close)
	return &apiFixture{server: server, store: store, library: library, daemon: d}
}

func (f *apiFixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s response: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestNewAPIServerDisabledWithoutBind(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = "  "
	store := testsupport.MustOpenStore(t, cfg)
	library := testsupport.MustOpenLibrary(t, cfg)
	logger := logging.NewNop()
	wf := workflow.NewManagerWithNotifier(cfg, store, library, logger, notifications.NewService(cfg))

	d, err := New(cfg, store, library, logger, wf)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if d.api != nil {
		t.Fatal("expected api server to be disabled without a bind address")
	}
	// Starting and stopping a nil server must be safe.
	if err := d.api.start(context.Background()); err != nil {
		t.Fatalf("nil api start returned error: %v", err)
	}
	d.api.stop()
}

func TestNewAPIServerRequiresDependencies(t *testing.T) {
	srv, err := newAPIServer(nil, nil, nil)
	if err != nil {
		t.Fatalf("newAPIServer returned error: %v", err)
	}
	if srv != nil {
		t.Fatalf("expected nil server without dependencies, got %+v", srv)
	}
}

func TestStatusEndpointReportsQueueAndPaths(t *testing.T) {
	fix := newAPIFixture(t)
	project := testsupport.NewProject(t, fix.library, "Night Crossing")
	testsupport.NewTask(t, fix.store, project.ID)

	var status api.DaemonStatus
	if code := fix.get(t, "/api/status", &status); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if status.Running {
		t.Fatal("daemon was never started, expected running=false")
	}
	if status.QueueDBPath == "" || status.LibraryDBPath == "" || status.LockFilePath == "" {
		t.Fatalf("expected database paths in status, got %+v", status)
	}
	if status.Workflow.QueueStats["pending"] != 1 {
		t.Fatalf("expected 1 pending task, got %v", status.Workflow.QueueStats)
	}
}

func TestStatusEndpointRejectsPost(t *testing.T) {
	fix := newAPIFixture(t)
	resp, err := http.Post(fix.server.URL+"/api/status", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST /api/status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestQueueEndpointFiltersByStatus(t *testing.T) {
	fix := newAPIFixture(t)
	project := testsupport.NewProject(t, fix.library, "Night Crossing")
	task := testsupport.NewTask(t, fix.store, project.ID)

	var list api.TaskListResponse
	if code := fix.get(t, "/api/queue", &list); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(list.Items) != 1 || list.Items[0].ID != task.ID {
		t.Fatalf("unexpected queue listing %+v", list.Items)
	}

	var filtered api.TaskListResponse
	if code := fix.get(t, "/api/queue?status=completed", &filtered); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(filtered.Items) != 0 {
		t.Fatalf("expected no completed tasks, got %+v", filtered.Items)
	}
}

func TestQueueEndpointRejectsUnknownStatus(t *testing.T) {
	fix := newAPIFixture(t)

	var body map[string]string
	if code := fix.get(t, "/api/queue?status=bogus", &body); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if !strings.Contains(body["error"], "bogus") {
		t.Fatalf("expected error to name the bad status, got %q", body["error"])
	}
}

func TestQueueTaskEndpoint(t *testing.T) {
	fix := newAPIFixture(t)
	project := testsupport.NewProject(t, fix.library, "Night Crossing")
	task := testsupport.NewTask(t, fix.store, project.ID)

	var single api.TaskResponse
	if code := fix.get(t, fmt.Sprintf("/api/queue/%d", task.ID), &single); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if single.Item.ID != task.ID || single.Item.Status != "pending" {
		t.Fatalf("unexpected task payload %+v", single.Item)
	}

	if code := fix.get(t, "/api/queue/999999", nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing task, got %d", code)
	}
	if code := fix.get(t, "/api/queue/not-a-number", nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", code)
	}
	if code := fix.get(t, "/api/queue/1/extra", nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for nested path, got %d", code)
	}
}

func TestProjectEndpoints(t *testing.T) {
	fix := newAPIFixture(t)
	project := testsupport.NewProject(t, fix.library, "Night Crossing")
	err := fix.library.ReplaceShots(context.Background(), project.ID, []*projects.Shot{
		{Title: "Opening", Prompt: "wide shot of the border crossing at dusk"},
		{Title: "Chase", Prompt: "handheld pursuit through a freight yard"},
	})
	if err != nil {
		t.Fatalf("ReplaceShots: %v", err)
	}

	var list api.ProjectListResponse
	if code := fix.get(t, "/api/projects", &list); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(list.Projects) != 1 || list.Projects[0].ID != project.ID {
		t.Fatalf("unexpected project listing %+v", list.Projects)
	}

	var detail api.ProjectResponse
	if code := fix.get(t, "/api/projects/"+project.ID, &detail); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if detail.Detail.Project.Title != "Night Crossing" {
		t.Fatalf("unexpected project detail %+v", detail.Detail.Project)
	}
	if len(detail.Detail.Shots) != 2 || detail.Detail.Shots[0].Idx != 1 {
		t.Fatalf("unexpected shots %+v", detail.Detail.Shots)
	}

	if code := fix.get(t, "/api/projects/missing", nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing project, got %d", code)
	}
}
