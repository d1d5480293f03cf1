package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"slate/internal/config"
	"slate/internal/notifications"
	"slate/internal/testsupport"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newNtfyServer(t *testing.T) (*httptest.Server, func() []captured) {
	t.Helper()
	var mu sync.Mutex
	var requests []captured
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
	}))
	t.Cleanup(server.Close)
	return server, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		cp := make([]captured, len(requests))
		copy(cp, requests)
		return cp
	}
}

func ntfyConfig(t *testing.T, topic string) *config.Config {
	t.Helper()
	return testsupport.NewConfig(t, testsupport.WithNtfyTopic(topic))
}

func TestNewServiceWithoutTopicIsNoop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	service := notifications.NewService(cfg)
	// No server is running anywhere; a real sender would fail.
	if err := service.TestNotification(context.Background()); err != nil {
		t.Fatalf("expected noop service, got %v", err)
	}
	if err := service.NotifyError(context.Background(), errors.New("boom"), "test"); err != nil {
		t.Fatalf("expected noop service, got %v", err)
	}
}

func TestNotifyTaskCompletedSendsHighPriority(t *testing.T) {
	server, requests := newNtfyServer(t)
	service := notifications.NewService(ntfyConfig(t, server.URL))

	if err := service.NotifyTaskCompleted(context.Background(), "Night Crossing", 12); err != nil {
		t.Fatalf("NotifyTaskCompleted returned error: %v", err)
	}

	got := requests()
	if len(got) != 1 {
		t.Fatalf("expected 1 request, got %d", len(got))
	}
	if got[0].priority != "high" {
		t.Fatalf("expected high priority, got %q", got[0].priority)
	}
	if !strings.Contains(got[0].body, "Night Crossing") || !strings.Contains(got[0].body, "task 12") {
		t.Fatalf("unexpected body %q", got[0].body)
	}
	if !strings.Contains(got[0].tags, "workflow") {
		t.Fatalf("unexpected tags %q", got[0].tags)
	}
}

func TestNotifyErrorIncludesContext(t *testing.T) {
	server, requests := newNtfyServer(t)
	service := notifications.NewService(ntfyConfig(t, server.URL))

	err := service.NotifyError(context.Background(), errors.New("vendor said no"), "task 7 (animatic)")
	if err != nil {
		t.Fatalf("NotifyError returned error: %v", err)
	}

	got := requests()
	if len(got) != 1 {
		t.Fatalf("expected 1 request, got %d", len(got))
	}
	if !strings.Contains(got[0].body, "task 7 (animatic)") || !strings.Contains(got[0].body, "vendor said no") {
		t.Fatalf("unexpected body %q", got[0].body)
	}
}

func TestDisabledCategoriesAreSilent(t *testing.T) {
	server, requests := newNtfyServer(t)
	cfg := ntfyConfig(t, server.URL)
	cfg.Notifications.Storyboard = false
	cfg.Notifications.Queue = false
	service := notifications.NewService(cfg)

	if err := service.NotifyStoryboardComplete(context.Background(), "Muted", 12); err != nil {
		t.Fatalf("NotifyStoryboardComplete returned error: %v", err)
	}
	if err := service.NotifyTaskCompleted(context.Background(), "Muted", 3); err != nil {
		t.Fatalf("NotifyTaskCompleted returned error: %v", err)
	}
	if err := service.NotifyQueueCompleted(context.Background(), 4, 0, time.Minute); err != nil {
		t.Fatalf("NotifyQueueCompleted returned error: %v", err)
	}

	if got := requests(); len(got) != 0 {
		t.Fatalf("expected no requests for disabled categories, got %d", len(got))
	}
}

func TestNotifyQueueCompletedMessageShapes(t *testing.T) {
	server, requests := newNtfyServer(t)
	service := notifications.NewService(ntfyConfig(t, server.URL))

	if err := service.NotifyQueueCompleted(context.Background(), 5, 0, 90*time.Second); err != nil {
		t.Fatalf("NotifyQueueCompleted returned error: %v", err)
	}
	if err := service.NotifyQueueCompleted(context.Background(), 3, 2, time.Minute); err != nil {
		t.Fatalf("NotifyQueueCompleted returned error: %v", err)
	}

	got := requests()
	if len(got) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(got))
	}
	if !strings.Contains(got[0].body, "5 tasks processed in 1m30s") {
		t.Fatalf("unexpected clean-run body %q", got[0].body)
	}
	if !strings.Contains(got[1].body, "3 succeeded, 2 failed") {
		t.Fatalf("unexpected failure-run body %q", got[1].body)
	}
	if !strings.Contains(got[1].title, "with errors") {
		t.Fatalf("unexpected failure-run title %q", got[1].title)
	}
}

func TestSendSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic limit reached", http.StatusTooManyRequests)
	}))
	defer server.Close()

	service := notifications.NewService(ntfyConfig(t, server.URL))
	err := service.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected ntfy error to surface, got %v", err)
	}
}
