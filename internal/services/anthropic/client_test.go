package anthropic_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"slate/internal/services"
	"slate/internal/services/anthropic"
)

func newTestClient(t *testing.T, baseURL string) *anthropic.Client {
	t.Helper()
	return anthropic.NewClient(
		anthropic.Config{APIKey: "test-key", BaseURL: baseURL, Model: "test-model"},
		anthropic.WithSleeper(func(time.Duration) {}),
	)
}

func messagesBody(text string) string {
	return `{"content":[{"type":"text","text":"` + text + `"}],"stop_reason":"end_turn"}`
}

func TestCompleteSendsHeadersAndConcatenatesText(t *testing.T) {
	var gotPath, gotKey, gotVersion string
	var gotPayload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"hello "},{"type":"tool_use","text":"skip"},{"type":"text","text":"world"}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	content, err := client.Complete(context.Background(), "be brief", "say hello")
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if content != "hello world" {
		t.Fatalf("unexpected content %q", content)
	}
	if gotPath != "/v1/messages" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotKey != "test-key" || gotVersion != "2023-06-01" {
		t.Fatalf("unexpected headers key=%q version=%q", gotKey, gotVersion)
	}
	if gotPayload["system"] != "be brief" || gotPayload["model"] != "test-model" {
		t.Fatalf("unexpected payload: %+v", gotPayload)
	}
}

func TestCompleteRequiresPromptAndKey(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1")
	if _, err := client.Complete(context.Background(), "", "  "); err == nil {
		t.Fatal("expected error for empty prompt")
	}

	keyless := anthropic.NewClient(anthropic.Config{BaseURL: "http://127.0.0.1:1"})
	_, err := keyless.Complete(context.Background(), "", "hello")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestCompleteRetriesOnOverload(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(messagesBody("ok")))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	content, err := client.Complete(context.Background(), "", "hello")
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if content != "ok" {
		t.Fatalf("unexpected content %q", content)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestCompleteStopsOnValidationErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Complete(context.Background(), "", "hello")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation classification, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt for 400, got %d", calls.Load())
	}
}

func TestCompleteRejectsEmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[],"stop_reason":"max_tokens"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if _, err := client.Complete(context.Background(), "", "hello"); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestCompleteJSONDecodesFencedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fenced := "```json\\n{\\\"title\\\": \\\"Heat\\\"}\\n```"
		_, _ = w.Write([]byte(messagesBody(fenced)))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	var decoded struct {
		Title string `json:"title"`
	}
	if err := client.CompleteJSON(context.Background(), "", "give me json", &decoded); err != nil {
		t.Fatalf("CompleteJSON returned error: %v", err)
	}
	if decoded.Title != "Heat" {
		t.Fatalf("unexpected decode: %+v", decoded)
	}
}

func TestDecodeModelJSON(t *testing.T) {
	type payload struct {
		Title string `json:"title"`
	}

	cases := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{"plain", `{"title":"Heat"}`, "Heat", false},
		{"fenced", "```json\n{\"title\":\"Heat\"}\n```", "Heat", false},
		{"prose wrapped", `Here is the result: {"title":"Heat"} hope that helps`, "Heat", false},
		{"empty", "   ", "", true},
		{"no json", "no structured data here", "", true},
	}
	for _, tc := range cases {
		var out payload
		err := anthropic.DecodeModelJSON(tc.content, &out)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tc.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
			continue
		}
		if out.Title != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, out.Title, tc.want)
		}
	}
}
