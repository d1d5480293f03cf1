package openai_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"slate/internal/services"
	"slate/internal/services/openai"
)

func newTestClient(t *testing.T, baseURL string) *openai.Client {
	t.Helper()
	return openai.NewClient(
		openai.Config{APIKey: "test-key", BaseURL: baseURL, Model: "test-model"},
		openai.WithSleeper(func(time.Duration) {}),
	)
}

func TestCompleteJSONRequestShape(t *testing.T) {
	var gotAuth string
	var gotPayload struct {
		Model          string            `json:"model"`
		ResponseFormat map[string]string `json:"response_format"`
		Messages       []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"ok\":true}"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	content, err := client.CompleteJSON(context.Background(), "you are terse", "give me json")
	if err != nil {
		t.Fatalf("CompleteJSON returned error: %v", err)
	}
	if content != `{"ok":true}` {
		t.Fatalf("unexpected content %q", content)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotPayload.ResponseFormat["type"] != "json_object" {
		t.Fatalf("expected json_object response format, got %+v", gotPayload.ResponseFormat)
	}
	if len(gotPayload.Messages) != 2 || gotPayload.Messages[0].Role != "system" || gotPayload.Messages[1].Role != "user" {
		t.Fatalf("unexpected messages: %+v", gotPayload.Messages)
	}
}

func TestCompleteJSONRequiresKeyAndPrompt(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1")
	if _, err := client.CompleteJSON(context.Background(), "", ""); err == nil {
		t.Fatal("expected error for empty prompt")
	}

	keyless := openai.NewClient(openai.Config{BaseURL: "http://127.0.0.1:1"})
	_, err := keyless.CompleteJSON(context.Background(), "", "hello")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestCompleteJSONSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"message":"model gone","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.CompleteJSON(context.Background(), "", "hello")
	if err == nil || !strings.Contains(err.Error(), "invalid_request_error") {
		t.Fatalf("expected api error to surface, got %v", err)
	}
}

func TestGenerateImageDecodesBase64(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G'}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			http.NotFound(w, r)
			return
		}
		var payload struct {
			Prompt string `json:"prompt"`
			N      int    `json:"n"`
			Size   string `json:"size"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload.N != 1 || payload.Size != "1024x576" {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString(raw)}},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	image, err := client.GenerateImage(context.Background(), "a harbor at dawn", "1024x576")
	if err != nil {
		t.Fatalf("GenerateImage returned error: %v", err)
	}
	if string(image) != string(raw) {
		t.Fatalf("unexpected image bytes %v", image)
	}
}

func TestGenerateImageRejectsURLOnlyResponses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"url":"https://cdn.example.test/img.png"}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if _, err := client.GenerateImage(context.Background(), "prompt", "1024x576"); err == nil {
		t.Fatal("expected error when no inline image is returned")
	}
}

func TestGenerateImageRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString([]byte("img"))}},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if _, err := client.GenerateImage(context.Background(), "prompt", "512x512"); err != nil {
		t.Fatalf("expected retries to recover, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}

	bad := openai.NewClient(openai.Config{APIKey: "wrong", BaseURL: server.URL})
	if err := bad.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check failure for bad key")
	}
}
