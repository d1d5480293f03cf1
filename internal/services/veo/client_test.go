package veo_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"slate/internal/services"
	"slate/internal/services/veo"
)

type staticTokens struct {
	token string
	err   error
	calls atomic.Int32
}

func (s *staticTokens) Token(context.Context) (string, error) {
	s.calls.Add(1)
	return s.token, s.err
}

func TestNewClientRequiresProjectID(t *testing.T) {
	_, err := veo.NewClient(veo.Config{}, veo.WithTokenSource(&staticTokens{token: "t"}))
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestGenerateRequiresPrompt(t *testing.T) {
	client, err := veo.NewClient(
		veo.Config{ProjectID: "proj", Model: "veo-3.0-generate-001"},
		veo.WithTokenSource(&staticTokens{token: "t"}),
	)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	if _, err := client.Generate(context.Background(), veo.GenerateRequest{Prompt: "  "}); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestHealthCheckDelegatesToTokenSource(t *testing.T) {
	source := &staticTokens{token: "t"}
	client, err := veo.NewClient(veo.Config{ProjectID: "proj"}, veo.WithTokenSource(source))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
	if source.calls.Load() != 1 {
		t.Fatalf("expected one token call, got %d", source.calls.Load())
	}

	broken := &staticTokens{err: errors.New("bad credentials")}
	client, err = veo.NewClient(veo.Config{ProjectID: "proj"}, veo.WithTokenSource(broken))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check failure")
	}
}

func writeServiceAccount(t *testing.T, tokenURI string) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pemKey := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	account := map[string]string{
		"client_email": "svc@test.iam.gserviceaccount.com",
		"private_key":  string(pemKey),
		"token_uri":    tokenURI,
	}
	encoded, err := json.Marshal(account)
	if err != nil {
		t.Fatalf("encode service account: %v", err)
	}
	path := filepath.Join(t.TempDir(), "service-account.json")
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		t.Fatalf("write service account: %v", err)
	}
	return path
}

func TestTokenExchangeAndCaching(t *testing.T) {
	var exchanges atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if r.Form.Get("grant_type") != "urn:ietf:params:oauth:grant-type:jwt-bearer" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		// The assertion must be a three-part JWT signed over header.claims.
		if parts := strings.Split(r.Form.Get("assertion"), "."); len(parts) != 3 {
			http.Error(w, "bad assertion", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "minted-token",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	path := writeServiceAccount(t, server.URL)
	client, err := veo.NewClient(veo.Config{ProjectID: "proj", ServiceAccountPath: path})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("first HealthCheck returned error: %v", err)
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("second HealthCheck returned error: %v", err)
	}
	if exchanges.Load() != 1 {
		t.Fatalf("expected the token to be cached, got %d exchanges", exchanges.Load())
	}
}

func TestNewClientRejectsBrokenServiceAccount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service-account.json")
	if err := os.WriteFile(path, []byte(`{"client_email":"","private_key":""}`), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := veo.NewClient(veo.Config{ProjectID: "proj", ServiceAccountPath: path}); err == nil {
		t.Fatal("expected error for service account without client_email")
	}

	if _, err := veo.NewClient(veo.Config{ProjectID: "proj", ServiceAccountPath: filepath.Join(t.TempDir(), "missing.json")}); err == nil {
		t.Fatal("expected error for missing service account file")
	}
}
