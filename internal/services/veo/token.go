package veo

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	tokenEndpoint = "https://oauth2.googleapis.com/token"
	tokenScope    = "https://www.googleapis.com/auth/cloud-platform"
	tokenGrant    = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	tokenLifetime = time.Hour
	// Refresh before the token actually expires.
	tokenSkew = 2 * time.Minute
)

type serviceAccountKey struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// tokenSource exchanges a signed service-account assertion for an OAuth
// access token and caches it until shortly before expiry.
type tokenSource struct {
	email    string
	key      *rsa.PrivateKey
	tokenURI string
	client   *http.Client
	now      func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func newTokenSource(path string, client *http.Client) (*tokenSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("veo token: read service account: %w", err)
	}
	var parsed serviceAccountKey
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("veo token: parse service account: %w", err)
	}
	if strings.TrimSpace(parsed.ClientEmail) == "" {
		return nil, errors.New("veo token: service account missing client_email")
	}
	key, err := parsePrivateKey(parsed.PrivateKey)
	if err != nil {
		return nil, err
	}
	uri := strings.TrimSpace(parsed.TokenURI)
	if uri == "" {
		uri = tokenEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &tokenSource{
		email:    parsed.ClientEmail,
		key:      key,
		tokenURI: uri,
		client:   client,
		now:      time.Now,
	}, nil
}

func parsePrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("veo token: service account private_key is not PEM")
	}
	if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("veo token: private key is not RSA")
		}
		return key, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("veo token: parse private key: %w", err)
	}
	return key, nil
}

// Token returns a cached access token, minting a fresh one when the cached
// token is absent or within the skew window of expiring.
func (t *tokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && t.now().Before(t.expires.Add(-tokenSkew)) {
		return t.token, nil
	}

	assertion, err := t.signAssertion()
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("grant_type", tokenGrant)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.tokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("veo token: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("veo token: exchange: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("veo token: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("veo token: exchange returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("veo token: decode response: %w", err)
	}
	if decoded.AccessToken == "" {
		return "", errors.New("veo token: exchange returned no access_token")
	}

	lifetime := time.Duration(decoded.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = tokenLifetime
	}
	t.token = decoded.AccessToken
	t.expires = t.now().Add(lifetime)
	return t.token, nil
}

// signAssertion builds the RS256 JWT the OAuth endpoint accepts as a
// service-account credential.
func (t *tokenSource) signAssertion() (string, error) {
	now := t.now()
	header := map[string]string{"alg": "RS256", "typ": "JWT"}
	claims := map[string]any{
		"iss":   t.email,
		"scope": tokenScope,
		"aud":   t.tokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(tokenLifetime).Unix(),
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("veo token: encode header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("veo token: encode claims: %w", err)
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(claimsJSON)
	digest := sha256.Sum256([]byte(signingInput))
	signature, err := rsa.SignPKCS1v15(rand.Reader, t.key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("veo token: sign assertion: %w", err)
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}
