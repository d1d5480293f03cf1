package kling

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"slate/internal/services"
	"slate/internal/services/retry"
)

const (
	defaultHTTPTimeout  = 60 * time.Second
	defaultPollInterval = 5 * time.Second
	defaultPollTimeout  = 10 * time.Minute
	// Kling tokens are short-lived; 30 minutes matches the vendor's examples.
	tokenLifetime = 30 * time.Minute
)

// Config captures the runtime settings for the Kling API.
type Config struct {
	AccessKey        string
	SecretKey        string
	BaseURL          string
	Model            string
	PollIntervalSecs int
	PollTimeoutSecs  int
}

// Client wraps the Kling image2video endpoint and its task polling.
type Client struct {
	cfg          Config
	httpClient   *http.Client
	pollInterval time.Duration
	pollTimeout  time.Duration
	sleeper      func(time.Duration)
	now          func() time.Time
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithSleeper overrides how polling sleeps are performed.
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// WithClock overrides the time source used for token expiry (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient constructs a Kling client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	client := &Client{
		cfg: Config{
			AccessKey:        strings.TrimSpace(cfg.AccessKey),
			SecretKey:        strings.TrimSpace(cfg.SecretKey),
			BaseURL:          strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			Model:            strings.TrimSpace(cfg.Model),
			PollIntervalSecs: cfg.PollIntervalSecs,
			PollTimeoutSecs:  cfg.PollTimeoutSecs,
		},
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
		pollInterval: defaultPollInterval,
		pollTimeout:  defaultPollTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(client)
	}
	if cfg.PollIntervalSecs > 0 {
		client.pollInterval = time.Duration(cfg.PollIntervalSecs) * time.Second
	}
	if cfg.PollTimeoutSecs > 0 {
		client.pollTimeout = time.Duration(cfg.PollTimeoutSecs) * time.Second
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = "https://api.klingai.com"
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return client
}

// authToken builds the HS256 JWT the API expects as a bearer credential.
func (c *Client) authToken() (string, error) {
	if c.cfg.AccessKey == "" || c.cfg.SecretKey == "" {
		return "", services.Wrap(services.ErrConfiguration, "", "kling", "access and secret keys required", nil)
	}
	now := c.now()
	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	claims := map[string]any{
		"iss": c.cfg.AccessKey,
		"exp": now.Add(tokenLifetime).Unix(),
		"nbf": now.Add(-5 * time.Second).Unix(),
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("kling auth: encode header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("kling auth: encode claims: %w", err)
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(claimsJSON)
	mac := hmac.New(sha256.New, []byte(c.cfg.SecretKey))
	mac.Write([]byte(signingInput))
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// GenerateRequest describes one image-to-video generation.
type GenerateRequest struct {
	Prompt     string
	ImageBytes []byte
	Duration   int // seconds
}

type createRequest struct {
	Model    string `json:"model_name"`
	Prompt   string `json:"prompt"`
	Image    string `json:"image,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type taskData struct {
	TaskID     string `json:"task_id"`
	TaskStatus string `json:"task_status"`
	TaskResult *struct {
		Videos []struct {
			URL      string `json:"url"`
			Duration string `json:"duration"`
		} `json:"videos"`
	} `json:"task_result"`
	TaskStatusMsg string `json:"task_status_msg"`
}

// Result is the outcome of a finished generation.
type Result struct {
	TaskID   string
	VideoURL string
}

// Generate creates an image2video task and polls it until it succeeds, fails,
// or the poll timeout elapses.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*Result, error) {
	taskID, err := c.create(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.await(ctx, taskID)
}

func (c *Client) create(ctx context.Context, req GenerateRequest) (string, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", errors.New("kling generate: prompt required")
	}
	payload := createRequest{
		Model:  c.cfg.Model,
		Prompt: prompt,
	}
	if len(req.ImageBytes) > 0 {
		payload.Image = base64.StdEncoding.EncodeToString(req.ImageBytes)
	}
	if req.Duration > 0 {
		payload.Duration = fmt.Sprintf("%d", req.Duration)
	}

	var data taskData
	if err := c.do(ctx, http.MethodPost, "/v1/videos/image2video", payload, &data, "kling generate"); err != nil {
		return "", err
	}
	if data.TaskID == "" {
		return "", errors.New("kling generate: response carried no task id")
	}
	return data.TaskID, nil
}

func (c *Client) await(ctx context.Context, taskID string) (*Result, error) {
	deadline := time.Now().Add(c.pollTimeout)

	for {
		var data taskData
		if err := c.do(ctx, http.MethodGet, "/v1/videos/image2video/"+taskID, nil, &data, "kling poll"); err != nil {
			return nil, err
		}
		switch data.TaskStatus {
		case "succeed":
			if data.TaskResult == nil || len(data.TaskResult.Videos) == 0 {
				return nil, errors.New("kling poll: task succeeded without videos")
			}
			return &Result{TaskID: taskID, VideoURL: data.TaskResult.Videos[0].URL}, nil
		case "failed":
			return nil, fmt.Errorf("kling poll: task failed: %s", strings.TrimSpace(data.TaskStatusMsg))
		}
		if time.Now().After(deadline) {
			return nil, services.Wrap(services.ErrTimeout, "animatic", "kling poll",
				fmt.Sprintf("task %s still %s after %s", taskID, data.TaskStatus, c.pollTimeout), nil)
		}
		if err := retry.Sleep(ctx, c.pollInterval, c.sleeper); err != nil {
			return nil, err
		}
	}
}

// Download fetches a finished clip from the URL the vendor returned.
func (c *Client) Download(ctx context.Context, videoURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("kling download: new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kling download: http error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &retry.HTTPStatusError{Op: "kling download", StatusCode: resp.StatusCode}
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("kling download: read body: %w", err)
	}
	return raw, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, target any, op string) error {
	token, err := c.authToken()
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: new request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: http error: %w", op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %w", op, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := retry.ParseRetryAfter(resp.Header.Get("Retry-After"))
		return &retry.HTTPStatusError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
			RetryAfter: retryAfter,
		}
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	if envelope.Code != 0 {
		return fmt.Errorf("%s: api error %d: %s", op, envelope.Code, strings.TrimSpace(envelope.Message))
	}
	if target != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, target); err != nil {
			return fmt.Errorf("%s: decode data: %w", op, err)
		}
	}
	return nil
}

// HealthCheck verifies the credentials can mint a token.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.authToken()
	return err
}
