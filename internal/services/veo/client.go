package veo

import (
	"bytes"
	"context"
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
	defaultPollInterval = 10 * time.Second
	defaultPollTimeout  = 10 * time.Minute
)

// Config captures the runtime settings for the Vertex AI Veo endpoint.
type Config struct {
	ProjectID          string
	Location           string
	Model              string
	ServiceAccountPath string
	PollIntervalSecs   int
	PollTimeoutSecs    int
}

// Client wraps the Veo predictLongRunning endpoint and its operation polling.
type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     interface {
		Token(ctx context.Context) (string, error)
	}
	pollInterval time.Duration
	pollTimeout  time.Duration
	sleeper      func(time.Duration)
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

// WithTokenSource overrides the service-account token source (used in tests).
func WithTokenSource(source interface {
	Token(ctx context.Context) (string, error)
}) Option {
	return func(c *Client) {
		if source != nil {
			c.tokens = source
		}
	}
}

// WithSleeper overrides how polling sleeps are performed.
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs a Veo client. The service account file is loaded
// lazily unless a token source is injected.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	client := &Client{
		cfg: Config{
			ProjectID:          strings.TrimSpace(cfg.ProjectID),
			Location:           strings.TrimSpace(cfg.Location),
			Model:              strings.TrimSpace(cfg.Model),
			ServiceAccountPath: strings.TrimSpace(cfg.ServiceAccountPath),
			PollIntervalSecs:   cfg.PollIntervalSecs,
			PollTimeoutSecs:    cfg.PollTimeoutSecs,
		},
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
		pollInterval: defaultPollInterval,
		pollTimeout:  defaultPollTimeout,
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
	if client.cfg.Location == "" {
		client.cfg.Location = "us-central1"
	}
	if client.cfg.ProjectID == "" {
		return nil, services.Wrap(services.ErrConfiguration, "", "veo", "project id required", nil)
	}
	if client.tokens == nil {
		source, err := newTokenSource(client.cfg.ServiceAccountPath, client.httpClient)
		if err != nil {
			return nil, err
		}
		client.tokens = source
	}
	return client, nil
}

func (c *Client) baseURL() string {
	return fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s",
		c.cfg.Location, c.cfg.ProjectID, c.cfg.Location)
}

// GenerateRequest describes one image-to-video generation.
type GenerateRequest struct {
	Prompt     string
	ImageBytes []byte // optional first frame
	ImageMIME  string
	Duration   int // seconds
}

type predictRequest struct {
	Instances  []predictInstance `json:"instances"`
	Parameters predictParams     `json:"parameters"`
}

type predictInstance struct {
	Prompt string        `json:"prompt"`
	Image  *predictImage `json:"image,omitempty"`
}

type predictImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}

type predictParams struct {
	DurationSeconds int `json:"durationSeconds,omitempty"`
	SampleCount     int `json:"sampleCount"`
}

type operationResponse struct {
	Name     string `json:"name"`
	Done     bool   `json:"done"`
	Error    *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Response *struct {
		Videos []struct {
			BytesBase64Encoded string `json:"bytesBase64Encoded"`
			GcsURI             string `json:"gcsUri"`
			MimeType           string `json:"mimeType"`
		} `json:"videos"`
	} `json:"response"`
}

// Result is the outcome of a finished generation.
type Result struct {
	VideoBytes []byte
	GcsURI     string
	MimeType   string
}

// Generate starts a long-running generation and polls the returned operation
// until it completes or the poll timeout elapses.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*Result, error) {
	name, err := c.start(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.await(ctx, name)
}

func (c *Client) start(ctx context.Context, req GenerateRequest) (string, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", errors.New("veo generate: prompt required")
	}

	instance := predictInstance{Prompt: prompt}
	if len(req.ImageBytes) > 0 {
		mime := req.ImageMIME
		if mime == "" {
			mime = "image/png"
		}
		instance.Image = &predictImage{
			BytesBase64Encoded: base64.StdEncoding.EncodeToString(req.ImageBytes),
			MimeType:           mime,
		}
	}
	payload := predictRequest{
		Instances:  []predictInstance{instance},
		Parameters: predictParams{DurationSeconds: req.Duration, SampleCount: 1},
	}

	endpoint := fmt.Sprintf("%s/publishers/google/models/%s:predictLongRunning", c.baseURL(), c.cfg.Model)
	var decoded operationResponse
	if err := c.post(ctx, endpoint, payload, &decoded, "veo generate"); err != nil {
		return "", err
	}
	if decoded.Name == "" {
		return "", errors.New("veo generate: response carried no operation name")
	}
	return decoded.Name, nil
}

// await polls the fetchPredictOperation endpoint until done.
func (c *Client) await(ctx context.Context, operationName string) (*Result, error) {
	endpoint := fmt.Sprintf("%s/publishers/google/models/%s:fetchPredictOperation", c.baseURL(), c.cfg.Model)
	deadline := time.Now().Add(c.pollTimeout)

	for {
		var decoded operationResponse
		payload := map[string]string{"operationName": operationName}
		if err := c.post(ctx, endpoint, payload, &decoded, "veo poll"); err != nil {
			return nil, err
		}
		if decoded.Done {
			return extractResult(decoded)
		}
		if time.Now().After(deadline) {
			return nil, services.Wrap(services.ErrTimeout, "animatic", "veo poll",
				fmt.Sprintf("operation %s still running after %s", operationName, c.pollTimeout), nil)
		}
		if err := retry.Sleep(ctx, c.pollInterval, c.sleeper); err != nil {
			return nil, err
		}
	}
}

func extractResult(op operationResponse) (*Result, error) {
	if op.Error != nil {
		return nil, fmt.Errorf("veo poll: operation failed (code %d): %s", op.Error.Code, strings.TrimSpace(op.Error.Message))
	}
	if op.Response == nil || len(op.Response.Videos) == 0 {
		return nil, errors.New("veo poll: operation finished without videos")
	}
	video := op.Response.Videos[0]
	result := &Result{GcsURI: video.GcsURI, MimeType: video.MimeType}
	if video.BytesBase64Encoded != "" {
		raw, err := base64.StdEncoding.DecodeString(video.BytesBase64Encoded)
		if err != nil {
			return nil, fmt.Errorf("veo poll: decode video: %w", err)
		}
		result.VideoBytes = raw
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload, target any, op string) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode body: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
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
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %w", op, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := retry.ParseRetryAfter(resp.Header.Get("Retry-After"))
		return &retry.HTTPStatusError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// HealthCheck verifies credentials by minting an access token.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.tokens.Token(ctx)
	return err
}
