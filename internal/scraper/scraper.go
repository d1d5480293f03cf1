// Package scraper downloads screenplay texts from a configured archive into
// a local JSON-file tree. Downloads run sequentially with a fixed
// inter-request delay so the archive is never hammered, and the tree is
// resumable: slugs whose files already exist are skipped on the next run.
//
// Tree layout under the scrape root:
//
//	slugs.json          index of known slugs
//	raw/<slug>.txt      downloaded screenplay text
//	meta/<slug>.json    per-script metadata (url, size, fetch time)
//	parsed/<slug>.json  enrichment output (written by the enrich command)
package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"log/slog"

	"slate/internal/config"
	"slate/internal/logging"
	"slate/internal/services"
	"slate/internal/services/retry"
)

// Scraper fetches screenplay entries from the configured archive.
type Scraper struct {
	cfg     config.Scraper
	root    string
	logger  *slog.Logger
	client  *http.Client
	sleeper func(time.Duration)
}

// Option customizes the scraper.
type Option func(*Scraper)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Scraper) {
		if client != nil {
			s.client = client
		}
	}
}

// WithSleeper overrides how inter-request delays are performed (tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(s *Scraper) {
		s.sleeper = sleeper
	}
}

// New constructs a scraper writing under root (usually <LibraryDir>/scripts).
func New(cfg config.Scraper, root string, logger *slog.Logger, opts ...Option) (*Scraper, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "scraper", "configure",
			"scraper.base_url is required", nil)
	}
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	scraper := &Scraper{
		cfg:    cfg,
		root:   root,
		logger: logging.NewComponentLogger(logger, "scraper"),
		client: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(scraper)
	}
	return scraper, nil
}

// Stats summarizes one scrape run.
type Stats struct {
	Requested  int `json:"requested"`
	Downloaded int `json:"downloaded"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Metadata is the per-script record written next to the raw text.
type Metadata struct {
	Slug      string    `json:"slug"`
	URL       string    `json:"url"`
	Bytes     int       `json:"bytes"`
	FetchedAt time.Time `json:"fetched_at"`
}

// FetchSlugs downloads the archive's slug index, merges it with any local
// index, and persists the union to slugs.json.
func (s *Scraper) FetchSlugs(ctx context.Context) ([]string, error) {
	endpoint, err := url.JoinPath(s.cfg.BaseURL, "slugs.json")
	if err != nil {
		return nil, fmt.Errorf("scraper: build slug url: %w", err)
	}
	body, err := s.fetch(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	var remote []string
	if err := json.Unmarshal(body, &remote); err != nil {
		return nil, fmt.Errorf("scraper: parse slug index: %w", err)
	}

	local, _ := s.LoadSlugs()
	merged := mergeSlugs(local, remote)
	if err := s.saveSlugs(merged); err != nil {
		return nil, err
	}
	s.logger.Info("slug index updated",
		logging.Int("remote", len(remote)),
		logging.Int("total", len(merged)))
	return merged, nil
}

// LoadSlugs reads the local slug index. A missing index is not an error.
func (s *Scraper) LoadSlugs() ([]string, error) {
	raw, err := os.ReadFile(filepath.Join(s.root, "slugs.json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("scraper: read slug index: %w", err)
	}
	var slugs []string
	if err := json.Unmarshal(raw, &slugs); err != nil {
		return nil, fmt.Errorf("scraper: parse slug index: %w", err)
	}
	return slugs, nil
}

func (s *Scraper) saveSlugs(slugs []string) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("scraper: create scrape root: %w", err)
	}
	encoded, err := json.MarshalIndent(slugs, "", "  ")
	if err != nil {
		return fmt.Errorf("scraper: encode slug index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.root, "slugs.json"), encoded, 0o644); err != nil {
		return fmt.Errorf("scraper: write slug index: %w", err)
	}
	return nil
}

// DownloadAll fetches every slug's text sequentially, skipping slugs that
// already have a raw file. The configured delay runs between requests, not
// before the first one.
func (s *Scraper) DownloadAll(ctx context.Context, slugs []string) (Stats, error) {
	stats := Stats{Requested: len(slugs)}
	rawDir := filepath.Join(s.root, "raw")
	metaDir := filepath.Join(s.root, "meta")
	for _, dir := range []string{rawDir, metaDir, filepath.Join(s.root, "parsed")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return stats, fmt.Errorf("scraper: create tree: %w", err)
		}
	}

	delay := time.Duration(s.cfg.RequestDelayMS) * time.Millisecond
	first := true
	for _, slug := range slugs {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		slug = strings.TrimSpace(slug)
		if slug == "" {
			continue
		}
		if !validSlug(slug) {
			stats.Failed++
			s.logger.Warn("rejected unsafe slug", logging.String("slug", slug))
			continue
		}

		rawPath := filepath.Join(rawDir, slug+".txt")
		if _, err := os.Stat(rawPath); err == nil {
			stats.Skipped++
			continue
		}

		if !first {
			if err := retry.Sleep(ctx, delay, s.sleeper); err != nil {
				return stats, err
			}
		}
		first = false

		if err := s.downloadOne(ctx, slug, rawPath, metaDir); err != nil {
			stats.Failed++
			s.logger.Warn("script download failed",
				logging.String("slug", slug),
				logging.Error(err))
			continue
		}
		stats.Downloaded++
	}

	s.logger.Info("scrape run finished",
		logging.Int("downloaded", stats.Downloaded),
		logging.Int("skipped", stats.Skipped),
		logging.Int("failed", stats.Failed))
	return stats, nil
}

func (s *Scraper) downloadOne(ctx context.Context, slug, rawPath, metaDir string) error {
	endpoint, err := url.JoinPath(s.cfg.BaseURL, "scripts", slug)
	if err != nil {
		return fmt.Errorf("build url: %w", err)
	}
	body, err := s.fetch(ctx, endpoint)
	if err != nil {
		return err
	}
	if err := os.WriteFile(rawPath, body, 0o644); err != nil {
		return fmt.Errorf("write raw text: %w", err)
	}

	meta := Metadata{
		Slug:      slug,
		URL:       endpoint,
		Bytes:     len(body),
		FetchedAt: time.Now().UTC(),
	}
	encoded, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(metaDir, slug+".json"), encoded, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	s.logger.Info("script downloaded",
		logging.String("slug", slug),
		logging.Int("bytes", len(body)))
	return nil
}

// fetch issues one GET with up to MaxRetries additional attempts on
// retryable failures.
func (s *Scraper) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	attempts := s.cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		body, err := s.fetchOnce(ctx, endpoint)
		if err == nil {
			return body, nil
		}
		lastErr = err

		delay, again := retry.Delay(ctx, err, attempt, attempts, time.Second, 15*time.Second)
		if !again {
			return nil, err
		}
		if err := retry.Sleep(ctx, delay, s.sleeper); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("scraper: failed after %d attempts: %w", attempts, lastErr)
}

func (s *Scraper) fetchOnce(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("scraper: new request: %w", err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scraper: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("scraper: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := retry.ParseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &retry.HTTPStatusError{
			Op:         "scraper fetch",
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
	}
	return body, nil
}

// Root returns the scrape tree root.
func (s *Scraper) Root() string { return s.root }

// RawPath returns the raw text path for a slug.
func (s *Scraper) RawPath(slug string) string {
	return filepath.Join(s.root, "raw", slug+".txt")
}

// ParsedPath returns the enrichment output path for a slug.
func (s *Scraper) ParsedPath(slug string) string {
	return filepath.Join(s.root, "parsed", slug+".json")
}

// validSlug reports whether slug names a single path element. The index
// comes from a remote archive, so anything that could escape the scrape
// tree is rejected before it reaches a filepath.Join.
func validSlug(slug string) bool {
	if slug == "" || slug == "." || slug == ".." {
		return false
	}
	return !strings.ContainsAny(slug, `/\`)
}

func mergeSlugs(local, remote []string) []string {
	seen := make(map[string]struct{}, len(local)+len(remote))
	merged := make([]string, 0, len(local)+len(remote))
	for _, list := range [][]string{local, remote} {
		for _, slug := range list {
			slug = strings.TrimSpace(slug)
			if !validSlug(slug) {
				continue
			}
			if _, ok := seen[slug]; ok {
				continue
			}
			seen[slug] = struct{}{}
			merged = append(merged, slug)
		}
	}
	sort.Strings(merged)
	return merged
}
