package testsupport

import (
	"path/filepath"
	"testing"

	"slate/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.LibraryDir = filepath.Join(base, "library")
	cfgVal.Paths.RenderDir = filepath.Join(base, "render")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Anthropic.APIKey = "test"
	cfgVal.OpenAI.APIKey = "test"
	cfgVal.Workflow.QueuePollInterval = 1
	cfgVal.Workflow.HeartbeatInterval = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithNtfyTopic sets the ntfy topic on the test config.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// WithVeo enables the Veo vendor with placeholder credentials.
func WithVeo() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Veo.Enabled = true
		b.cfg.Veo.ProjectID = "test-project"
		b.cfg.Kling.Enabled = false
	}
}

// WithKling enables the Kling vendor with placeholder credentials.
func WithKling() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Kling.Enabled = true
		b.cfg.Kling.AccessKey = "test-access"
		b.cfg.Kling.SecretKey = "test-secret"
		b.cfg.Veo.Enabled = false
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
