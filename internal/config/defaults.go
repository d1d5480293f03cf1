package config

const (
	defaultDataDir   = "~/.local/share/slate/data"
	defaultLogDir    = "~/.local/share/slate/logs"
	defaultLibrary   = "~/slate-library"
	defaultRenderDir = "~/.local/share/slate/renders"
	defaultAPIBind   = "127.0.0.1:7319"

	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-sonnet-4-20250514"
	defaultAnthropicVersion = "2023-06-01"
	defaultAnthropicTokens  = 4096

	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultOpenAITimeout = 60

	defaultVeoLocation     = "us-central1"
	defaultVeoModel        = "veo-3.0-generate-001"
	defaultVeoPollInterval = 10
	defaultVeoPollTimeout  = 600

	defaultKlingBaseURL      = "https://api.klingai.com"
	defaultKlingModel        = "kling-v1"
	defaultKlingPollInterval = 5
	defaultKlingPollTimeout  = 600

	defaultStillsProvider = "openai"
	defaultStillsParallel = 3
	defaultStillsWidth    = 1024
	defaultStillsHeight   = 576

	defaultScraperUserAgent    = "slate/0.1 (+screenplay archive pipeline)"
	defaultScraperDelayMS      = 1500
	defaultScraperRetries      = 3
	defaultScraperTimeout      = 30
	defaultNotifyTimeout       = 10
	defaultQueuePollInterval   = 5
	defaultErrorRetryInterval  = 10
	defaultHeartbeatInterval   = 15
	defaultHeartbeatTimeout    = 600
	defaultLockRetryInterval   = 2
	defaultLockRetryAttempts   = 5

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			LogDir:     defaultLogDir,
			LibraryDir: defaultLibrary,
			RenderDir:  defaultRenderDir,
			APIBind:    defaultAPIBind,
		},
		Anthropic: Anthropic{
			BaseURL:   defaultAnthropicBaseURL,
			Model:     defaultAnthropicModel,
			Version:   defaultAnthropicVersion,
			MaxTokens: defaultAnthropicTokens,
		},
		OpenAI: OpenAI{
			BaseURL:        defaultOpenAIBaseURL,
			Model:          defaultOpenAIModel,
			TimeoutSeconds: defaultOpenAITimeout,
		},
		Veo: Veo{
			Location:         defaultVeoLocation,
			Model:            defaultVeoModel,
			PollIntervalSecs: defaultVeoPollInterval,
			PollTimeoutSecs:  defaultVeoPollTimeout,
		},
		Kling: Kling{
			BaseURL:          defaultKlingBaseURL,
			Model:            defaultKlingModel,
			PollIntervalSecs: defaultKlingPollInterval,
			PollTimeoutSecs:  defaultKlingPollTimeout,
		},
		Stills: Stills{
			Provider:    defaultStillsProvider,
			MaxParallel: defaultStillsParallel,
			Width:       defaultStillsWidth,
			Height:      defaultStillsHeight,
		},
		Scraper: Scraper{
			UserAgent:      defaultScraperUserAgent,
			RequestDelayMS: defaultScraperDelayMS,
			MaxRetries:     defaultScraperRetries,
			RequestTimeout: defaultScraperTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Storyboard:     true,
			Render:         true,
			Queue:          true,
			Errors:         true,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			LockRetryInterval:  defaultLockRetryInterval,
			LockRetryAttempts:  defaultLockRetryAttempts,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
