package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateStills(); err != nil {
		return err
	}
	if err := c.validateVeo(); err != nil {
		return err
	}
	if err := c.validateKling(); err != nil {
		return err
	}
	if err := c.validateScraper(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.lock_retry_interval":  c.Workflow.LockRetryInterval,
		"workflow.lock_retry_attempts":  c.Workflow.LockRetryAttempts,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateStills() error {
	switch c.Stills.Provider {
	case "openai":
	default:
		return fmt.Errorf("stills.provider must be openai (got %q)", c.Stills.Provider)
	}
	if c.Stills.MaxParallel <= 0 {
		return errors.New("stills.max_parallel must be positive")
	}
	if c.Stills.Width <= 0 || c.Stills.Height <= 0 {
		return errors.New("stills.width and stills.height must be positive")
	}
	return nil
}

func (c *Config) validateVeo() error {
	if !c.Veo.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Veo.ProjectID) == "" {
		return errors.New("veo.project_id must be set when veo.enabled is true")
	}
	if strings.TrimSpace(c.Veo.ServiceAccountPath) == "" {
		return errors.New("veo.service_account_path must be set when veo.enabled is true")
	}
	return ensurePositiveMap(map[string]int{
		"veo.poll_interval_seconds": c.Veo.PollIntervalSecs,
		"veo.poll_timeout_seconds":  c.Veo.PollTimeoutSecs,
	})
}

func (c *Config) validateKling() error {
	if !c.Kling.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Kling.AccessKey) == "" || strings.TrimSpace(c.Kling.SecretKey) == "" {
		return errors.New("kling.access_key and kling.secret_key must be set when kling.enabled is true")
	}
	return ensurePositiveMap(map[string]int{
		"kling.poll_interval_seconds": c.Kling.PollIntervalSecs,
		"kling.poll_timeout_seconds":  c.Kling.PollTimeoutSecs,
	})
}

func (c *Config) validateScraper() error {
	if c.Scraper.RequestDelayMS < 0 {
		return errors.New("scraper.request_delay_ms must not be negative")
	}
	if c.Scraper.MaxRetries < 0 {
		return errors.New("scraper.max_retries must not be negative")
	}
	if c.Scraper.RequestTimeout <= 0 {
		return errors.New("scraper.request_timeout must be positive (seconds)")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive (seconds)")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for name, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
