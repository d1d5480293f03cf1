package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeVendors()
	c.normalizeScraper()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.LibraryDir, err = expandPath(c.Paths.LibraryDir); err != nil {
		return fmt.Errorf("paths.library_dir: %w", err)
	}
	if c.Paths.RenderDir, err = expandPath(c.Paths.RenderDir); err != nil {
		return fmt.Errorf("paths.render_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	return nil
}

func (c *Config) normalizeVendors() {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && strings.TrimSpace(c.Anthropic.APIKey) == "" {
		c.Anthropic.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && strings.TrimSpace(c.OpenAI.APIKey) == "" {
		c.OpenAI.APIKey = key
	}
	c.Anthropic.BaseURL = strings.TrimRight(strings.TrimSpace(c.Anthropic.BaseURL), "/")
	c.OpenAI.BaseURL = strings.TrimRight(strings.TrimSpace(c.OpenAI.BaseURL), "/")
	c.Kling.BaseURL = strings.TrimRight(strings.TrimSpace(c.Kling.BaseURL), "/")
	c.Stills.Provider = strings.ToLower(strings.TrimSpace(c.Stills.Provider))
}

func (c *Config) normalizeScraper() {
	c.Scraper.BaseURL = strings.TrimRight(strings.TrimSpace(c.Scraper.BaseURL), "/")
	if strings.TrimSpace(c.Scraper.UserAgent) == "" {
		c.Scraper.UserAgent = defaultScraperUserAgent
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
