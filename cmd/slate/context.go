package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"slate/internal/config"
	"slate/internal/projects"
	"slate/internal/queue"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withQueue opens the task queue for the duration of fn. The queue database
// uses WAL so CLI access is safe while the daemon runs.
func (c *commandContext) withQueue(fn func(*queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

// withLibrary opens the project library for the duration of fn.
func (c *commandContext) withLibrary(fn func(*projects.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	library, err := projects.Open(cfg)
	if err != nil {
		return err
	}
	defer library.Close()
	return fn(library)
}

// cliStores bundles both databases for commands that touch the queue and the
// project library in one operation.
type cliStores struct {
	store   *queue.Store
	library *projects.Store
}

func (c *commandContext) withLibraryAndQueue(fn func(cliStores) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	library, err := projects.Open(cfg)
	if err != nil {
		return err
	}
	defer library.Close()
	return fn(cliStores{store: store, library: library})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
