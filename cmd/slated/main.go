package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"slate/internal/config"
	"slate/internal/daemon"
	"slate/internal/logging"
	"slate/internal/projects"
	"slate/internal/queue"
	"slate/internal/workflow"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return
	}
	library, err := projects.Open(cfg)
	if err != nil {
		_ = store.Close()
		logger.Error("open project library", logging.Error(err))
		return
	}

	manager := workflow.NewManager(cfg, store, library, logger)
	if err := configureStages(manager, cfg, store, library, logger); err != nil {
		_ = store.Close()
		_ = library.Close()
		logger.Error("configure stages", logging.Error(err))
		return
	}

	d, err := daemon.New(cfg, store, library, logger, manager)
	if err != nil {
		_ = store.Close()
		_ = library.Close()
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("slated shutting down")
}
