package main

import (
	"log/slog"

	"slate/internal/animatic"
	"slate/internal/assembly"
	"slate/internal/config"
	"slate/internal/projects"
	"slate/internal/queue"
	"slate/internal/stills"
	"slate/internal/storyboard"
	"slate/internal/workflow"
)

func configureStages(manager *workflow.Manager, cfg *config.Config, store *queue.Store, library *projects.Store, logger *slog.Logger) error {
	animator, err := animatic.NewAnimatic(cfg, store, library, logger)
	if err != nil {
		return err
	}

	manager.ConfigureStages(workflow.StageSet{
		Storyboard: storyboard.NewStoryboard(cfg, store, library, logger),
		Stills:     stills.NewStills(cfg, store, library, logger),
		Animatic:   animator,
		Assembly:   assembly.NewAssembly(cfg, store, library, logger),
	})
	return nil
}
