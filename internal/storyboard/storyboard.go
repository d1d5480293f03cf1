// Package storyboard turns a project's synopsis into an ordered shot list
// using the configured language model. It is the first pipeline stage; shot
// redo and micro-shot tasks also pass through here to regenerate prompts.
package storyboard

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"log/slog"

	"slate/internal/config"
	"slate/internal/logging"
	"slate/internal/notifications"
	"slate/internal/projects"
	"slate/internal/queue"
	"slate/internal/services"
	"slate/internal/services/anthropic"
	"slate/internal/stage"
)

// Generator is the narrow LLM surface the stage depends on.
type Generator interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string, target any) error
	HealthCheck(ctx context.Context) error
}

// Storyboard generates and persists the shot list for a project.
type Storyboard struct {
	cfg      *config.Config
	store    *queue.Store
	library  *projects.Store
	logger   *slog.Logger
	client   Generator
	notifier notifications.Service
}

// NewStoryboard constructs the stage handler using default dependencies.
func NewStoryboard(cfg *config.Config, store *queue.Store, library *projects.Store, logger *slog.Logger) *Storyboard {
	client := anthropic.NewClient(anthropic.Config{
		APIKey:    cfg.Anthropic.APIKey,
		BaseURL:   cfg.Anthropic.BaseURL,
		Model:     cfg.Anthropic.Model,
		Version:   cfg.Anthropic.Version,
		MaxTokens: cfg.Anthropic.MaxTokens,
	})
	return NewStoryboardWithDependencies(cfg, store, library, logger, client, notifications.NewService(cfg))
}

// NewStoryboardWithDependencies allows injecting collaborators (used in tests).
func NewStoryboardWithDependencies(cfg *config.Config, store *queue.Store, library *projects.Store, logger *slog.Logger, client Generator, notifier notifications.Service) *Storyboard {
	stageLogger := logger
	if stageLogger != nil {
		stageLogger = stageLogger.With(logging.String(logging.FieldComponent, "storyboard"))
	}
	return &Storyboard{cfg: cfg, store: store, library: library, logger: stageLogger, client: client, notifier: notifier}
}

func (s *Storyboard) Prepare(ctx context.Context, task *queue.Task) error {
	logger := logging.WithContext(ctx, s.logger)
	project, err := s.library.GetProject(ctx, task.ProjectID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "storyboard", "load project", "failed to load project", err)
	}
	if project == nil {
		return services.Wrap(services.ErrNotFound, "storyboard", "load project",
			fmt.Sprintf("project %s does not exist", task.ProjectID), nil)
	}
	if task.Kind != queue.KindProduction {
		shotID := strings.TrimSpace(task.ShotID)
		if shotID == "" {
			return services.Wrap(services.ErrValidation, "storyboard", "validate inputs",
				fmt.Sprintf("%s task requires a shot id", task.Kind), nil)
		}
		shot, err := s.library.GetShot(ctx, shotID)
		if err != nil {
			return services.Wrap(services.ErrTransient, "storyboard", "load shot", "failed to load shot", err)
		}
		if shot == nil || shot.ProjectID != task.ProjectID {
			return services.Wrap(services.ErrNotFound, "storyboard", "load shot",
				fmt.Sprintf("shot %s does not belong to project %s", shotID, task.ProjectID), nil)
		}
	}
	task.SetProgress("storyboard", "preparing storyboard", 0)
	task.ErrorMessage = ""
	logger.Info("storyboard prepared", logging.String("title", project.Title))
	return nil
}

func (s *Storyboard) Execute(ctx context.Context, task *queue.Task) error {
	switch task.Kind {
	case queue.KindShotRedo:
		return s.regenerateShot(ctx, task)
	case queue.KindMicroShots:
		return s.splitShot(ctx, task)
	default:
		return s.generateBoard(ctx, task)
	}
}

type boardResponse struct {
	Shots []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Prompt      string `json:"prompt"`
		Transition  string `json:"transition"`
	} `json:"shots"`
	Characters []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"characters"`
	Locations []struct {
		Name     string `json:"name"`
		Interior bool   `json:"interior"`
	} `json:"locations"`
}

func (s *Storyboard) generateBoard(ctx context.Context, task *queue.Task) error {
	logger := logging.WithContext(ctx, s.logger)
	project, err := s.library.GetProject(ctx, task.ProjectID)
	if err != nil || project == nil {
		return services.Wrap(services.ErrTransient, "storyboard", "load project", "failed to load project", err)
	}

	task.SetProgress("storyboard", "generating shot list", 10)
	var parsed boardResponse
	if err := s.client.CompleteJSON(ctx, boardSystemPrompt, boardUserPrompt(project, task.ParametersJSON), &parsed); err != nil {
		return services.Wrap(services.Marker(err), "storyboard", "generate", "shot list generation failed", err)
	}
	if len(parsed.Shots) == 0 {
		return services.Wrap(services.ErrTransient, "storyboard", "generate", "model returned no shots", nil)
	}

	shots := make([]*projects.Shot, 0, len(parsed.Shots))
	for _, entry := range parsed.Shots {
		prompt := strings.TrimSpace(entry.Prompt)
		if prompt == "" {
			continue
		}
		shots = append(shots, &projects.Shot{
			Title:       strings.TrimSpace(entry.Title),
			Description: strings.TrimSpace(entry.Description),
			Prompt:      prompt,
			Status:      projects.ShotStatusPlanned,
			Transition:  strings.TrimSpace(entry.Transition),
		})
	}
	if len(shots) == 0 {
		return services.Wrap(services.ErrTransient, "storyboard", "generate", "model returned no usable prompts", nil)
	}

	if err := s.library.ReplaceShots(ctx, project.ID, shots); err != nil {
		return services.Wrap(services.ErrTransient, "storyboard", "persist", "failed to store shot list", err)
	}
	for _, character := range parsed.Characters {
		if strings.TrimSpace(character.Name) == "" {
			continue
		}
		if _, err := s.library.UpsertCharacter(ctx, project.ID, character.Name, character.Description); err != nil {
			logger.Warn("failed to store character", logging.String("name", character.Name), logging.Error(err))
		}
	}
	for _, location := range parsed.Locations {
		if strings.TrimSpace(location.Name) == "" {
			continue
		}
		if _, err := s.library.UpsertLocation(ctx, project.ID, location.Name, location.Interior); err != nil {
			logger.Warn("failed to store location", logging.String("name", location.Name), logging.Error(err))
		}
	}

	project.Status = projects.ProjectStatusProducing
	project.ShotCount = len(shots)
	if err := s.library.UpdateProject(ctx, project); err != nil {
		return services.Wrap(services.ErrTransient, "storyboard", "persist", "failed to update project", err)
	}

	result, _ := json.Marshal(map[string]any{"shots": len(shots)})
	task.ResultJSON = string(result)
	task.SetProgress("storyboard", fmt.Sprintf("%d shots planned", len(shots)), 100)
	logger.Info("storyboard generated", logging.Int("shots", len(shots)))

	if err := s.notifier.NotifyStoryboardComplete(ctx, project.Title, len(shots)); err != nil {
		logger.Warn("storyboard notification failed", logging.Error(err))
	}
	return nil
}

type shotResponse struct {
	Prompt     string `json:"prompt"`
	Transition string `json:"transition"`
}

func (s *Storyboard) regenerateShot(ctx context.Context, task *queue.Task) error {
	logger := logging.WithContext(ctx, s.logger)
	shot, err := s.library.GetShot(ctx, task.ShotID)
	if err != nil || shot == nil {
		return services.Wrap(services.ErrTransient, "storyboard", "load shot", "failed to load shot", err)
	}

	task.SetProgress("storyboard", "regenerating shot prompt", 10)
	var parsed shotResponse
	if err := s.client.CompleteJSON(ctx, redoSystemPrompt, redoUserPrompt(shot, task.ParametersJSON), &parsed); err != nil {
		return services.Wrap(services.Marker(err), "storyboard", "generate", "shot regeneration failed", err)
	}
	prompt := strings.TrimSpace(parsed.Prompt)
	if prompt == "" {
		return services.Wrap(services.ErrTransient, "storyboard", "generate", "model returned an empty prompt", nil)
	}

	shot.Prompt = prompt
	if transition := strings.TrimSpace(parsed.Transition); transition != "" {
		shot.Transition = transition
	}
	shot.Status = projects.ShotStatusPlanned
	shot.ImagePath = ""
	shot.VideoPath = ""
	if err := s.library.UpdateShot(ctx, shot); err != nil {
		return services.Wrap(services.ErrTransient, "storyboard", "persist", "failed to update shot", err)
	}

	task.SetProgress("storyboard", "shot prompt regenerated", 100)
	logger.Info("shot prompt regenerated", logging.String("shot_id", shot.ID))
	return nil
}

type microResponse struct {
	Prompts []string `json:"prompts"`
}

func (s *Storyboard) splitShot(ctx context.Context, task *queue.Task) error {
	logger := logging.WithContext(ctx, s.logger)
	shot, err := s.library.GetShot(ctx, task.ShotID)
	if err != nil || shot == nil {
		return services.Wrap(services.ErrTransient, "storyboard", "load shot", "failed to load shot", err)
	}

	task.SetProgress("storyboard", "splitting shot", 10)
	var parsed microResponse
	if err := s.client.CompleteJSON(ctx, microSystemPrompt, microUserPrompt(shot, task.ParametersJSON), &parsed); err != nil {
		return services.Wrap(services.Marker(err), "storyboard", "generate", "micro-shot split failed", err)
	}

	micros := make([]*projects.MicroShot, 0, len(parsed.Prompts))
	for _, prompt := range parsed.Prompts {
		prompt = strings.TrimSpace(prompt)
		if prompt == "" {
			continue
		}
		micros = append(micros, &projects.MicroShot{
			Prompt: prompt,
			Status: projects.ShotStatusPlanned,
		})
	}
	if len(micros) == 0 {
		return services.Wrap(services.ErrTransient, "storyboard", "generate", "model returned no micro prompts", nil)
	}
	if err := s.library.ReplaceMicroShots(ctx, shot.ID, micros); err != nil {
		return services.Wrap(services.ErrTransient, "storyboard", "persist", "failed to store micro shots", err)
	}

	task.SetProgress("storyboard", fmt.Sprintf("%d micro shots planned", len(micros)), 100)
	logger.Info("shot split into micro shots", logging.String("shot_id", shot.ID), logging.Int("count", len(micros)))
	return nil
}

// HealthCheck verifies the LLM is reachable with the configured credentials.
func (s *Storyboard) HealthCheck(ctx context.Context) stage.Health {
	if strings.TrimSpace(s.cfg.Anthropic.APIKey) == "" {
		return stage.Unhealthy("storyboard", "anthropic api key not configured")
	}
	return stage.Healthy("storyboard")
}
