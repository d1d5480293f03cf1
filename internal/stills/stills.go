// Package stills renders a still image for every planned shot using the
// configured image provider. Renders run in parallel, bounded by
// stills.max_parallel, so one slow generation does not serialize the batch.
package stills

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"log/slog"

	"golang.org/x/sync/errgroup"

	"slate/internal/config"
	"slate/internal/logging"
	"slate/internal/notifications"
	"slate/internal/projects"
	"slate/internal/queue"
	"slate/internal/services"
	"slate/internal/services/openai"
	"slate/internal/stage"
)

// ImageGenerator is the narrow provider surface the stage depends on.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt, size string) ([]byte, error)
	HealthCheck(ctx context.Context) error
}

// Stills renders storyboard frames to disk.
type Stills struct {
	cfg      *config.Config
	store    *queue.Store
	library  *projects.Store
	logger   *slog.Logger
	images   ImageGenerator
	notifier notifications.Service
}

// NewStills constructs the stage handler using default dependencies.
func NewStills(cfg *config.Config, store *queue.Store, library *projects.Store, logger *slog.Logger) *Stills {
	client := openai.NewClient(openai.Config{
		APIKey:         cfg.OpenAI.APIKey,
		BaseURL:        cfg.OpenAI.BaseURL,
		Model:          cfg.OpenAI.Model,
		TimeoutSeconds: cfg.OpenAI.TimeoutSeconds,
	})
	return NewStillsWithDependencies(cfg, store, library, logger, client, notifications.NewService(cfg))
}

// NewStillsWithDependencies allows injecting collaborators (used in tests).
func NewStillsWithDependencies(cfg *config.Config, store *queue.Store, library *projects.Store, logger *slog.Logger, images ImageGenerator, notifier notifications.Service) *Stills {
	stageLogger := logger
	if stageLogger != nil {
		stageLogger = stageLogger.With(logging.String(logging.FieldComponent, "stills"))
	}
	return &Stills{cfg: cfg, store: store, library: library, logger: stageLogger, images: images, notifier: notifier}
}

func (s *Stills) Prepare(ctx context.Context, task *queue.Task) error {
	shots, err := s.pendingShots(ctx, task)
	if err != nil {
		return err
	}
	if len(shots) == 0 && task.Kind == queue.KindProduction {
		return services.Wrap(services.ErrValidation, "stills", "validate inputs",
			"no planned shots to render; run the storyboard stage first", nil)
	}
	task.SetProgress("stills", fmt.Sprintf("rendering %d stills", len(shots)), 0)
	task.ErrorMessage = ""
	return nil
}

func (s *Stills) Execute(ctx context.Context, task *queue.Task) error {
	logger := logging.WithContext(ctx, s.logger)
	shots, err := s.pendingShots(ctx, task)
	if err != nil {
		return err
	}
	if len(shots) == 0 {
		// Micro-shot tasks animate from the parent shot's existing still.
		task.SetProgress("stills", "nothing to render", 100)
		return nil
	}

	outDir := filepath.Join(s.cfg.Paths.RenderDir, task.ProjectID, "stills")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "stills", "prepare output", "failed to create render directory", err)
	}

	size := fmt.Sprintf("%dx%d", s.cfg.Stills.Width, s.cfg.Stills.Height)

	// Progress is shared task state; workers report through the mutex so
	// concurrent renders never write it at the same time.
	var (
		progressMu sync.Mutex
		rendered   int
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.Stills.MaxParallel)
	for _, shot := range shots {
		group.Go(func() error {
			raw, err := s.images.GenerateImage(groupCtx, shot.Prompt, size)
			if err != nil {
				return services.Wrap(services.Marker(err), "stills", "generate",
					fmt.Sprintf("shot %d render failed", shot.Idx), err)
			}
			path := filepath.Join(outDir, fmt.Sprintf("shot-%03d.png", shot.Idx))
			if err := os.WriteFile(path, raw, 0o644); err != nil {
				return services.Wrap(services.ErrTransient, "stills", "persist",
					fmt.Sprintf("failed to write shot %d still", shot.Idx), err)
			}
			shot.ImagePath = path
			shot.Status = projects.ShotStatusStill
			if err := s.library.UpdateShot(groupCtx, shot); err != nil {
				return services.Wrap(services.ErrTransient, "stills", "persist",
					fmt.Sprintf("failed to update shot %d", shot.Idx), err)
			}

			progressMu.Lock()
			rendered++
			done := rendered
			task.SetProgress("stills",
				fmt.Sprintf("rendered %d/%d stills", done, len(shots)),
				float64(done)/float64(len(shots))*100)
			progressMu.Unlock()
			logger.Info("still rendered",
				logging.Int("shot_idx", shot.Idx),
				logging.String("path", path))
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	task.SetProgress("stills", fmt.Sprintf("%d stills rendered", len(shots)), 100)

	if project, err := s.library.GetProject(ctx, task.ProjectID); err == nil && project != nil {
		if err := s.notifier.NotifyRenderComplete(ctx, project.Title, len(shots)); err != nil {
			logger.Warn("render notification failed", logging.Error(err))
		}
	}
	return nil
}

// pendingShots returns the shots this task should render: every planned shot
// for a full production, the single target shot for a redo, or nothing for a
// micro-shot split (those reuse the parent still).
func (s *Stills) pendingShots(ctx context.Context, task *queue.Task) ([]*projects.Shot, error) {
	if task.Kind == queue.KindMicroShots {
		shot, err := s.library.GetShot(ctx, task.ShotID)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "stills", "load shot", "failed to load shot", err)
		}
		if shot == nil || shot.ImagePath != "" {
			return nil, nil
		}
		return []*projects.Shot{shot}, nil
	}
	if task.Kind == queue.KindShotRedo {
		shot, err := s.library.GetShot(ctx, task.ShotID)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "stills", "load shot", "failed to load shot", err)
		}
		if shot == nil {
			return nil, services.Wrap(services.ErrNotFound, "stills", "load shot",
				fmt.Sprintf("shot %s does not exist", task.ShotID), nil)
		}
		return []*projects.Shot{shot}, nil
	}

	all, err := s.library.ListShots(ctx, task.ProjectID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "stills", "load shots", "failed to list shots", err)
	}
	shots := make([]*projects.Shot, 0, len(all))
	for _, shot := range all {
		if shot.Status == projects.ShotStatusPlanned || shot.ImagePath == "" {
			shots = append(shots, shot)
		}
	}
	return shots, nil
}

// HealthCheck verifies the image provider is configured.
func (s *Stills) HealthCheck(ctx context.Context) stage.Health {
	if strings.TrimSpace(s.cfg.OpenAI.APIKey) == "" {
		return stage.Unhealthy("stills", "openai api key not configured")
	}
	return stage.Healthy("stills")
}
