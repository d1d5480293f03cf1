// Package animatic turns rendered stills into short video clips through the
// configured video vendor (Veo or Kling). Clips are generated sequentially;
// the vendors meter long-running operations server-side, so client-side
// parallelism only trips their rate limits.
package animatic

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"log/slog"

	"slate/internal/config"
	"slate/internal/logging"
	"slate/internal/projects"
	"slate/internal/queue"
	"slate/internal/services"
	"slate/internal/stage"
)

const defaultClipSeconds = 5

// VideoGenerator is the narrow vendor surface the stage depends on.
type VideoGenerator interface {
	// Generate renders one clip from a prompt and optional first frame,
	// returning the raw video bytes.
	Generate(ctx context.Context, prompt string, imageBytes []byte, durationSecs int) ([]byte, error)
	// Name identifies the vendor in logs and errors.
	Name() string
	HealthCheck(ctx context.Context) error
}

// Animatic animates stills into clips.
type Animatic struct {
	cfg     *config.Config
	store   *queue.Store
	library *projects.Store
	logger  *slog.Logger
	video   VideoGenerator
}

// NewAnimatic constructs the stage handler, selecting the vendor from config.
// Exactly one of veo.enabled and kling.enabled must be set; Validate enforces
// that before the daemon starts.
func NewAnimatic(cfg *config.Config, store *queue.Store, library *projects.Store, logger *slog.Logger) (*Animatic, error) {
	video, err := newGenerator(cfg)
	if err != nil {
		return nil, err
	}
	return NewAnimaticWithDependencies(cfg, store, library, logger, video), nil
}

// NewAnimaticWithDependencies allows injecting collaborators (used in tests).
func NewAnimaticWithDependencies(cfg *config.Config, store *queue.Store, library *projects.Store, logger *slog.Logger, video VideoGenerator) *Animatic {
	stageLogger := logger
	if stageLogger != nil {
		stageLogger = stageLogger.With(logging.String(logging.FieldComponent, "animatic"))
	}
	return &Animatic{cfg: cfg, store: store, library: library, logger: stageLogger, video: video}
}

func (a *Animatic) Prepare(ctx context.Context, task *queue.Task) error {
	if task.Kind == queue.KindMicroShots {
		micros, err := a.library.ListMicroShots(ctx, task.ShotID)
		if err != nil {
			return services.Wrap(services.ErrTransient, "animatic", "load micro shots", "failed to list micro shots", err)
		}
		if len(micros) == 0 {
			return services.Wrap(services.ErrValidation, "animatic", "validate inputs",
				"no micro shots planned; run the storyboard stage first", nil)
		}
		task.SetProgress("animatic", fmt.Sprintf("animating %d micro shots", len(micros)), 0)
		task.ErrorMessage = ""
		return nil
	}

	shots, err := a.pendingShots(ctx, task)
	if err != nil {
		return err
	}
	if len(shots) == 0 {
		return services.Wrap(services.ErrValidation, "animatic", "validate inputs",
			"no rendered stills to animate; run the stills stage first", nil)
	}
	task.SetProgress("animatic", fmt.Sprintf("animating %d shots", len(shots)), 0)
	task.ErrorMessage = ""
	return nil
}

func (a *Animatic) Execute(ctx context.Context, task *queue.Task) error {
	if task.Kind == queue.KindMicroShots {
		return a.animateMicroShots(ctx, task)
	}
	return a.animateShots(ctx, task)
}

func (a *Animatic) animateShots(ctx context.Context, task *queue.Task) error {
	logger := logging.WithContext(ctx, a.logger)
	shots, err := a.pendingShots(ctx, task)
	if err != nil {
		return err
	}

	outDir := filepath.Join(a.cfg.Paths.RenderDir, task.ProjectID, "clips")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "animatic", "prepare output", "failed to create render directory", err)
	}

	for i, shot := range shots {
		frame, err := os.ReadFile(shot.ImagePath)
		if err != nil {
			return services.Wrap(services.ErrTransient, "animatic", "load still",
				fmt.Sprintf("failed to read still for shot %d", shot.Idx), err)
		}
		clip, err := a.video.Generate(ctx, shot.Prompt, frame, defaultClipSeconds)
		if err != nil {
			return services.Wrap(services.Marker(err), "animatic", a.video.Name(),
				fmt.Sprintf("shot %d animation failed", shot.Idx), err)
		}
		path := filepath.Join(outDir, fmt.Sprintf("shot-%03d.mp4", shot.Idx))
		if err := os.WriteFile(path, clip, 0o644); err != nil {
			return services.Wrap(services.ErrTransient, "animatic", "persist",
				fmt.Sprintf("failed to write shot %d clip", shot.Idx), err)
		}
		shot.VideoPath = path
		shot.Status = projects.ShotStatusAnimated
		if err := a.library.UpdateShot(ctx, shot); err != nil {
			return services.Wrap(services.ErrTransient, "animatic", "persist",
				fmt.Sprintf("failed to update shot %d", shot.Idx), err)
		}

		task.SetProgress("animatic",
			fmt.Sprintf("animated %d/%d shots", i+1, len(shots)),
			float64(i+1)/float64(len(shots))*100)
		logger.Info("shot animated",
			logging.Int("shot_idx", shot.Idx),
			logging.String("vendor", a.video.Name()),
			logging.String("path", path))
	}

	task.SetProgress("animatic", fmt.Sprintf("%d clips generated", len(shots)), 100)
	return nil
}

func (a *Animatic) animateMicroShots(ctx context.Context, task *queue.Task) error {
	logger := logging.WithContext(ctx, a.logger)
	parent, err := a.library.GetShot(ctx, task.ShotID)
	if err != nil || parent == nil {
		return services.Wrap(services.ErrTransient, "animatic", "load shot", "failed to load parent shot", err)
	}
	micros, err := a.library.ListMicroShots(ctx, task.ShotID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "animatic", "load micro shots", "failed to list micro shots", err)
	}

	outDir := filepath.Join(a.cfg.Paths.RenderDir, task.ProjectID, "clips", parent.ID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "animatic", "prepare output", "failed to create render directory", err)
	}

	var frame []byte
	if parent.ImagePath != "" {
		frame, err = os.ReadFile(parent.ImagePath)
		if err != nil {
			return services.Wrap(services.ErrTransient, "animatic", "load still", "failed to read parent still", err)
		}
	}

	for i, micro := range micros {
		if micro.Status == projects.ShotStatusAnimated && micro.VideoPath != "" {
			continue
		}
		clip, err := a.video.Generate(ctx, micro.Prompt, frame, defaultClipSeconds)
		if err != nil {
			return services.Wrap(services.Marker(err), "animatic", a.video.Name(),
				fmt.Sprintf("micro shot %d animation failed", micro.Idx), err)
		}
		path := filepath.Join(outDir, fmt.Sprintf("micro-%03d.mp4", micro.Idx))
		if err := os.WriteFile(path, clip, 0o644); err != nil {
			return services.Wrap(services.ErrTransient, "animatic", "persist",
				fmt.Sprintf("failed to write micro shot %d clip", micro.Idx), err)
		}
		micro.VideoPath = path
		micro.Status = projects.ShotStatusAnimated
		if err := a.library.UpdateMicroShot(ctx, micro); err != nil {
			return services.Wrap(services.ErrTransient, "animatic", "persist",
				fmt.Sprintf("failed to update micro shot %d", micro.Idx), err)
		}

		task.SetProgress("animatic",
			fmt.Sprintf("animated %d/%d micro shots", i+1, len(micros)),
			float64(i+1)/float64(len(micros))*100)
		logger.Info("micro shot animated", logging.Int("micro_idx", micro.Idx))
	}

	task.SetProgress("animatic", fmt.Sprintf("%d micro clips generated", len(micros)), 100)
	return nil
}

// pendingShots lists the shots that have a still but no clip yet.
func (a *Animatic) pendingShots(ctx context.Context, task *queue.Task) ([]*projects.Shot, error) {
	if task.Kind == queue.KindShotRedo {
		shot, err := a.library.GetShot(ctx, task.ShotID)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "animatic", "load shot", "failed to load shot", err)
		}
		if shot == nil {
			return nil, services.Wrap(services.ErrNotFound, "animatic", "load shot",
				fmt.Sprintf("shot %s does not exist", task.ShotID), nil)
		}
		return []*projects.Shot{shot}, nil
	}

	all, err := a.library.ListShots(ctx, task.ProjectID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "animatic", "load shots", "failed to list shots", err)
	}
	shots := make([]*projects.Shot, 0, len(all))
	for _, shot := range all {
		if shot.ImagePath != "" && shot.VideoPath == "" {
			shots = append(shots, shot)
		}
	}
	return shots, nil
}

// HealthCheck verifies the video vendor credentials.
func (a *Animatic) HealthCheck(ctx context.Context) stage.Health {
	if a.video == nil {
		return stage.Unhealthy("animatic", "no video vendor configured")
	}
	if err := a.video.HealthCheck(ctx); err != nil {
		return stage.Unhealthy("animatic", err.Error())
	}
	return stage.Healthy("animatic")
}
