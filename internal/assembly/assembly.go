// Package assembly is the final pipeline stage: it verifies continuity locks
// against the finished shot list and writes the sequence manifest that
// downstream players consume. A continuity violation fails the task rather
// than shipping an inconsistent sequence.
package assembly

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"log/slog"

	"slate/internal/config"
	"slate/internal/continuity"
	"slate/internal/logging"
	"slate/internal/projects"
	"slate/internal/queue"
	"slate/internal/services"
	"slate/internal/stage"
)

// Assembly finalizes a production.
type Assembly struct {
	cfg     *config.Config
	store   *queue.Store
	library *projects.Store
	logger  *slog.Logger
}

// NewAssembly constructs the stage handler.
func NewAssembly(cfg *config.Config, store *queue.Store, library *projects.Store, logger *slog.Logger) *Assembly {
	stageLogger := logger
	if stageLogger != nil {
		stageLogger = stageLogger.With(logging.String(logging.FieldComponent, "assembly"))
	}
	return &Assembly{cfg: cfg, store: store, library: library, logger: stageLogger}
}

func (a *Assembly) Prepare(ctx context.Context, task *queue.Task) error {
	shots, err := a.library.ListShots(ctx, task.ProjectID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "assembly", "load shots", "failed to list shots", err)
	}
	if task.Kind == queue.KindProduction {
		var missing int
		for _, shot := range shots {
			if shot.VideoPath == "" {
				missing++
			}
		}
		if missing > 0 {
			return services.Wrap(services.ErrValidation, "assembly", "validate inputs",
				fmt.Sprintf("%d shots have no clip; run the animatic stage first", missing), nil)
		}
	}
	task.SetProgress("assembly", "assembling sequence", 0)
	task.ErrorMessage = ""
	return nil
}

func (a *Assembly) Execute(ctx context.Context, task *queue.Task) error {
	logger := logging.WithContext(ctx, a.logger)
	project, err := a.library.GetProject(ctx, task.ProjectID)
	if err != nil || project == nil {
		return services.Wrap(services.ErrTransient, "assembly", "load project", "failed to load project", err)
	}
	shots, err := a.library.ListShots(ctx, task.ProjectID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "assembly", "load shots", "failed to list shots", err)
	}

	violations, err := a.checkContinuity(ctx, task.ProjectID, shots)
	if err != nil {
		return err
	}
	if len(violations) > 0 {
		details := make([]string, 0, len(violations))
		for _, violation := range violations {
			details = append(details, violation.String())
		}
		return services.Wrap(services.ErrValidation, "assembly", "continuity",
			"continuity locks violated: "+strings.Join(details, "; "), nil)
	}
	task.SetProgress("assembly", "continuity verified", 50)

	manifestPath, err := a.writeManifest(project, shots)
	if err != nil {
		return err
	}

	project.Status = projects.ProjectStatusRendered
	project.VideoPath = manifestPath
	project.ShotCount = len(shots)
	if err := a.library.UpdateProject(ctx, project); err != nil {
		return services.Wrap(services.ErrTransient, "assembly", "persist", "failed to update project", err)
	}

	result, _ := json.Marshal(map[string]any{"manifest": manifestPath, "shots": len(shots)})
	task.ResultJSON = string(result)
	task.SetProgress("assembly", "sequence assembled", 100)
	logger.Info("sequence assembled",
		logging.Int("shots", len(shots)),
		logging.String("manifest", manifestPath))
	return nil
}

// checkContinuity enforces the project's locks against the shot prompts: a
// shot that features a locked subject must carry each locked attribute value
// verbatim in its prompt.
func (a *Assembly) checkContinuity(ctx context.Context, projectID string, shots []*projects.Shot) ([]continuity.Violation, error) {
	locks, err := a.library.ListContinuityLocks(ctx, projectID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "assembly", "load locks", "failed to list continuity locks", err)
	}
	if len(locks) == 0 {
		return nil, nil
	}
	names, err := a.subjectNames(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var violations []continuity.Violation
	for _, shot := range shots {
		observed := observedAttributes(shot, locks, names)
		violations = append(violations, continuity.Check(locks, observed)...)
	}
	return violations, nil
}

// subjectNames maps "subjectType/subjectID" to the display name searched for
// in shot prompts.
func (a *Assembly) subjectNames(ctx context.Context, projectID string) (map[string]string, error) {
	names := make(map[string]string)
	characters, err := a.library.ListCharacters(ctx, projectID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "assembly", "load cast", "failed to list characters", err)
	}
	for _, character := range characters {
		names[continuity.SubjectKey("character", character.ID)] = character.Name
	}
	locations, err := a.library.ListLocations(ctx, projectID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "assembly", "load cast", "failed to list locations", err)
	}
	for _, location := range locations {
		names[continuity.SubjectKey("location", location.ID)] = location.Name
	}
	return names, nil
}

// observedAttributes builds the per-shot attribute map continuity.Check
// compares against. A subject is observed when the prompt mentions its name;
// each locked attribute is then either echoed (value present in the prompt)
// or reported missing.
func observedAttributes(shot *projects.Shot, locks []*projects.ContinuityLock, names map[string]string) map[string]map[string]string {
	prompt := strings.ToLower(shot.Prompt)
	observed := make(map[string]map[string]string)
	for _, lock := range locks {
		key := continuity.SubjectKey(lock.SubjectType, lock.SubjectID)
		name := names[key]
		if name == "" || !strings.Contains(prompt, strings.ToLower(name)) {
			continue
		}
		attrs := make(map[string]string, len(lock.Attributes))
		for attr, want := range lock.Attributes {
			if strings.Contains(prompt, strings.ToLower(strings.TrimSpace(want))) {
				attrs[attr] = want
			} else {
				attrs[attr] = fmt.Sprintf("missing from shot %d prompt", shot.Idx)
			}
		}
		observed[key] = attrs
	}
	return observed
}

// sequenceEntry is one clip in the final manifest.
type sequenceEntry struct {
	Idx        int    `json:"idx"`
	Title      string `json:"title,omitempty"`
	Video      string `json:"video"`
	Transition string `json:"transition,omitempty"`
}

func (a *Assembly) writeManifest(project *projects.Project, shots []*projects.Shot) (string, error) {
	entries := make([]sequenceEntry, 0, len(shots))
	for _, shot := range shots {
		entries = append(entries, sequenceEntry{
			Idx:        shot.Idx,
			Title:      shot.Title,
			Video:      shot.VideoPath,
			Transition: shot.Transition,
		})
	}
	manifest := map[string]any{
		"project": project.ID,
		"title":   project.Title,
		"shots":   entries,
	}
	encoded, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "assembly", "persist", "failed to encode manifest", err)
	}

	outDir := filepath.Join(a.cfg.Paths.RenderDir, project.ID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTransient, "assembly", "persist", "failed to create render directory", err)
	}
	path := filepath.Join(outDir, "sequence.json")
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return "", services.Wrap(services.ErrTransient, "assembly", "persist", "failed to write manifest", err)
	}
	return path, nil
}

// HealthCheck verifies the render directory is writable.
func (a *Assembly) HealthCheck(ctx context.Context) stage.Health {
	if err := os.MkdirAll(a.cfg.Paths.RenderDir, 0o755); err != nil {
		return stage.Unhealthy("assembly", fmt.Sprintf("render directory unavailable: %v", err))
	}
	return stage.Healthy("assembly")
}
