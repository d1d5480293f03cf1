package animatic

import (
	"context"

	"slate/internal/config"
	"slate/internal/services"
	"slate/internal/services/kling"
	"slate/internal/services/veo"
)

// newGenerator picks the video vendor from configuration.
func newGenerator(cfg *config.Config) (VideoGenerator, error) {
	switch {
	case cfg.Veo.Enabled && cfg.Kling.Enabled:
		return nil, services.Wrap(services.ErrConfiguration, "animatic", "configure",
			"enable only one of veo and kling", nil)
	case cfg.Veo.Enabled:
		client, err := veo.NewClient(veo.Config{
			ProjectID:          cfg.Veo.ProjectID,
			Location:           cfg.Veo.Location,
			Model:              cfg.Veo.Model,
			ServiceAccountPath: cfg.Veo.ServiceAccountPath,
			PollIntervalSecs:   cfg.Veo.PollIntervalSecs,
			PollTimeoutSecs:    cfg.Veo.PollTimeoutSecs,
		})
		if err != nil {
			return nil, err
		}
		return &veoGenerator{client: client}, nil
	case cfg.Kling.Enabled:
		client := kling.NewClient(kling.Config{
			AccessKey:        cfg.Kling.AccessKey,
			SecretKey:        cfg.Kling.SecretKey,
			BaseURL:          cfg.Kling.BaseURL,
			Model:            cfg.Kling.Model,
			PollIntervalSecs: cfg.Kling.PollIntervalSecs,
			PollTimeoutSecs:  cfg.Kling.PollTimeoutSecs,
		})
		return &klingGenerator{client: client}, nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "animatic", "configure",
			"no video vendor enabled; set veo.enabled or kling.enabled", nil)
	}
}

type veoGenerator struct {
	client *veo.Client
}

func (g *veoGenerator) Name() string { return "veo" }

func (g *veoGenerator) Generate(ctx context.Context, prompt string, imageBytes []byte, durationSecs int) ([]byte, error) {
	result, err := g.client.Generate(ctx, veo.GenerateRequest{
		Prompt:     prompt,
		ImageBytes: imageBytes,
		Duration:   durationSecs,
	})
	if err != nil {
		return nil, err
	}
	if len(result.VideoBytes) == 0 {
		return nil, services.Wrap(services.ErrTransient, "animatic", "veo",
			"operation finished without inline video bytes", nil)
	}
	return result.VideoBytes, nil
}

func (g *veoGenerator) HealthCheck(ctx context.Context) error {
	return g.client.HealthCheck(ctx)
}

type klingGenerator struct {
	client *kling.Client
}

func (g *klingGenerator) Name() string { return "kling" }

func (g *klingGenerator) Generate(ctx context.Context, prompt string, imageBytes []byte, durationSecs int) ([]byte, error) {
	result, err := g.client.Generate(ctx, kling.GenerateRequest{
		Prompt:     prompt,
		ImageBytes: imageBytes,
		Duration:   durationSecs,
	})
	if err != nil {
		return nil, err
	}
	return g.client.Download(ctx, result.VideoURL)
}

func (g *klingGenerator) HealthCheck(ctx context.Context) error {
	return g.client.HealthCheck(ctx)
}
