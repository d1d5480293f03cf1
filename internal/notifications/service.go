package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"slate/internal/config"
)

const userAgent = "Slate-Go/0.1.0"

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyStoryboardComplete(ctx context.Context, projectTitle string, shots int) error
	NotifyRenderComplete(ctx context.Context, projectTitle string, stills int) error
	NotifyTaskCompleted(ctx context.Context, projectTitle string, taskID int64) error
	NotifyQueueCompleted(ctx context.Context, processed, failed int, duration time.Duration) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:   topic,
		client:     &http.Client{Timeout: timeout},
		storyboard: cfg.Notifications.Storyboard,
		render:     cfg.Notifications.Render,
		queue:      cfg.Notifications.Queue,
		errors:     cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint   string
	client     *http.Client
	storyboard bool
	render     bool
	queue      bool
	errors     bool
}

func (n *ntfyService) NotifyStoryboardComplete(ctx context.Context, projectTitle string, shots int) error {
	if !n.storyboard {
		return nil
	}
	projectTitle = strings.TrimSpace(projectTitle)
	data := payload{
		title:   "Slate - Storyboard Complete",
		message: fmt.Sprintf("Storyboard ready: %s (%d shots)", projectTitle, shots),
		tags:    []string{"slate", "storyboard", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRenderComplete(ctx context.Context, projectTitle string, stills int) error {
	if !n.render {
		return nil
	}
	projectTitle = strings.TrimSpace(projectTitle)
	data := payload{
		title:   "Slate - Stills Rendered",
		message: fmt.Sprintf("Stills rendered: %s (%d frames)", projectTitle, stills),
		tags:    []string{"slate", "render", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyTaskCompleted(ctx context.Context, projectTitle string, taskID int64) error {
	if !n.queue {
		return nil
	}
	projectTitle = strings.TrimSpace(projectTitle)
	data := payload{
		title:    "Slate - Complete",
		message:  fmt.Sprintf("Production complete: %s (task %d)", projectTitle, taskID),
		tags:     []string{"slate", "workflow", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyQueueCompleted(ctx context.Context, processed, failed int, duration time.Duration) error {
	if !n.queue {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	durationText := duration.String()
	if duration == 0 {
		durationText = "0s"
	}

	var title, message string
	if failed == 0 {
		title = "Slate - Queue Complete"
		message = fmt.Sprintf("Queue processing complete: %d tasks processed in %s", processed, durationText)
	} else {
		title = "Slate - Queue Complete (with errors)"
		message = fmt.Sprintf("Queue processing complete: %d succeeded, %d failed in %s", processed, failed, durationText)
	}

	data := payload{
		title:   title,
		message: message,
		tags:    []string{"slate", "queue", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Slate - Error",
		message:  builder.String(),
		tags:     []string{"slate", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Slate - Test",
		message:  "Notification system test",
		tags:     []string{"slate", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyStoryboardComplete(context.Context, string, int) error         { return nil }
func (noopService) NotifyRenderComplete(context.Context, string, int) error             { return nil }
func (noopService) NotifyTaskCompleted(context.Context, string, int64) error            { return nil }
func (noopService) NotifyQueueCompleted(context.Context, int, int, time.Duration) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error                    { return nil }
func (noopService) TestNotification(context.Context) error                              { return nil }
