package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"idmark/internal/config"
)

const (
	userAgent       = "idmark/0.1.0"
	defaultNtfyBase = "https://ntfy.sh/"
)

// Summary describes a finished batch.
type Summary struct {
	RunID     string
	Succeeded int
	Failed    int
	Skipped   int
	Excluded  int
	Duration  time.Duration
}

// Service defines the notification surface used by the batch orchestrator.
type Service interface {
	NotifyBatchCompleted(ctx context.Context, summary Summary) error
	NotifyRunFailed(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: Endpoint(topic),
		client:   &http.Client{Timeout: timeout},
	}
}

// Endpoint expands a bare topic name into an ntfy.sh URL.
func Endpoint(topic string) string {
	topic = strings.TrimSpace(topic)
	if strings.Contains(topic, "://") {
		return topic
	}
	return defaultNtfyBase + strings.TrimPrefix(topic, "/")
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyBatchCompleted(ctx context.Context, summary Summary) error {
	duration := summary.Duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}

	var builder strings.Builder
	fmt.Fprintf(&builder, "Watermarked %d files in %s", summary.Succeeded, duration)
	if summary.Failed > 0 {
		fmt.Fprintf(&builder, "\nFailed: %d", summary.Failed)
	}
	if summary.Skipped > 0 {
		fmt.Fprintf(&builder, "\nSkipped: %d", summary.Skipped)
	}
	if summary.Excluded > 0 {
		fmt.Fprintf(&builder, "\nUnsupported: %d", summary.Excluded)
	}

	data := payload{
		title:   "idmark - Batch Complete",
		message: builder.String(),
		tags:    []string{"idmark", "batch", "completed"},
	}
	if summary.Failed > 0 {
		data.title = "idmark - Batch Complete (with errors)"
		data.tags = []string{"idmark", "batch", "warning"}
		data.priority = "high"
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunFailed(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Batch aborted")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" during ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "idmark - Error",
		message:  builder.String(),
		tags:     []string{"idmark", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "idmark - Test",
		message:  "Notification system test",
		tags:     []string{"idmark", "test"},
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

func (noopService) NotifyBatchCompleted(context.Context, Summary) error { return nil }
func (noopService) NotifyRunFailed(context.Context, error, string) error { return nil }
func (noopService) TestNotification(context.Context) error               { return nil }
