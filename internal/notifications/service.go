package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rollcall/internal/config"
	"rollcall/internal/queue"
)

const userAgent = "Rollcall-Go/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyJobQueued(ctx context.Context, job *queue.Job) error
	NotifyJobCompleted(ctx context.Context, job *queue.Job) error
	NotifyJobFailed(ctx context.Context, job *queue.Job) error
	NotifyJobStalled(ctx context.Context, job *queue.Job, since time.Duration) error
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
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
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

func (n *ntfyService) NotifyJobQueued(ctx context.Context, job *queue.Job) error {
	return n.send(ctx, payload{
		title:   "Rollcall - Upload Queued",
		message: fmt.Sprintf("Ward %d upload queued: %s", job.WardID, job.SourcePath),
		tags:    []string{"rollcall", "queued"},
	})
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, job *queue.Job) error {
	return n.send(ctx, payload{
		title: "Rollcall - Job Completed",
		message: fmt.Sprintf("Ward %d: %d rows processed, %d verified, %d failed (%d not found)",
			job.WardID, job.ProcessedRecords, job.VerifiedCount, job.FailedCount, job.NotFoundCount),
		tags: []string{"rollcall", "completed"},
	})
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, job *queue.Job) error {
	summary := strings.TrimSpace(job.ErrorSummary)
	if summary == "" {
		summary = "unknown error"
	}
	return n.send(ctx, payload{
		title:    "Rollcall - Job Failed",
		message:  fmt.Sprintf("Ward %d failed (attempt %d/%d): %s", job.WardID, job.RetryCount+1, job.MaxRetries+1, summary),
		tags:     []string{"rollcall", "failed"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyJobStalled(ctx context.Context, job *queue.Job, since time.Duration) error {
	return n.send(ctx, payload{
		title:    "Rollcall - Job Stalled",
		message:  fmt.Sprintf("Ward %d has made no progress for %s (%d/%d rows)", job.WardID, since.Round(time.Second), job.ProcessedRecords, job.TotalRecords),
		tags:     []string{"rollcall", "stalled"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:   "Rollcall - Test",
		message: "Notifications are configured correctly",
		tags:    []string{"rollcall", "test"},
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification status %d", resp.StatusCode)
	}
	return nil
}

type noopService struct{}

func (noopService) NotifyJobQueued(context.Context, *queue.Job) error { return nil }

func (noopService) NotifyJobCompleted(context.Context, *queue.Job) error { return nil }

func (noopService) NotifyJobFailed(context.Context, *queue.Job) error { return nil }

func (noopService) NotifyJobStalled(context.Context, *queue.Job, time.Duration) error { return nil }

func (noopService) TestNotification(context.Context) error { return nil }
