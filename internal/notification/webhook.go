package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vendaflow/broker-auth-service/internal/observability"
)

// WebhookChannel posts {title, body} JSON to a configured endpoint, the hook
// the mobile push gateway listens on. It reports delivery as a bool and
// never returns an error: the password-reset flow must not be able to tell
// callers whether a channel exists or is healthy.
type WebhookChannel struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewWebhookChannel(url string, timeout time.Duration, logger *slog.Logger) *WebhookChannel {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (c *WebhookChannel) Notify(ctx context.Context, title, body string) bool {
	if c.url == "" {
		observability.RecordNotificationDelivery(ctx, "webhook", false)
		return false
	}
	payload, err := json.Marshal(map[string]string{"title": title, "body": body})
	if err != nil {
		observability.RecordNotificationDelivery(ctx, "webhook", false)
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		observability.RecordNotificationDelivery(ctx, "webhook", false)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("webhook delivery failed", "error", err)
		observability.RecordNotificationDelivery(ctx, "webhook", false)
		return false
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	delivered := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !delivered {
		c.logger.Warn("webhook delivery rejected", "status", resp.StatusCode)
	}
	observability.RecordNotificationDelivery(ctx, "webhook", delivered)
	return delivered
}

// LogChannel is the dev-profile channel: it writes the notification to the
// log instead of delivering it anywhere.
type LogChannel struct {
	logger *slog.Logger
}

func NewLogChannel(logger *slog.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Notify(ctx context.Context, title, body string) bool {
	c.logger.Info("notification", "title", title, "body", body)
	observability.RecordNotificationDelivery(ctx, "log", true)
	return true
}
