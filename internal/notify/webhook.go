// internal/notify/webhook.go

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/valpere/ScrapeSentry/internal/config"
	"github.com/valpere/ScrapeSentry/internal/utils"
)

// WebhookSink POSTs notifications as JSON to a configured endpoint.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a webhook sink from sink configuration.
func NewWebhookSink(cfg config.SinkConfig) *WebhookSink {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = deliveryTimeout
	}
	return &WebhookSink{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
	}
}

// Name implements Sink.
func (s *WebhookSink) Name() string { return "webhook" }

// Deliver implements Sink.
func (s *WebhookSink) Deliver(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return utils.NewError(utils.ErrCodeNotification, "encode notification").WithCause(err).Build()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return utils.NewError(utils.ErrCodeNotification, "build webhook request").WithCause(err).Build()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ScrapeSentry-notify/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return utils.NewError(utils.ErrCodeNotification, "deliver webhook").
			WithCause(err).
			WithContext("url", s.url).
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return utils.NewError(utils.ErrCodeNotification,
			fmt.Sprintf("webhook returned %s", resp.Status)).
			WithContext("url", s.url).
			Build()
	}
	return nil
}
