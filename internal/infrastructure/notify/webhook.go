package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/deckworks/deckd/internal/infrastructure/logging"
)

// Webhook POSTs run outcomes as JSON to a configured URL.
type Webhook struct {
	client *resty.Client
	url    string
	logger *logging.Logger
}

// NewWebhook creates a webhook notifier for the given URL.
func NewWebhook(url string, logger *logging.Logger) *Webhook {
	if logger == nil {
		logger = logging.NewNop()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil

	restyClient := resty.New()
	restyClient.
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("User-Agent", "deckd-notify/1.0")
	restyClient.SetTransport(retryClient.HTTPClient.Transport)

	return &Webhook{
		client: restyClient,
		url:    url,
		logger: logger.Component("notify.webhook"),
	}
}

// Name returns the target name used for breaker tracking.
func (w *Webhook) Name() string {
	return "webhook"
}

// Send posts the event. Any non-2xx response counts as a delivery
// failure so the breaker sees it.
func (w *Webhook) Send(ctx context.Context, ev Event) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(ev).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}
