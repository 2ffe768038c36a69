/*
Package notify delivers agent run outcomes to external targets.

# Overview

A Manager fans each finished run out to the configured notifiers: a
Slack channel, a generic JSON webhook, or both. Every target sits behind
its own circuit breaker so a dead endpoint is skipped after a few
consecutive failures instead of delaying the rest.

Deliveries happen off the run goroutine; a slow endpoint never holds up
session teardown.

# Components

  - Manager: breaker-guarded fan-out, implements the engine's notifier hook
  - Slack: chat message via the Slack Web API
  - Webhook: JSON POST with a retrying HTTP client

# Example Usage

	manager := notify.NewManager(logger,
		notify.NewSlack(cfg.SlackToken, cfg.SlackChannel, logger),
		notify.NewWebhook(cfg.WebhookURL, logger),
	)
	engine.WithNotifier(manager)
*/
package notify
