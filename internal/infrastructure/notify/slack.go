package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/deckworks/deckd/internal/infrastructure/logging"
)

// Slack posts run outcomes to a channel through the Slack Web API.
type Slack struct {
	client  *slack.Client
	channel string
	logger  *logging.Logger
}

// NewSlack creates a slack notifier. Extra options are forwarded to the
// underlying client, which tests use to point it at a local server.
func NewSlack(token, channel string, logger *logging.Logger, opts ...slack.Option) *Slack {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Slack{
		client:  slack.New(token, opts...),
		channel: channel,
		logger:  logger.Component("notify.slack"),
	}
}

// Name returns the target name used for breaker tracking.
func (s *Slack) Name() string {
	return "slack"
}

// Send posts the event summary as a channel message.
func (s *Slack) Send(ctx context.Context, ev Event) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(ev.Summary(), false))
	if err != nil {
		return fmt.Errorf("failed to post slack message: %w", err)
	}
	return nil
}
