package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	apperrors "github.com/p-blackswan/crewflow/internal/errors"
	"github.com/p-blackswan/crewflow/internal/retry"
)

// SlackAPI is the subset of the Slack client used here.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts run outcomes to a channel.
type SlackNotifier struct {
	api     SlackAPI
	channel string
	retry   retry.Config
	logger  zerolog.Logger
}

// NewSlackClient builds the real Slack web client.
func NewSlackClient(botToken string) *slack.Client {
	return slack.New(botToken)
}

// NewSlackNotifier creates a notifier posting to channel.
func NewSlackNotifier(api SlackAPI, channel string, logger zerolog.Logger) *SlackNotifier {
	return &SlackNotifier{
		api:     api,
		channel: channel,
		retry:   retry.DefaultConfig(),
		logger:  logger.With().Str("component", "notify.slack").Logger(),
	}
}

// WithRetry overrides the backoff used for rate-limited posts.
func (n *SlackNotifier) WithRetry(cfg retry.Config) *SlackNotifier {
	n.retry = cfg
	return n
}

func (n *SlackNotifier) Name() string { return "slack" }

func (n *SlackNotifier) Notify(ctx context.Context, o Outcome) error {
	blocks := outcomeBlocks(o)
	cfg := n.retry
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		n.logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("slack post failed, retrying")
	}
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		_, _, err := n.api.PostMessageContext(ctx, n.channel,
			slack.MsgOptionText(o.Title(), false),
			slack.MsgOptionBlocks(blocks...),
		)
		return classify(err)
	})
	if err != nil {
		return fmt.Errorf("posting outcome to %s: %w", n.channel, err)
	}
	n.logger.Info().
		Str("project_id", o.ProjectID).
		Str("channel", n.channel).
		Str("level", string(o.Level())).
		Msg("outcome posted")
	return nil
}

// classify maps Slack client errors onto retryable API errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) {
		return &apperrors.APIError{Service: "slack", StatusCode: 429, Message: "rate limited", Err: err}
	}
	var se slack.StatusCodeError
	if errors.As(err, &se) {
		return &apperrors.APIError{Service: "slack", StatusCode: se.Code, Message: se.Status, Err: err}
	}
	return err
}

func outcomeBlocks(o Outcome) []slack.Block {
	header := fmt.Sprintf("%s *%s*", levelEmoji(o.Level()), o.Title())
	return []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, header, false, false), nil, nil),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, o.Message(), false, false), nil, nil),
		slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, "project `"+o.ProjectID+"`", false, false),
		),
	}
}
