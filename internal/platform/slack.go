package platform

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"botgate/internal/config"
	"botgate/internal/domain"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

const slackMaxTextLen = 4000

// Slack implements domain.Adapter for the Slack Events API.
type Slack struct {
	signingSecret string
	client        *slack.Client
	logger        *slog.Logger
}

func NewSlack(cfg config.SlackConfig, logger *slog.Logger) *Slack {
	s := &Slack{
		signingSecret: cfg.SigningSecret,
		logger:        logger,
	}
	if cfg.BotToken != "" {
		s.client = slack.New(cfg.BotToken)
	}
	return s
}

func (s *Slack) Name() domain.Platform { return domain.PlatformSlack }

func (s *Slack) HasCredential() bool { return s.signingSecret != "" && s.client != nil }

// Verify checks Slack's v0 signing scheme (X-Slack-Signature over
// "v0:timestamp:body") with the library's verifier, which also bounds the
// timestamp to reject replays.
func (s *Slack) Verify(rawBody []byte, header http.Header) bool {
	if s.signingSecret == "" {
		return true
	}
	verifier, err := slack.NewSecretsVerifier(header, s.signingSecret)
	if err != nil {
		return false
	}
	if _, err := verifier.Write(rawBody); err != nil {
		return false
	}
	return verifier.Ensure() == nil
}

func (s *Slack) Normalize(rawBody []byte) (domain.InboundMessage, error) {
	event, err := slackevents.ParseEvent(json.RawMessage(rawBody), slackevents.OptionNoVerifyToken())
	if err != nil {
		return domain.InboundMessage{}, domain.ErrMalformed
	}

	// Endpoint verification: echo the challenge back through the gateway.
	if event.Type == slackevents.URLVerification {
		var ch slackevents.ChallengeResponse
		if err := json.Unmarshal(rawBody, &ch); err != nil {
			return domain.InboundMessage{}, domain.ErrMalformed
		}
		return domain.InboundMessage{}, &domain.HandshakeError{
			ContentType: "text/plain",
			Body:        []byte(ch.Challenge),
		}
	}

	if event.Type != slackevents.CallbackEvent {
		return domain.InboundMessage{}, domain.ErrUnsupported
	}

	// The outer callback's event_id is Slack's redelivery identifier.
	rawID := ""
	if cb, ok := event.Data.(*slackevents.EventsAPICallbackEvent); ok {
		rawID = cb.EventID
	}

	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// Drop bot echoes and message_changed/deleted subtypes so the
		// gateway never replies to itself.
		if ev.BotID != "" || ev.User == "" || ev.SubType != "" || ev.Text == "" {
			return domain.InboundMessage{}, domain.ErrUnsupported
		}
		if rawID == "" {
			rawID = ev.TimeStamp
		}
		return domain.InboundMessage{
			Platform:   domain.PlatformSlack,
			ChatID:     ev.Channel,
			UserID:     ev.User,
			Text:       clampText(ev.Text, slackMaxTextLen),
			RawID:      rawID,
			ReceivedAt: time.Now(),
		}, nil

	case *slackevents.AppMentionEvent:
		text := ev.Text
		if idx := strings.Index(text, ">"); idx >= 0 {
			text = strings.TrimSpace(text[idx+1:])
		}
		if text == "" {
			return domain.InboundMessage{}, domain.ErrUnsupported
		}
		if rawID == "" {
			rawID = ev.TimeStamp
		}
		return domain.InboundMessage{
			Platform:   domain.PlatformSlack,
			ChatID:     ev.Channel,
			UserID:     ev.User,
			Text:       clampText(text, slackMaxTextLen),
			RawID:      rawID,
			ReceivedAt: time.Now(),
		}, nil
	}

	return domain.InboundMessage{}, domain.ErrUnsupported
}

func (s *Slack) Send(ctx context.Context, chatID, text string) domain.DeliveryResult {
	if s.client == nil {
		return domain.DeliveryResult{Status: domain.TransientFailure, Err: errors.New("slack client not configured")}
	}

	_, _, err := s.client.PostMessageContext(ctx, chatID,
		slack.MsgOptionText(clampText(text, slackMaxTextLen), false))
	if err == nil {
		return domain.DeliveryResult{Status: domain.Delivered}
	}
	return classifySlackError(err)
}

// classifySlackError maps slack-go errors onto the delivery taxonomy. The
// library surfaces API errors as bare strings, so permanent versus transient
// is decided by the documented error codes.
func classifySlackError(err error) domain.DeliveryResult {
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) {
		return domain.DeliveryResult{Status: domain.RateLimited, RetryAfter: rle.RetryAfter}
	}

	var scErr slack.StatusCodeError
	if errors.As(err, &scErr) {
		if scErr.Code >= 500 {
			return domain.DeliveryResult{Status: domain.TransientFailure, Err: err}
		}
		return domain.DeliveryResult{Status: domain.PlatformRejected, Reason: err.Error()}
	}

	switch err.Error() {
	case "internal_error", "service_unavailable", "request_timeout", "fatal_error":
		return domain.DeliveryResult{Status: domain.TransientFailure, Err: err}
	case "channel_not_found", "not_in_channel", "is_archived", "invalid_auth",
		"account_inactive", "token_revoked", "msg_too_long", "restricted_action":
		return domain.DeliveryResult{Status: domain.PlatformRejected, Reason: err.Error()}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.DeliveryResult{Status: domain.TransientFailure, Err: err}
	}

	// Unknown API errors are almost always permanent argument problems;
	// retrying them would just burn the rate budget.
	return domain.DeliveryResult{Status: domain.PlatformRejected, Reason: err.Error()}
}
