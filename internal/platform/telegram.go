package platform

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"botgate/internal/config"
	"botgate/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxTextLen = 4096
	// Telegram sets this header to the secret_token supplied at setWebhook time.
	telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
)

// Telegram implements domain.Adapter for the Telegram Bot API.
type Telegram struct {
	token  string
	secret string
	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

func NewTelegram(cfg config.TelegramConfig, logger *slog.Logger) *Telegram {
	return &Telegram{
		token:  cfg.Token,
		secret: cfg.WebhookSecret,
		logger: logger,
	}
}

func (t *Telegram) Name() domain.Platform { return domain.PlatformTelegram }

func (t *Telegram) HasCredential() bool { return t.token != "" && t.secret != "" }

// Connect initializes the Bot API client. Called once at startup; Verify and
// Normalize work without it so webhook handling never depends on the connect
// round-trip.
func (t *Telegram) Connect(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)
	return nil
}

// Verify checks the secret-token header Telegram attaches to webhook calls.
func (t *Telegram) Verify(rawBody []byte, header http.Header) bool {
	if t.secret == "" {
		// No credential configured: accept, the status endpoint reports it.
		return true
	}
	got := header.Get(telegramSecretHeader)
	if got == "" {
		return false
	}
	return hmac.Equal([]byte(got), []byte(t.secret))
}

// Normalize converts a Bot API Update into the canonical inbound message.
func (t *Telegram) Normalize(rawBody []byte) (domain.InboundMessage, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(rawBody, &update); err != nil {
		return domain.InboundMessage{}, domain.ErrMalformed
	}

	// Edits, callbacks, channel posts and media-only messages are
	// acknowledged but never dispatched.
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return domain.InboundMessage{}, domain.ErrUnsupported
	}
	if msg.Text == "" {
		return domain.InboundMessage{}, domain.ErrUnsupported
	}

	return domain.InboundMessage{
		Platform:   domain.PlatformTelegram,
		ChatID:     strconv.FormatInt(msg.Chat.ID, 10),
		UserID:     strconv.FormatInt(msg.From.ID, 10),
		Text:       clampText(msg.Text, telegramMaxTextLen),
		RawID:      strconv.Itoa(update.UpdateID),
		ReceivedAt: time.Now(),
	}, nil
}

// Send delivers one message. No internal retry: the caller maps the result
// onto its retry policy.
func (t *Telegram) Send(ctx context.Context, chatID, text string) domain.DeliveryResult {
	if err := ctx.Err(); err != nil {
		return domain.DeliveryResult{Status: domain.TransientFailure, Err: err}
	}
	if t.bot == nil {
		return domain.DeliveryResult{Status: domain.TransientFailure, Err: errors.New("telegram bot not connected")}
	}

	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return domain.DeliveryResult{Status: domain.PlatformRejected, Reason: "invalid chat id: " + chatID}
	}

	_, err = t.bot.Send(tgbotapi.NewMessage(id, clampText(text, telegramMaxTextLen)))
	if err == nil {
		return domain.DeliveryResult{Status: domain.Delivered}
	}
	return classifyTelegramError(err)
}

// classifyTelegramError maps a Bot API error onto the delivery taxonomy:
// 429 → RateLimited with the declared retry_after, 5xx and network errors →
// TransientFailure, remaining 4xx (blocked bot, chat not found) → PlatformRejected.
func classifyTelegramError(err error) domain.DeliveryResult {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests || apiErr.RetryAfter > 0:
			return domain.DeliveryResult{
				Status:     domain.RateLimited,
				RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second,
			}
		case apiErr.Code >= 500:
			return domain.DeliveryResult{Status: domain.TransientFailure, Err: err}
		case apiErr.Code >= 400:
			return domain.DeliveryResult{Status: domain.PlatformRejected, Reason: apiErr.Message}
		}
	}
	return domain.DeliveryResult{Status: domain.TransientFailure, Err: err}
}

// RegisterWebhook points the Bot API at the webhook URL, carrying the secret
// token Telegram will echo back on every delivery.
func (t *Telegram) RegisterWebhook(ctx context.Context, webhookURL string) error {
	if t.bot == nil {
		return errors.New("telegram bot not connected")
	}
	params := tgbotapi.Params{"url": webhookURL}
	if t.secret != "" {
		params["secret_token"] = t.secret
	}
	if _, err := t.bot.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("telegram setWebhook: %w", err)
	}
	t.logger.Info("telegram webhook registered", "url", webhookURL)
	return nil
}

func (t *Telegram) UnregisterWebhook(ctx context.Context) error {
	if t.bot == nil {
		return errors.New("telegram bot not connected")
	}
	if _, err := t.bot.MakeRequest("deleteWebhook", nil); err != nil {
		return fmt.Errorf("telegram deleteWebhook: %w", err)
	}
	t.logger.Info("telegram webhook removed")
	return nil
}
