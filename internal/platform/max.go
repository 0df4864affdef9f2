package platform

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"botgate/internal/config"
	"botgate/internal/domain"
)

const (
	maxTextLimit = 4000
	// MAX signs webhook deliveries with an HMAC-SHA256 over the raw body,
	// hex-encoded in this header.
	maxSignatureHeader = "X-Max-Signature"
)

// Max implements domain.Adapter for the MAX messenger HTTP API.
type Max struct {
	apiKey  string
	apiBase string
	secret  string
	client  *http.Client
	logger  *slog.Logger
}

func NewMax(cfg config.MaxConfig, logger *slog.Logger) *Max {
	base := cfg.APIBase
	if base == "" {
		base = "https://max-api.chat/api"
	}
	return &Max{
		apiKey:  cfg.APIKey,
		apiBase: base,
		secret:  cfg.WebhookSecret,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

func (m *Max) Name() domain.Platform { return domain.PlatformMax }

func (m *Max) HasCredential() bool { return m.apiKey != "" && m.secret != "" }

// Verify recomputes the HMAC over the raw, unparsed body and compares it
// against the signature header in constant time. Computed before any JSON
// decoding so canonicalization can't diverge.
func (m *Max) Verify(rawBody []byte, header http.Header) bool {
	if m.secret == "" {
		return true
	}
	sig := header.Get(maxSignatureHeader)
	if sig == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(m.secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

// --- MAX webhook envelope ---

type maxEnvelope struct {
	Message *maxMessage `json:"message"`
}

type maxMessage struct {
	MessageID int64       `json:"message_id"`
	From      maxIdentity `json:"from"`
	Chat      maxIdentity `json:"chat"`
	Text      string      `json:"text"`
}

// maxIdentity tolerates both string and numeric ids in the envelope.
type maxIdentity struct {
	ID string `json:"id"`
}

func (i *maxIdentity) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.ID) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.ID, &s); err == nil {
		i.ID = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw.ID, &n); err == nil {
		i.ID = n.String()
		return nil
	}
	i.ID = string(raw.ID)
	return nil
}

func (m *Max) Normalize(rawBody []byte) (domain.InboundMessage, error) {
	var env maxEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return domain.InboundMessage{}, domain.ErrMalformed
	}
	msg := env.Message
	if msg == nil || msg.Text == "" || msg.Chat.ID == "" {
		return domain.InboundMessage{}, domain.ErrUnsupported
	}

	rawID := strconv.FormatInt(msg.MessageID, 10)
	if msg.MessageID == 0 {
		// Some event types omit message_id; fall back to a body digest so
		// redeliveries still dedup.
		sum := sha256.Sum256(rawBody)
		rawID = hex.EncodeToString(sum[:8])
	}

	return domain.InboundMessage{
		Platform:   domain.PlatformMax,
		ChatID:     msg.Chat.ID,
		UserID:     msg.From.ID,
		Text:       clampText(msg.Text, maxTextLimit),
		RawID:      rawID,
		ReceivedAt: time.Now(),
	}, nil
}

func (m *Max) Send(ctx context.Context, chatID, text string) domain.DeliveryResult {
	payload, err := json.Marshal(map[string]string{
		"chat_id": chatID,
		"text":    clampText(text, maxTextLimit),
	})
	if err != nil {
		return domain.DeliveryResult{Status: domain.PlatformRejected, Reason: err.Error()}
	}

	resp, err := m.post(ctx, "/sendMessage", payload)
	if err != nil {
		return domain.DeliveryResult{Status: domain.TransientFailure, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return domain.DeliveryResult{Status: domain.Delivered}
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.DeliveryResult{Status: domain.RateLimited, RetryAfter: parseRetryAfter(resp)}
	case resp.StatusCode >= 500:
		return domain.DeliveryResult{Status: domain.TransientFailure,
			Err: fmt.Errorf("max API %d: %s", resp.StatusCode, readBrief(resp.Body))}
	default:
		return domain.DeliveryResult{Status: domain.PlatformRejected,
			Reason: fmt.Sprintf("max API %d: %s", resp.StatusCode, readBrief(resp.Body))}
	}
}

func (m *Max) RegisterWebhook(ctx context.Context, webhookURL string) error {
	payload, _ := json.Marshal(map[string]string{
		"url":          webhookURL,
		"secret_token": m.secret,
	})
	resp, err := m.post(ctx, "/setWebhook", payload)
	if err != nil {
		return fmt.Errorf("max setWebhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("max setWebhook: %d %s", resp.StatusCode, readBrief(resp.Body))
	}
	m.logger.Info("max webhook registered", "url", webhookURL)
	return nil
}

func (m *Max) UnregisterWebhook(ctx context.Context) error {
	resp, err := m.post(ctx, "/deleteWebhook", nil)
	if err != nil {
		return fmt.Errorf("max deleteWebhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("max deleteWebhook: %d %s", resp.StatusCode, readBrief(resp.Body))
	}
	m.logger.Info("max webhook removed")
	return nil
}

func (m *Max) post(ctx context.Context, path string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiBase+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	return m.client.Do(req)
}

func parseRetryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

func readBrief(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return string(b)
}
