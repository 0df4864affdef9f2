package resolve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"botgate/internal/domain"
)

// HTTPResolver delegates resolution to an external HTTP service. The service
// receives the message text plus conversation identity and answers with a
// plain reply string.
type HTTPResolver struct {
	url    string
	client *http.Client
}

func NewHTTPResolver(url string) *HTTPResolver {
	return &HTTPResolver{
		url: url,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type resolveRequest struct {
	Text     string `json:"text"`
	Platform string `json:"platform"`
	ChatID   string `json:"chat_id"`
	UserID   string `json:"user_id,omitempty"`
}

type resolveResponse struct {
	Reply string `json:"reply"`
}

func (h *HTTPResolver) Resolve(ctx context.Context, text string, rc domain.ResolveContext) (string, error) {
	body, err := json.Marshal(resolveRequest{
		Text:     text,
		Platform: string(rc.Platform),
		ChatID:   rc.ChatID,
		UserID:   rc.UserID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal resolve request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build resolve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolver request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("resolver returned status %d", resp.StatusCode)
	}

	var out resolveResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode resolver response: %w", err)
	}
	return out.Reply, nil
}
