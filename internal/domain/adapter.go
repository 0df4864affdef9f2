package domain

import (
	"context"
	"net/http"
)

// Adapter binds one platform to the pipeline: signature verification over the
// raw body, envelope normalization, and the platform's send API.
type Adapter interface {
	Name() Platform

	// HasCredential reports whether secret material was configured.
	// Exposed on the status endpoint; the credential itself never leaves
	// the adapter.
	HasCredential() bool

	// Verify checks that rawBody genuinely originated from the platform,
	// using the platform's declared scheme over the raw, unparsed bytes.
	// Comparison must be constant-time. Missing or malformed signature
	// material fails closed.
	Verify(rawBody []byte, header http.Header) bool

	// Normalize parses the platform envelope into an InboundMessage.
	// Returns ErrUnsupported for content that should be acknowledged but
	// not dispatched, ErrMalformed for unparseable bodies, or a
	// *HandshakeError for endpoint-verification exchanges.
	Normalize(rawBody []byte) (InboundMessage, error)

	// Send delivers one reply. Never retries internally; the caller owns
	// the retry policy and maps RetryAfter/backoff from the result.
	Send(ctx context.Context, chatID, text string) DeliveryResult
}

// WebhookRegistrar is implemented by adapters whose platform supports
// registering the public webhook URL over its API (Telegram, MAX). Slack
// configures the endpoint in its app dashboard instead.
type WebhookRegistrar interface {
	RegisterWebhook(ctx context.Context, publicURL string) error
	UnregisterWebhook(ctx context.Context) error
}
