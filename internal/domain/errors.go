package domain

import "errors"

// Normalization and dispatch errors. The gateway maps these onto HTTP
// responses: everything except a signature failure is acknowledged with 200
// so platforms don't retry-storm on content we intentionally drop.
var (
	// ErrUnsupported marks payloads with no dispatchable text content
	// (photos, stickers, edits, bot echoes). Acknowledged, not enqueued.
	ErrUnsupported = errors.New("unsupported content")

	// ErrMalformed marks bodies that don't parse as the platform envelope.
	ErrMalformed = errors.New("malformed payload")

	// ErrOverloaded is returned when a chat's queue is at capacity.
	// The message is shed and counted, never silently lost.
	ErrOverloaded = errors.New("chat queue overloaded")

	// ErrDuplicate is returned when a message's RawID is already in the
	// chat's dedup window.
	ErrDuplicate = errors.New("duplicate message")
)

// HandshakeError carries a platform endpoint-verification response
// (Slack url_verification, and the like) up to the HTTP layer, which writes
// it back with a 200 instead of dispatching anything.
type HandshakeError struct {
	ContentType string
	Body        []byte
}

func (e *HandshakeError) Error() string { return "platform handshake" }
