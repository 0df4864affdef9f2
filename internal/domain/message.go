package domain

import (
	"fmt"
	"time"
)

// Platform identifies a chat platform. The set is closed: adapters exist for
// exactly these values and the gateway rejects anything else.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformSlack    Platform = "slack"
	PlatformMax      Platform = "max"
)

// ParsePlatform validates a platform name from an URL path or config key.
func ParsePlatform(s string) (Platform, bool) {
	switch Platform(s) {
	case PlatformTelegram, PlatformSlack, PlatformMax:
		return Platform(s), true
	}
	return "", false
}

// ChatKey is the unit of ordering and rate-limit accounting: one conversation
// stream on one platform.
type ChatKey struct {
	Platform Platform
	ChatID   string
}

func (k ChatKey) String() string {
	return string(k.Platform) + ":" + k.ChatID
}

// InboundMessage is the canonical, platform-agnostic inbound message.
// Immutable once constructed by an adapter's Normalize.
type InboundMessage struct {
	Platform   Platform
	ChatID     string
	UserID     string
	Text       string
	RawID      string // the platform's own message/update identifier, used for dedup
	ReceivedAt time.Time
}

func (m InboundMessage) Key() ChatKey {
	return ChatKey{Platform: m.Platform, ChatID: m.ChatID}
}

// OutboundRequest is one reply scheduled for delivery. Only the sender's
// retry loop mutates Attempt.
type OutboundRequest struct {
	Key             ChatKey
	Text            string
	Attempt         int
	FirstEnqueuedAt time.Time
}

// DeliveryStatus tags the result of a single send attempt.
type DeliveryStatus int

const (
	Delivered DeliveryStatus = iota
	RateLimited
	PlatformRejected
	TransientFailure
)

func (s DeliveryStatus) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case RateLimited:
		return "rate_limited"
	case PlatformRejected:
		return "platform_rejected"
	case TransientFailure:
		return "transient_failure"
	}
	return fmt.Sprintf("delivery_status(%d)", int(s))
}

// DeliveryResult is the structured outcome of one send attempt against a
// platform's send API.
type DeliveryResult struct {
	Status     DeliveryStatus
	RetryAfter time.Duration // set when Status == RateLimited, 0 if the platform gave none
	Reason     string        // set when Status == PlatformRejected
	Err        error         // set when Status == TransientFailure
}

// Outcome is the terminal fate of an OutboundRequest. Exactly one terminal
// outcome is recorded per request; individual retries are never reported.
type Outcome int

const (
	OutcomeDelivered Outcome = iota
	OutcomeRejected
	OutcomeAbandoned
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeRejected:
		return "rejected"
	case OutcomeAbandoned:
		return "abandoned"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}
