// Package outbound delivers replies through platform send APIs under
// per-platform rate limits and a bounded retry/backoff policy.
package outbound

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"botgate/internal/config"
	"botgate/internal/domain"
	"botgate/internal/metrics"
)

const (
	defaultMaxAttempts  = 5
	defaultMaxTotalWait = 2 * time.Minute
	defaultBackoffFloor = time.Second
	defaultSendTimeout  = 30 * time.Second
)

// Sender owns outbound delivery: a platform-wide token bucket per platform,
// an optional per-chat secondary limiter, and the retry state machine.
// Every request ends in exactly one recorded terminal outcome.
type Sender struct {
	adapters    map[domain.Platform]domain.Adapter
	policy      retryPolicy
	sendTimeout time.Duration
	logger      *slog.Logger

	limiters map[domain.Platform]*RateLimiter
	perChat  map[domain.Platform]config.LimitsConfig

	chatMu       sync.Mutex
	chatLimiters map[domain.ChatKey]*RateLimiter
}

type SenderConfig struct {
	Adapters map[domain.Platform]domain.Adapter
	Limits   map[domain.Platform]config.LimitsConfig
	Outbound config.OutboundConfig
	Logger   *slog.Logger
}

func NewSender(cfg SenderConfig) *Sender {
	policy := retryPolicy{
		maxAttempts:  cfg.Outbound.MaxAttempts,
		maxTotalWait: time.Duration(cfg.Outbound.MaxTotalWaitSeconds) * time.Second,
		backoffFloor: time.Duration(cfg.Outbound.BackoffFloorSeconds) * time.Second,
	}
	if policy.maxAttempts <= 0 {
		policy.maxAttempts = defaultMaxAttempts
	}
	if policy.maxTotalWait <= 0 {
		policy.maxTotalWait = defaultMaxTotalWait
	}
	if policy.backoffFloor <= 0 {
		policy.backoffFloor = defaultBackoffFloor
	}

	sendTimeout := time.Duration(cfg.Outbound.SendTimeoutSeconds) * time.Second
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}

	limiters := make(map[domain.Platform]*RateLimiter, len(cfg.Adapters))
	for p := range cfg.Adapters {
		lim := cfg.Limits[p]
		limiters[p] = NewRateLimiter(lim.Burst, lim.RatePerSecond)
	}

	return &Sender{
		adapters:     cfg.Adapters,
		policy:       policy,
		sendTimeout:  sendTimeout,
		logger:       cfg.Logger,
		limiters:     limiters,
		perChat:      cfg.Limits,
		chatLimiters: make(map[domain.ChatKey]*RateLimiter),
	}
}

// Send runs the delivery state machine for one reply and returns its terminal
// outcome. Cancellation of ctx (shutdown) abandons the request; the abandoned
// request is logged for operator follow-up, never silently lost.
func (s *Sender) Send(ctx context.Context, req domain.OutboundRequest) domain.Outcome {
	adapter, ok := s.adapters[req.Key.Platform]
	if !ok {
		s.recordRejected(req, "no adapter for platform")
		return domain.OutcomeRejected
	}
	if req.FirstEnqueuedAt.IsZero() {
		req.FirstEnqueuedAt = time.Now()
	}
	start := time.Now()

	for {
		if err := s.limiters[req.Key.Platform].Wait(ctx); err != nil {
			s.recordAbandoned(req, "shutdown while waiting for rate limiter")
			return domain.OutcomeAbandoned
		}
		if cl := s.chatLimiter(req.Key); cl != nil {
			if err := cl.Wait(ctx); err != nil {
				s.recordAbandoned(req, "shutdown while waiting for chat limiter")
				return domain.OutcomeAbandoned
			}
		}

		req.Attempt++
		sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
		res := adapter.Send(sendCtx, req.Key.ChatID, req.Text)
		cancel()

		if res.Status == domain.RateLimited {
			// Not a failure: the attempt is handed back.
			req.Attempt--
		}

		d := s.policy.decide(res, req.Attempt, time.Since(start))
		switch d.action {
		case actionDeliver:
			metrics.SendsDelivered.Inc()
			metrics.DeliveryLatency.Observe(time.Since(req.FirstEnqueuedAt).Seconds())
			s.logger.Debug("reply delivered",
				"chat", req.Key.String(), "attempts", req.Attempt)
			return domain.OutcomeDelivered

		case actionReject:
			s.recordRejected(req, res.Reason)
			return domain.OutcomeRejected

		case actionAbandon:
			reason := "retry budget exhausted"
			if res.Err != nil {
				reason = res.Err.Error()
			}
			s.recordAbandoned(req, reason)
			return domain.OutcomeAbandoned

		case actionRetry:
			if res.Status == domain.RateLimited {
				s.logger.Warn("platform rate limited, backing off",
					"chat", req.Key.String(), "retry_after", d.delay)
			} else {
				s.logger.Warn("send failed, will retry",
					"chat", req.Key.String(), "attempt", req.Attempt, "backoff", d.delay, "err", res.Err)
			}
			timer := time.NewTimer(d.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				s.recordAbandoned(req, "shutdown during backoff")
				return domain.OutcomeAbandoned
			case <-timer.C:
			}
		}
	}
}

// ForgetChat releases the per-chat limiter when the dispatcher evicts an idle
// ChatKey, so sender state can't outlive the conversation.
func (s *Sender) ForgetChat(key domain.ChatKey) {
	s.chatMu.Lock()
	delete(s.chatLimiters, key)
	s.chatMu.Unlock()
}

func (s *Sender) chatLimiter(key domain.ChatKey) *RateLimiter {
	lim := s.perChat[key.Platform]
	if lim.PerChatPerMinute <= 0 {
		return nil
	}
	s.chatMu.Lock()
	defer s.chatMu.Unlock()
	cl, ok := s.chatLimiters[key]
	if !ok {
		burst := int(lim.PerChatPerMinute / 4)
		if burst < 1 {
			burst = 1
		}
		cl = NewRateLimiter(burst, lim.PerChatPerMinute/60.0)
		s.chatLimiters[key] = cl
	}
	return cl
}

func (s *Sender) recordRejected(req domain.OutboundRequest, reason string) {
	metrics.SendsRejected.Inc()
	s.logger.Warn("reply rejected by platform",
		"chat", req.Key.String(), "attempts", req.Attempt, "reason", reason)
}

func (s *Sender) recordAbandoned(req domain.OutboundRequest, reason string) {
	metrics.SendsAbandoned.Inc()
	s.logger.Error("reply abandoned",
		"chat", req.Key.String(),
		"attempts", req.Attempt,
		"enqueued_at", req.FirstEnqueuedAt,
		"text_len", len(req.Text),
		"reason", reason)
}
