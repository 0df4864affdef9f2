// Package resolve wraps the reply engine behind a timeout and a small retry
// budget, so a flaky engine doesn't stall per-chat queues forever.
package resolve

import (
	"context"
	"log/slog"
	"time"

	"botgate/internal/config"
	"botgate/internal/domain"
	"botgate/internal/metrics"
)

const (
	defaultTimeout = 10 * time.Second
	retryPause     = 500 * time.Millisecond
)

var _ domain.Resolver = (*Client)(nil)

// Client calls a Resolver with a per-call timeout and retries transient
// failures up to the configured budget.
type Client struct {
	resolver domain.Resolver
	timeout  time.Duration
	retries  int
	logger   *slog.Logger
}

func NewClient(r domain.Resolver, cfg config.ResolverConfig, logger *slog.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &Client{
		resolver: r,
		timeout:  timeout,
		retries:  retries,
		logger:   logger,
	}
}

// Resolve returns the reply for text, or an error once the retry budget is
// spent. A spent budget drops the inbound message; the failure is counted so
// operators can see engine trouble, but the chat's queue keeps moving.
func (c *Client) Resolve(ctx context.Context, text string, rc domain.ResolveContext) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				metrics.ResolutionFailures.Inc()
				return "", ctx.Err()
			case <-time.After(retryPause):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		reply, err := c.resolver.Resolve(callCtx, text, rc)
		cancel()
		if err == nil {
			if reply == "" {
				// Nothing to deliver; counted so the drop stays visible.
				metrics.EmptyReplies.Inc()
				c.logger.Debug("resolver returned empty reply",
					"chat", string(rc.Platform)+":"+rc.ChatID)
			}
			return reply, nil
		}
		lastErr = err
		c.logger.Warn("resolution attempt failed",
			"chat", string(rc.Platform)+":"+rc.ChatID, "attempt", attempt+1, "err", err)

		if ctx.Err() != nil {
			break
		}
	}

	metrics.ResolutionFailures.Inc()
	return "", lastErr
}
