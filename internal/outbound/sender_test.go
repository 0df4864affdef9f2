package outbound

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"botgate/internal/config"
	"botgate/internal/domain"
)

// scriptedAdapter returns canned results in order, repeating the last one.
type scriptedAdapter struct {
	mu      sync.Mutex
	results []domain.DeliveryResult
	calls   int
}

func (a *scriptedAdapter) Name() domain.Platform { return domain.PlatformTelegram }
func (a *scriptedAdapter) HasCredential() bool   { return true }
func (a *scriptedAdapter) Verify([]byte, http.Header) bool {
	return true
}
func (a *scriptedAdapter) Normalize([]byte) (domain.InboundMessage, error) {
	return domain.InboundMessage{}, domain.ErrUnsupported
}

func (a *scriptedAdapter) Send(ctx context.Context, chatID, text string) domain.DeliveryResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.calls
	a.calls++
	if i >= len(a.results) {
		i = len(a.results) - 1
	}
	return a.results[i]
}

func (a *scriptedAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func newTestSender(adapter domain.Adapter, out config.OutboundConfig) *Sender {
	return NewSender(SenderConfig{
		Adapters: map[domain.Platform]domain.Adapter{domain.PlatformTelegram: adapter},
		Limits: map[domain.Platform]config.LimitsConfig{
			domain.PlatformTelegram: {RatePerSecond: 1000, Burst: 100},
		},
		Outbound: out,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func testRequest() domain.OutboundRequest {
	return domain.OutboundRequest{
		Key:             domain.ChatKey{Platform: domain.PlatformTelegram, ChatID: "42"},
		Text:            "hello",
		FirstEnqueuedAt: time.Now(),
	}
}

func TestSender_DeliveredFirstTry(t *testing.T) {
	adapter := &scriptedAdapter{results: []domain.DeliveryResult{
		{Status: domain.Delivered},
	}}
	s := newTestSender(adapter, config.OutboundConfig{MaxAttempts: 5, MaxTotalWaitSeconds: 120})

	if got := s.Send(context.Background(), testRequest()); got != domain.OutcomeDelivered {
		t.Fatalf("expected delivered, got %v", got)
	}
	if adapter.callCount() != 1 {
		t.Fatalf("expected 1 send, got %d", adapter.callCount())
	}
}

func TestSender_RejectedIsTerminal(t *testing.T) {
	adapter := &scriptedAdapter{results: []domain.DeliveryResult{
		{Status: domain.PlatformRejected, Reason: "chat not found"},
	}}
	s := newTestSender(adapter, config.OutboundConfig{MaxAttempts: 5, MaxTotalWaitSeconds: 120})

	if got := s.Send(context.Background(), testRequest()); got != domain.OutcomeRejected {
		t.Fatalf("expected rejected, got %v", got)
	}
	if adapter.callCount() != 1 {
		t.Fatalf("rejection must not be retried, got %d sends", adapter.callCount())
	}
}

func TestSender_RateLimitedThenDelivered(t *testing.T) {
	retryAfter := 80 * time.Millisecond
	adapter := &scriptedAdapter{results: []domain.DeliveryResult{
		{Status: domain.RateLimited, RetryAfter: retryAfter},
		{Status: domain.Delivered},
	}}
	s := newTestSender(adapter, config.OutboundConfig{MaxAttempts: 5, MaxTotalWaitSeconds: 120})

	start := time.Now()
	got := s.Send(context.Background(), testRequest())
	elapsed := time.Since(start)

	if got != domain.OutcomeDelivered {
		t.Fatalf("expected delivered after rate limit, got %v", got)
	}
	if adapter.callCount() != 2 {
		t.Fatalf("expected 2 sends, got %d", adapter.callCount())
	}
	if elapsed < retryAfter {
		t.Fatalf("second send fired before retry-after: %v < %v", elapsed, retryAfter)
	}
}

func TestSender_TransientExhaustsAttempts(t *testing.T) {
	adapter := &scriptedAdapter{results: []domain.DeliveryResult{
		{Status: domain.TransientFailure, Err: errors.New("boom")},
	}}
	s := newTestSender(adapter, config.OutboundConfig{MaxAttempts: 1, MaxTotalWaitSeconds: 120})

	if got := s.Send(context.Background(), testRequest()); got != domain.OutcomeAbandoned {
		t.Fatalf("expected abandoned, got %v", got)
	}
	if adapter.callCount() != 1 {
		t.Fatalf("expected 1 send, got %d", adapter.callCount())
	}
}

func TestSender_ShutdownAbandons(t *testing.T) {
	adapter := &scriptedAdapter{results: []domain.DeliveryResult{
		{Status: domain.RateLimited, RetryAfter: 10 * time.Second},
	}}
	s := newTestSender(adapter, config.OutboundConfig{MaxAttempts: 5, MaxTotalWaitSeconds: 120})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan domain.Outcome, 1)
	go func() { done <- s.Send(ctx, testRequest()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case got := <-done:
		if got != domain.OutcomeAbandoned {
			t.Fatalf("expected abandoned on shutdown, got %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send did not return after cancellation")
	}
}

func TestSender_UnknownPlatformRejected(t *testing.T) {
	s := NewSender(SenderConfig{
		Adapters: map[domain.Platform]domain.Adapter{},
		Limits:   map[domain.Platform]config.LimitsConfig{},
		Outbound: config.OutboundConfig{MaxAttempts: 5, MaxTotalWaitSeconds: 120},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if got := s.Send(context.Background(), testRequest()); got != domain.OutcomeRejected {
		t.Fatalf("expected rejected, got %v", got)
	}
}
