package resolve

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"botgate/internal/config"
	"botgate/internal/domain"
	"botgate/internal/metrics"
)

// flakyResolver fails a fixed number of times before succeeding.
type flakyResolver struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyResolver) Resolve(ctx context.Context, text string, rc domain.ResolveContext) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("engine unavailable")
	}
	return "reply to " + text, nil
}

func testClientConfig(retries int) config.ResolverConfig {
	return config.ResolverConfig{TimeoutSeconds: 5, Retries: retries}
}

func testResolveContext() domain.ResolveContext {
	return domain.ResolveContext{Platform: domain.PlatformTelegram, ChatID: "42", UserID: "u1"}
}

func TestClient_SucceedsFirstTry(t *testing.T) {
	r := &flakyResolver{}
	c := NewClient(r, testClientConfig(2), slog.New(slog.NewTextHandler(io.Discard, nil)))

	reply, err := c.Resolve(context.Background(), "hello", testResolveContext())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if reply != "reply to hello" {
		t.Fatalf("unexpected reply %q", reply)
	}
	if r.calls != 1 {
		t.Fatalf("expected 1 call, got %d", r.calls)
	}
}

func TestClient_RetriesWithinBudget(t *testing.T) {
	// Two failures then success must still deliver with a budget of 2 retries.
	r := &flakyResolver{failures: 2}
	c := NewClient(r, testClientConfig(2), slog.New(slog.NewTextHandler(io.Discard, nil)))

	reply, err := c.Resolve(context.Background(), "hello", testResolveContext())
	if err != nil {
		t.Fatalf("resolve after retries: %v", err)
	}
	if reply != "reply to hello" {
		t.Fatalf("unexpected reply %q", reply)
	}
	if r.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", r.calls)
	}
}

func TestClient_BudgetExhausted(t *testing.T) {
	r := &flakyResolver{failures: 10}
	c := NewClient(r, testClientConfig(2), slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := c.Resolve(context.Background(), "hello", testResolveContext())
	if err == nil {
		t.Fatal("expected error after budget exhausted")
	}
	if r.calls != 3 {
		t.Fatalf("expected 3 calls (1 + 2 retries), got %d", r.calls)
	}
}

func TestClient_EmptyReplyCounted(t *testing.T) {
	empty := resolverFunc(func(ctx context.Context, text string, rc domain.ResolveContext) (string, error) {
		return "", nil
	})
	c := NewClient(empty, testClientConfig(0), slog.New(slog.NewTextHandler(io.Discard, nil)))

	before := metrics.EmptyReplies.Value()
	reply, err := c.Resolve(context.Background(), "hello", testResolveContext())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if reply != "" {
		t.Fatalf("reply = %q", reply)
	}
	if got := metrics.EmptyReplies.Value(); got != before+1 {
		t.Fatalf("empty reply not counted: before=%d after=%d", before, got)
	}
}

func TestClient_TimeoutBoundsSlowEngine(t *testing.T) {
	slow := resolverFunc(func(ctx context.Context, text string, rc domain.ResolveContext) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(10 * time.Second):
			return "too late", nil
		}
	})
	cfg := config.ResolverConfig{TimeoutSeconds: 1, Retries: 0}
	c := NewClient(slow, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	start := time.Now()
	_, err := c.Resolve(context.Background(), "hello", testResolveContext())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("timeout not enforced, took %v", elapsed)
	}
}

type resolverFunc func(ctx context.Context, text string, rc domain.ResolveContext) (string, error)

func (f resolverFunc) Resolve(ctx context.Context, text string, rc domain.ResolveContext) (string, error) {
	return f(ctx, text, rc)
}
