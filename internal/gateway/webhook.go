// Package gateway is the HTTP front door: it receives platform webhooks,
// verifies their signatures, normalizes payloads, and hands accepted messages
// to the dispatcher.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"botgate/internal/config"
	"botgate/internal/dispatch"
	"botgate/internal/domain"
	"botgate/internal/metrics"
)

const maxBodyBytes = 1 << 20 // 1MB max

// Server serves the webhook, status, health, and metrics endpoints.
type Server struct {
	adapters   map[domain.Platform]domain.Adapter
	dispatcher *dispatch.Dispatcher
	cfg        config.ServerConfig
	metricsCfg config.MetricsConfig
	logger     *slog.Logger
	startedAt  time.Time
	server     *http.Server
}

func NewServer(
	cfg config.ServerConfig,
	metricsCfg config.MetricsConfig,
	adapters map[domain.Platform]domain.Adapter,
	dispatcher *dispatch.Dispatcher,
	logger *slog.Logger,
) *Server {
	return &Server{
		adapters:   adapters,
		dispatcher: dispatcher,
		cfg:        cfg,
		metricsCfg: metricsCfg,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// Handler builds the route table. Exposed separately so tests can drive it
// with httptest without opening a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/{platform}", s.handleWebhook)
	mux.HandleFunc("POST /webhook/{platform}/{$}", s.handleWebhook)
	mux.HandleFunc("GET /webhook/{platform}/status", s.handleStatus)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metricsCfg.Enabled {
		endpoint := s.metricsCfg.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		mux.HandleFunc("GET "+endpoint, metrics.Collector.Handler())
	}
	return mux
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("gateway server starting", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("gateway server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("gateway server: %w", err)
	}
}

// handleWebhook is the single ingestion path for all platforms. Response
// codes follow webhook etiquette: 401 only for signature failures, 400 only
// for bodies that cannot be parsed, and 200 for everything else so platforms
// don't redeliver what we have deliberately dropped.
func (s *Server) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	platform, ok := domain.ParsePlatform(r.PathValue("platform"))
	if !ok {
		http.Error(rw, "Not Found", http.StatusNotFound)
		return
	}
	adapter, ok := s.adapters[platform]
	if !ok {
		http.Error(rw, "Not Found", http.StatusNotFound)
		return
	}

	metrics.WebhooksReceived.Inc()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil || len(body) > maxBodyBytes {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	// Verification first, on the raw bytes: nothing untrusted is parsed.
	if !adapter.Verify(body, r.Header) {
		metrics.SignatureRejects.Inc()
		s.logger.Warn("webhook signature rejected",
			"platform", platform, "remote", r.RemoteAddr)
		http.Error(rw, "Unauthorized", http.StatusUnauthorized)
		return
	}

	msg, err := adapter.Normalize(body)
	if err != nil {
		var hs *domain.HandshakeError
		switch {
		case errors.As(err, &hs):
			rw.Header().Set("Content-Type", hs.ContentType)
			rw.WriteHeader(http.StatusOK)
			rw.Write(hs.Body)
		case errors.Is(err, domain.ErrMalformed):
			http.Error(rw, "Bad Request", http.StatusBadRequest)
		case errors.Is(err, domain.ErrUnsupported):
			// Acknowledged but not dispatched: edits, bot echoes, reactions.
			metrics.UnsupportedPayloads.Inc()
			rw.WriteHeader(http.StatusOK)
		default:
			s.logger.Error("normalize failed", "platform", platform, "err", err)
			http.Error(rw, "Bad Request", http.StatusBadRequest)
		}
		return
	}

	if err := s.dispatcher.Enqueue(msg); err != nil {
		// Duplicates and shed messages are still acknowledged; redelivery
		// would not help either case.
		s.logger.Debug("message not enqueued",
			"platform", platform, "chat", msg.Key().String(), "reason", err)
	}
	rw.WriteHeader(http.StatusOK)
}

type statusResponse struct {
	Platform      string         `json:"platform"`
	Configured    bool           `json:"configured"`
	UptimeSeconds int64          `json:"uptimeSeconds"`
	Dispatch      dispatch.Stats `json:"dispatch"`
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	platform, ok := domain.ParsePlatform(r.PathValue("platform"))
	if !ok {
		http.Error(rw, "Not Found", http.StatusNotFound)
		return
	}
	adapter, ok := s.adapters[platform]
	if !ok {
		http.Error(rw, "Not Found", http.StatusNotFound)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(statusResponse{
		Platform:      string(platform),
		Configured:    adapter.HasCredential(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Dispatch:      s.dispatcher.Stats(),
	})
}

func (s *Server) handleHealth(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]string{"status": "ok"})
}
