// Package api provides the HTTP surface of ChatBridge.
//
// It exposes the agent webhook endpoint that re-emits CRM events into the
// bridge pipeline, plus a health check for monitoring. Routing stays on the
// standard mux; the interesting contract lives in the handlers.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/ChatBridge/internal/models"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// DefaultShutdownTimeout bounds graceful shutdown of in-flight requests.
const DefaultShutdownTimeout = 10 * time.Second

// EventSink receives webhook payloads and reports pipeline health. The bridge
// implements it; tests use fakes.
type EventSink interface {
	HandleAgentEvent(evt models.AgentEvent)
	QueueDepth() int
}

// Opts holds optional server settings.
type Opts struct {
	Addr string
}

// Option defines an optional server setting.
type Option func(*Opts)

// WithAddr overrides the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server hosts the webhook and health endpoints.
type Server struct {
	sink EventSink
	srv  *http.Server
}

// NewServer builds the HTTP server around the given event sink.
func NewServer(sink EventSink, opts ...Option) *Server {
	o := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{sink: sink}
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook-endpoint", s.webhookHandler)
	mux.HandleFunc("/health", s.healthHandler)
	s.srv = &http.Server{
		Addr:              o.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start begins serving in a background goroutine. Listen failures other than
// a normal shutdown are reported on the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server.Start: listen failed", "error", err)
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, DefaultShutdownTimeout)
	defer cancel()
	slog.Info("Server shutting down", "addr", s.srv.Addr)
	return s.srv.Shutdown(shutdownCtx)
}
