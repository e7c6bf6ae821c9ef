// Package api provides HTTP handlers for ChatBridge endpoints.
package api

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/ChatBridge/internal/models"
)

// maxWebhookBodyBytes caps webhook payload reads so a misbehaving caller
// cannot exhaust memory.
const maxWebhookBodyBytes = 1 << 20

// webhookHandler accepts agent-originated events (POST /webhook-endpoint).
//
// The contract is fire-and-forget: any JSON body is acknowledged with 200
// before downstream processing happens, and downstream failures never change
// the response.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.webhookHandler: processing webhook request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.webhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		// Even a truncated read is acknowledged; the sender will not retry.
		slog.Warn("Server.webhookHandler: failed to read body", "error", err)
		writeWebhookAck(w)
		return
	}

	s.sink.HandleAgentEvent(models.AgentEvent{Payload: payload})
	slog.Debug("Server.webhookHandler: event accepted", "payload_bytes", len(payload))
	writeWebhookAck(w)
}

// healthHandler provides a health check endpoint for monitoring (GET /health).
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"queue_depth": s.sink.QueueDepth(),
	}
	writeJSONResponse(w, http.StatusOK, healthData)
}
