// Package api provides HTTP response utilities for ChatBridge.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/ChatBridge/internal/models"
)

// Pre-marshaled responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
	webhookAckResponse    []byte
)

// init validates that our canned responses can be marshaled
func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
	webhookAckResponse, err = json.Marshal(models.SuccessWithMessage("Event received", nil))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal webhook acknowledgement at startup: %v", err))
	}
}

// writeWebhookAck writes the fixed 200 acknowledgement the webhook contract
// requires regardless of downstream outcome.
func writeWebhookAck(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(webhookAckResponse); err != nil {
		slog.Error("Server.writeWebhookAck: failed to write acknowledgement", "error", err)
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal the response to JSON first to catch encoding errors before writing headers
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		// Use pre-marshaled fallback response - if this fails, we have bigger problems
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	// Write headers and response only after successful JSON marshaling
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}
