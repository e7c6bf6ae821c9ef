// Package messaging defines the bot-runtime boundary consumed by ChatBridge.
//
// A Runtime delivers chat traffic; the bridge subscribes to whichever event
// sources the runtime exposes and silently skips the ones it does not.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/BTreeMap/ChatBridge/internal/models"
)

// Constants for runtime service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for event channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = fmt.Errorf("messaging service stopped")

// Runtime is a pluggable bot-runtime abstraction. Implementations may
// additionally satisfy InboundSource and/or OutboundSource; the bridge probes
// for both and does nothing for a missing one.
type Runtime interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a bot reply to a recipient, honoring the blacklist.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error
}

// InboundSource is the optional subscribe capability for end-user messages.
type InboundSource interface {
	InboundMessages() <-chan models.InboundMessage
}

// OutboundSource is the optional subscribe capability for bot replies.
type OutboundSource interface {
	OutboundReplies() <-chan models.OutboundReply
}

// CanonicalizePhone validates a phone identifier and normalizes it to a
// leading-plus digit string. It removes all non-numeric characters and
// requires at least 6 digits.
func CanonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}

	normalized := "+" + canonical
	if normalized != recipient {
		slog.Debug("CanonicalizePhone normalized recipient", "original", recipient, "canonical", normalized)
	}
	return normalized, nil
}
