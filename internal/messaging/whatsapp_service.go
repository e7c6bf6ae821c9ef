package messaging

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/ChatBridge/internal/models"
	"github.com/BTreeMap/ChatBridge/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Runtime using the Whatsmeow-based whatsapp client.
// Incoming user messages surface on the inbound channel; successful bot sends
// are echoed on the outbound channel so the bridge can mirror both directions.
type WhatsAppService struct {
	client    whatsapp.WhatsAppSender
	waClient  *whatsapp.Client // Access to underlying client for event handling
	blacklist Blacklist
	inbound   chan models.InboundMessage
	outbound  chan models.OutboundReply
	done      chan struct{}
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender, blacklist Blacklist) *WhatsAppService {
	service := &WhatsAppService{
		client:    client,
		blacklist: blacklist,
		inbound:   make(chan models.InboundMessage, DefaultChannelBufferSize),
		outbound:  make(chan models.OutboundReply, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}

	// If the client is a full Client (not just an interface), store it for event handling
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// Start begins background processing (e.g., event polling).
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")

	if s.waClient != nil {
		slog.Debug("WhatsAppService starting event handler")
		go s.handleEvents(ctx)
	} else {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
	}

	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	close(s.done)
	close(s.inbound)
	close(s.outbound)
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

// SendMessage sends a bot reply unless the recipient is blacklisted. A
// successful send is echoed as an outbound-reply event for the bridge.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendMessage validation error", "error", err, "to", to)
		return err
	}

	if s.blacklist != nil && s.blacklist.Contains(canonical) {
		slog.Info("WhatsAppService reply suppressed by blacklist", "to", canonical)
		return models.ErrRecipientSuppressed
	}

	err = s.client.SendMessage(ctx, strings.TrimPrefix(canonical, "+"), body)
	if err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", canonical)
		return err
	}

	s.emitOutbound(models.OutboundReply{Recipient: canonical, Answer: body})
	slog.Info("WhatsAppService message sent and reply event emitted", "to", canonical)
	return nil
}

// InboundMessages returns a channel of end-user message events.
func (s *WhatsAppService) InboundMessages() <-chan models.InboundMessage {
	return s.inbound
}

// OutboundReplies returns a channel of bot reply events.
func (s *WhatsAppService) OutboundReplies() <-chan models.OutboundReply {
	return s.outbound
}

// handleEvents processes WhatsApp events and feeds them into the inbound channel
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		default:
			// Ignore other event types
		}
	})

	slog.Debug("WhatsAppService event handler registered")

	// Keep handler running until context is cancelled
	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage processes incoming text messages from end users
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe {
		return
	}

	// Extract text content
	var messageText string
	if evt.Message.Conversation != nil {
		messageText = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		messageText = *evt.Message.ExtendedTextMessage.Text
	} else {
		// Skip non-text messages (images, audio, etc.)
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	// Convert JID to E.164 format with leading plus
	fromNumber := evt.Info.Sender.User
	if !strings.HasPrefix(fromNumber, "+") {
		fromNumber = "+" + fromNumber
	}

	message := models.InboundMessage{
		From:     fromNumber,
		Body:     messageText,
		PushName: evt.Info.PushName,
	}

	slog.Debug("WhatsAppService processing incoming message", "from", message.From, "body_length", len(message.Body))

	// Send to inbound channel (non-blocking)
	select {
	case s.inbound <- message:
		slog.Info("WhatsAppService incoming message forwarded", "from", message.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService inbound channel blocked, dropping message", "from", message.From, "timeout", DefaultChannelTimeout)
	}
}

// emitOutbound forwards a reply event without blocking the sender.
func (s *WhatsAppService) emitOutbound(reply models.OutboundReply) {
	select {
	case s.outbound <- reply:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService outbound channel blocked, dropping reply event", "to", reply.Recipient, "timeout", DefaultChannelTimeout)
	}
}
