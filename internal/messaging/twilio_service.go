package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/ChatBridge/internal/models"
	"github.com/BTreeMap/ChatBridge/internal/twiliowhatsapp"
)

// TwilioService implements the Runtime interface using the Twilio API.
// Inbound traffic arrives through HandleInbound, fed by the deployment's
// Twilio webhook; outbound sends are echoed as reply events like the
// whatsmeow-backed service.
type TwilioService struct {
	client    twiliowhatsapp.TwilioWhatsAppSender
	blacklist Blacklist
	inbound   chan models.InboundMessage
	outbound  chan models.OutboundReply
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

// NewTwilioService creates a new TwilioService wrapping the given sender.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender, blacklist Blacklist) *TwilioService {
	return &TwilioService{
		client:    client,
		blacklist: blacklist,
		inbound:   make(chan models.InboundMessage, DefaultChannelBufferSize),
		outbound:  make(chan models.OutboundReply, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// Start is a no-op for Twilio (no live client; inbound arrives via webhook).
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.inbound)
		close(s.outbound)
	}()

	return nil
}

// SendMessage sends a bot reply via Twilio unless the recipient is blacklisted.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	return s.send(ctx, to, body, "")
}

// SendMediaMessage sends a bot reply carrying a media URL.
func (s *TwilioService) SendMediaMessage(ctx context.Context, to string, body string, mediaURL string) error {
	return s.send(ctx, to, body, mediaURL)
}

func (s *TwilioService) send(ctx context.Context, to, body, mediaURL string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService send validation error", "error", err, "to", to)
		return err
	}

	if s.blacklist != nil && s.blacklist.Contains(canonical) {
		slog.Info("TwilioService reply suppressed by blacklist", "to", canonical)
		return models.ErrRecipientSuppressed
	}

	if mediaURL != "" {
		err = s.client.SendMediaMessage(ctx, canonical, body, mediaURL)
	} else {
		err = s.client.SendMessage(ctx, canonical, body)
	}
	if err != nil {
		return err
	}

	s.emitOutbound(models.OutboundReply{Recipient: canonical, Answer: body, MediaURL: mediaURL})
	return nil
}

// HandleInbound injects an end-user message received by the deployment's
// Twilio webhook into the inbound event stream.
func (s *TwilioService) HandleInbound(from, body, pushName, mediaURL string) {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		slog.Warn("TwilioService HandleInbound after stop, dropping message", "from", from)
		return
	}
	s.mu.RUnlock()

	canonical, err := s.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		slog.Warn("TwilioService HandleInbound invalid sender", "error", err, "from", from)
		return
	}

	message := models.InboundMessage{
		From:          canonical,
		Body:          body,
		PushName:      pushName,
		AttachmentURL: mediaURL,
	}
	select {
	case s.inbound <- message:
		slog.Debug("TwilioService inbound message forwarded", "from", canonical)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService inbound channel blocked, dropping message", "from", canonical, "timeout", DefaultChannelTimeout)
	}
}

// InboundMessages returns a channel of end-user message events.
func (s *TwilioService) InboundMessages() <-chan models.InboundMessage {
	return s.inbound
}

// OutboundReplies returns a channel of bot reply events.
func (s *TwilioService) OutboundReplies() <-chan models.OutboundReply {
	return s.outbound
}

// emitOutbound forwards a reply event without blocking the sender.
func (s *TwilioService) emitOutbound(reply models.OutboundReply) {
	select {
	case s.outbound <- reply:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService outbound channel blocked, dropping reply event", "to", reply.Recipient, "timeout", DefaultChannelTimeout)
	}
}
