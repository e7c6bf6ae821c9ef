package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/ChatBridge/internal/models"
	"github.com/BTreeMap/ChatBridge/internal/whatsapp"
)

func TestWhatsAppService_ImplementsRuntimeAndSources(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient(), NewMemoryBlacklist())

	var _ Runtime = svc
	var _ InboundSource = svc
	var _ OutboundSource = svc
}

func TestWhatsAppService_SendMessageEchoesReplyEvent(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock, NewMemoryBlacklist())

	if err := svc.SendMessage(context.Background(), "+1 (555) 123-4567", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}

	if len(mock.Sent) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(mock.Sent))
	}
	// The wire client receives the bare digit string, no plus.
	if mock.Sent[0].To != "15551234567" {
		t.Errorf("expected bare canonical number, got %q", mock.Sent[0].To)
	}

	select {
	case reply := <-svc.OutboundReplies():
		if reply.Recipient != "+15551234567" || reply.Answer != "hello" {
			t.Errorf("unexpected reply event: %+v", reply)
		}
	case <-time.After(time.Second):
		t.Fatal("expected outbound reply event after successful send")
	}
}

func TestWhatsAppService_SendMessageBlacklisted(t *testing.T) {
	mock := whatsapp.NewMockClient()
	blacklist := NewMemoryBlacklist()
	blacklist.Add("+15551234567")
	svc := NewWhatsAppService(mock, blacklist)

	err := svc.SendMessage(context.Background(), "15551234567", "blocked")
	if !errors.Is(err, models.ErrRecipientSuppressed) {
		t.Fatalf("expected ErrRecipientSuppressed, got %v", err)
	}
	if len(mock.Sent) != 0 {
		t.Errorf("expected no wire sends for blacklisted recipient, got %d", len(mock.Sent))
	}
	select {
	case reply := <-svc.OutboundReplies():
		t.Errorf("expected no reply event for suppressed send, got %+v", reply)
	default:
	}
}

func TestWhatsAppService_SendMessageInvalidRecipient(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock, NewMemoryBlacklist())

	if err := svc.SendMessage(context.Background(), "abc", "hi"); err == nil {
		t.Fatal("expected validation error for non-numeric recipient")
	}
	if len(mock.Sent) != 0 {
		t.Errorf("expected no wire sends for invalid recipient, got %d", len(mock.Sent))
	}
}

func TestWhatsAppService_StopClosesChannels(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient(), NewMemoryBlacklist())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}

	if _, ok := <-svc.InboundMessages(); ok {
		t.Error("expected inbound channel closed after Stop")
	}
	if _, ok := <-svc.OutboundReplies(); ok {
		t.Error("expected outbound channel closed after Stop")
	}
}
