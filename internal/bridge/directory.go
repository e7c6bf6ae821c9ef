package bridge

import (
	"context"

	"github.com/BTreeMap/ChatBridge/internal/chatwoot"
	"github.com/BTreeMap/ChatBridge/internal/models"
)

// Directory is the remote CRM surface the bridge depends on. The production
// implementation is *chatwoot.Client; tests substitute in-memory fakes.
type Directory interface {
	SearchContact(ctx context.Context, phone string) (*models.Contact, error)
	CreateContact(ctx context.Context, phone, name string) (*models.Contact, error)
	UpdateContactAttributes(ctx context.Context, contactID int, attrs map[string]interface{}) error
	ContactConversations(ctx context.Context, contactID int) ([]models.Conversation, error)
	CreateConversation(ctx context.Context, contactID int, sourceID string) (*models.Conversation, error)
	CreateMessage(ctx context.Context, conversationID int, msg models.RelayMessage, files []*chatwoot.File) error
	ListAttributeDefinitions(ctx context.Context) ([]models.AttributeDefinition, error)
	CreateAttributeDefinition(ctx context.Context, def models.AttributeDefinition) error
	InboxID() int
}

// AttachmentFetcher resolves attachment URLs into upload-ready files.
type AttachmentFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*chatwoot.File, error)
}
