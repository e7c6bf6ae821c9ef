package bridge

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/ChatBridge/internal/chatwoot"
	"github.com/BTreeMap/ChatBridge/internal/models"
)

// relayedMessage records one CreateMessage call on the fake directory.
type relayedMessage struct {
	ConversationID int
	Message        models.RelayMessage
	FileNames      []string
}

// fakeDirectory is an in-memory Directory with CRM-like semantics: phone
// numbers are unique, conversations become visible as soon as they are
// created. Error injection fields simulate remote failures.
type fakeDirectory struct {
	mu sync.Mutex

	inboxID       int
	nextContactID int
	nextConvID    int
	contacts      map[string]*models.Contact
	conversations map[int][]models.Conversation
	definitions   []models.AttributeDefinition
	messages      []relayedMessage

	createConversationCalls int
	createConversationErr   error
	createConversationDelay time.Duration
	searchErr               error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		inboxID:       3,
		nextContactID: 100,
		nextConvID:    500,
		contacts:      make(map[string]*models.Contact),
		conversations: make(map[int][]models.Conversation),
	}
}

func (d *fakeDirectory) InboxID() int { return d.inboxID }

func (d *fakeDirectory) SearchContact(ctx context.Context, phone string) (*models.Contact, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.searchErr != nil {
		return nil, d.searchErr
	}
	contact, ok := d.contacts[phone]
	if !ok {
		return nil, fmt.Errorf("phone %s: %w", phone, models.ErrContactNotFound)
	}
	copied := *contact
	copied.CustomAttributes = cloneAttrs(contact.CustomAttributes)
	return &copied, nil
}

func (d *fakeDirectory) CreateContact(ctx context.Context, phone, name string) (*models.Contact, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	// The CRM enforces phone uniqueness; concurrent creates converge.
	if existing, ok := d.contacts[phone]; ok {
		copied := *existing
		return &copied, nil
	}
	d.nextContactID++
	contact := &models.Contact{ID: d.nextContactID, Name: name, PhoneNumber: phone}
	d.contacts[phone] = contact
	copied := *contact
	return &copied, nil
}

func (d *fakeDirectory) UpdateContactAttributes(ctx context.Context, contactID int, attrs map[string]interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, contact := range d.contacts {
		if contact.ID == contactID {
			if contact.CustomAttributes == nil {
				contact.CustomAttributes = make(map[string]interface{})
			}
			for k, v := range attrs {
				contact.CustomAttributes[k] = v
			}
			return nil
		}
	}
	return models.ErrContactNotFound
}

func (d *fakeDirectory) ContactConversations(ctx context.Context, contactID int) ([]models.Conversation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.Conversation(nil), d.conversations[contactID]...), nil
}

func (d *fakeDirectory) CreateConversation(ctx context.Context, contactID int, sourceID string) (*models.Conversation, error) {
	d.mu.Lock()
	d.createConversationCalls++
	err := d.createConversationErr
	delay := d.createConversationDelay
	d.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextConvID++
	conv := models.Conversation{ID: d.nextConvID, InboxID: d.inboxID, SourceID: sourceID}
	d.conversations[contactID] = append(d.conversations[contactID], conv)
	return &conv, nil
}

func (d *fakeDirectory) CreateMessage(ctx context.Context, conversationID int, msg models.RelayMessage, files []*chatwoot.File) error {
	var names []string
	for _, f := range files {
		names = append(names, f.Name)
		f.Body.Close()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, relayedMessage{ConversationID: conversationID, Message: msg, FileNames: names})
	return nil
}

func (d *fakeDirectory) ListAttributeDefinitions(ctx context.Context) ([]models.AttributeDefinition, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.AttributeDefinition(nil), d.definitions...), nil
}

func (d *fakeDirectory) CreateAttributeDefinition(ctx context.Context, def models.AttributeDefinition) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.definitions = append(d.definitions, def)
	return nil
}

// setFlag assigns the bot feature flag for a phone, creating the contact if needed.
func (d *fakeDirectory) setFlag(phone string, flag models.FeatureFlag) {
	d.mu.Lock()
	defer d.mu.Unlock()
	contact, ok := d.contacts[phone]
	if !ok {
		d.nextContactID++
		contact = &models.Contact{ID: d.nextContactID, PhoneNumber: phone}
		d.contacts[phone] = contact
	}
	if contact.CustomAttributes == nil {
		contact.CustomAttributes = make(map[string]interface{})
	}
	contact.CustomAttributes[models.BotFeatureKey] = string(flag)
}

func (d *fakeDirectory) relayedMessages() []relayedMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]relayedMessage(nil), d.messages...)
}

func cloneAttrs(attrs map[string]interface{}) map[string]interface{} {
	if attrs == nil {
		return nil
	}
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// fakeFetcher resolves attachment URLs from a fixed table; unknown URLs fail
// with ErrUnknownContentType like an unrecognized download.
type fakeFetcher struct {
	files map[string]string // url -> filename
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (*chatwoot.File, error) {
	name, ok := f.files[rawURL]
	if !ok {
		return nil, fmt.Errorf("url %s: %w", rawURL, chatwoot.ErrUnknownContentType)
	}
	return &chatwoot.File{
		Name:        name,
		ContentType: "image/jpeg",
		Body:        io.NopCloser(strings.NewReader("data")),
	}, nil
}
