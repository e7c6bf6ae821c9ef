package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ChatBridge/internal/keylock"
	"github.com/BTreeMap/ChatBridge/internal/models"
	"github.com/google/uuid"
)

// DefaultLockTimeout bounds how long a resolver call waits for a concurrent
// conversation creation on the same phone number before failing with a
// lock-contention error.
const DefaultLockTimeout = 30 * time.Second

// Resolver maps a user phone number to its remote conversation id, creating
// the contact and conversation on first sight. The per-phone lock guarantees
// at most one conversation creation per phone even under concurrent callers.
type Resolver struct {
	directory   Directory
	locks       *keylock.KeyedMutex
	lockTimeout time.Duration
}

// NewResolver creates a Resolver over the given directory. A zero lockTimeout
// falls back to DefaultLockTimeout.
func NewResolver(directory Directory, locks *keylock.KeyedMutex, lockTimeout time.Duration) *Resolver {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Resolver{
		directory:   directory,
		locks:       locks,
		lockTimeout: lockTimeout,
	}
}

// Resolve returns the remote conversation id for the phone number, creating
// contact and conversation as needed. displayName is only used when the
// contact does not exist yet (first-contact time).
func (r *Resolver) Resolve(ctx context.Context, phone, displayName string) (int, error) {
	contact, err := r.resolveContact(ctx, phone, displayName)
	if err != nil {
		return 0, err
	}

	// Fast path: an open conversation already exists, no locking needed.
	if conv, err := r.findConversation(ctx, contact.ID); err != nil {
		return 0, err
	} else if conv != nil {
		slog.Debug("Resolver fast path hit", "phone", phone, "conversation_id", conv.ID)
		return conv.ID, nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, r.lockTimeout)
	defer cancel()
	release, err := r.locks.Acquire(lockCtx, phone)
	if err != nil {
		return 0, fmt.Errorf("conversation creation for %s: %w", phone, err)
	}
	// Released on every exit path; a leaked lock starves later resolvers.
	defer release()

	// Re-check under the lock rather than trusting a concurrent creator's
	// result: the remote search index can lag a just-finished creation.
	if conv, err := r.findConversation(ctx, contact.ID); err != nil {
		return 0, err
	} else if conv != nil {
		slog.Debug("Resolver found conversation created by concurrent caller", "phone", phone, "conversation_id", conv.ID)
		return conv.ID, nil
	}

	sourceID := newSourceID(contact.ID)
	conv, err := r.directory.CreateConversation(ctx, contact.ID, sourceID)
	if err != nil {
		return 0, fmt.Errorf("failed to create conversation for %s: %w", phone, err)
	}
	slog.Info("Resolver created conversation", "phone", phone, "conversation_id", conv.ID, "source_id", sourceID)
	return conv.ID, nil
}

// resolveContact finds or creates the contact and applies the first-contact
// feature flag policy: a contact with no flag gets "On".
func (r *Resolver) resolveContact(ctx context.Context, phone, displayName string) (*models.Contact, error) {
	contact, err := r.directory.SearchContact(ctx, phone)
	if err != nil {
		if !isNotFound(err) {
			return nil, err
		}
		slog.Debug("Resolver creating contact", "phone", phone, "name", displayName)
		contact, err = r.directory.CreateContact(ctx, phone, displayName)
		if err != nil {
			return nil, fmt.Errorf("failed to create contact for %s: %w", phone, err)
		}
	}

	if contact.BotFeature() == models.FeatureUnset {
		attrs := map[string]interface{}{models.BotFeatureKey: string(models.FeatureOn)}
		if err := r.directory.UpdateContactAttributes(ctx, contact.ID, attrs); err != nil {
			return nil, fmt.Errorf("failed to initialize bot feature flag for %s: %w", phone, err)
		}
		if contact.CustomAttributes == nil {
			contact.CustomAttributes = make(map[string]interface{})
		}
		contact.CustomAttributes[models.BotFeatureKey] = string(models.FeatureOn)
		slog.Info("Resolver initialized bot feature flag", "phone", phone, "contact_id", contact.ID, "value", models.FeatureOn)
	}

	return contact, nil
}

// findConversation returns the contact's conversation in the configured inbox,
// or nil when none exists.
func (r *Resolver) findConversation(ctx context.Context, contactID int) (*models.Conversation, error) {
	conversations, err := r.directory.ContactConversations(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations for contact %d: %w", contactID, err)
	}
	inboxID := r.directory.InboxID()
	for i := range conversations {
		if conversations[i].InboxID == inboxID {
			return &conversations[i], nil
		}
	}
	return nil, nil
}

// newSourceID produces a token unique to this creation attempt so retried or
// racing creations can never collide on the remote side.
func newSourceID(contactID int) string {
	return fmt.Sprintf("src_%d_%s", contactID, uuid.NewString())
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrContactNotFound) || errors.Is(err, models.ErrConversationNotFound)
}
