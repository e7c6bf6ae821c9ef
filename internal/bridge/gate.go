package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/ChatBridge/internal/messaging"
	"github.com/BTreeMap/ChatBridge/internal/models"
)

// FeatureGate reads the remote per-contact bot feature flag and keeps the
// local dynamic blacklist in sync with it. The check runs synchronously
// before every outbound relay: a remote read per send is the price of never
// acting on a stale flag after an agent flips it.
type FeatureGate struct {
	directory Directory
	blacklist messaging.Blacklist
}

// NewFeatureGate creates a FeatureGate over the directory and blacklist.
func NewFeatureGate(directory Directory, blacklist messaging.Blacklist) *FeatureGate {
	return &FeatureGate{directory: directory, blacklist: blacklist}
}

// Evaluate fetches the contact's current flag and synchronizes the blacklist.
// An unknown contact or absent attribute evaluates to FeatureOn (the
// first-contact default); the resolver initializes the attribute later.
func (g *FeatureGate) Evaluate(ctx context.Context, phone string) (models.FeatureFlag, error) {
	contact, err := g.directory.SearchContact(ctx, phone)
	if err != nil {
		if errors.Is(err, models.ErrContactNotFound) {
			slog.Debug("FeatureGate contact unknown, defaulting to On", "phone", phone)
			return models.FeatureOn, nil
		}
		return models.FeatureUnset, fmt.Errorf("feature flag lookup for %s: %w", phone, err)
	}

	flag := contact.BotFeature()
	switch flag {
	case models.FeatureOff:
		// Idempotent: adding an existing entry is a no-op.
		g.blacklist.Add(phone)
		slog.Info("FeatureGate bot disabled for contact", "phone", phone, "contact_id", contact.ID)
		return models.FeatureOff, nil
	default:
		// On or unset both allow the bot; clear any stale suppression.
		g.blacklist.Remove(phone)
		slog.Debug("FeatureGate bot enabled for contact", "phone", phone, "contact_id", contact.ID, "flag", flag)
		return models.FeatureOn, nil
	}
}
