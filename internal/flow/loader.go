package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/TourDesk/internal/chatwoot"
	"github.com/BTreeMap/TourDesk/internal/models"
	"github.com/BTreeMap/TourDesk/internal/store"
)

// Loader assembles the full per-turn context from the three tiers.
type Loader struct {
	store   store.ContextStore
	channel Channel
}

// NewLoader creates a context loader.
func NewLoader(contextStore store.ContextStore, channel Channel) *Loader {
	return &Loader{store: contextStore, channel: channel}
}

// LoadFullContext resolves the persistent profile (store first, Chatwoot
// contact attributes second, empty last), loads any active task state, and
// builds the runtime tier fresh. It degrades instead of failing: a turn
// always gets a usable context, at worst an empty one.
func (l *Loader) LoadFullContext(ctx context.Context, school *models.SchoolInfo, contactID, conversationID int, message, history string) *models.FullContext {
	inboxID := school.InboxID
	slog.Debug("LoadFullContext invoked", "inboxID", inboxID, "contactID", contactID, "conversationID", conversationID)

	profile := l.resolveProfile(ctx, inboxID, contactID)

	active, err := l.store.GetActiveTask(inboxID, contactID)
	if err != nil {
		slog.Error("Failed to load active task state, continuing without", "error", err, "inboxID", inboxID, "contactID", contactID)
		active = nil
	}

	return &models.FullContext{
		Persistent: profile,
		Active:     active,
		Runtime: &models.RuntimeContext{
			InboxID:          inboxID,
			ContactID:        contactID,
			ConversationID:   conversationID,
			CurrentMessage:   message,
			FormattedHistory: history,
			School:           school,
		},
	}
}

// resolveProfile implements the two-tier persistent resolution with
// cache-fill write-back.
func (l *Loader) resolveProfile(ctx context.Context, inboxID, contactID int) *models.PersistentProfile {
	profile, err := l.store.GetPersistentProfile(inboxID, contactID)
	if err != nil {
		slog.Error("Persistent profile read failed, trying Chatwoot", "error", err, "inboxID", inboxID, "contactID", contactID)
	}
	if profile != nil {
		return profile
	}

	attrs, err := l.channel.GetContactAttributes(ctx, contactID)
	if err != nil {
		slog.Error("Chatwoot attribute fetch failed, starting with empty profile", "error", err, "contactID", contactID)
		return &models.PersistentProfile{}
	}
	profile = chatwoot.ExtractProfile(attrs, inboxID)
	if profile == nil {
		return &models.PersistentProfile{}
	}

	// Cache fill so the next turn hits the store.
	if err := l.store.SavePersistentProfile(inboxID, contactID, profile, store.DefaultPersistentTTL); err != nil {
		slog.Error("Profile cache fill failed", "error", err, "inboxID", inboxID, "contactID", contactID)
	}
	slog.Debug("Profile recovered from Chatwoot attributes", "inboxID", inboxID, "contactID", contactID)
	return profile
}
