// Package messaging orchestrates one conversational turn: session locking,
// queuing, context loading, the reasoning loop and state persistence.
package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/TourDesk/internal/chatwoot"
	"github.com/BTreeMap/TourDesk/internal/config"
	"github.com/BTreeMap/TourDesk/internal/flow"
	"github.com/BTreeMap/TourDesk/internal/models"
	"github.com/BTreeMap/TourDesk/internal/store"
	"github.com/BTreeMap/TourDesk/internal/util"
)

// maxHistoryMessages bounds how much transcript the system prompt carries.
const maxHistoryMessages = 50

const (
	queuedAck   = "Your message has been received and will be processed shortly."
	errorReply  = "I encountered an error processing your message. Please try again."
	configReply = "I'm sorry, there seems to be a configuration issue. Please contact support."
)

// Conversations is the Chatwoot surface the handler reads transcripts from.
type Conversations interface {
	GetMessages(ctx context.Context, conversationID int) ([]models.ChatwootMessage, error)
}

// Result is the outcome of one handled turn. SyncAttributes, when non-nil,
// is the contact attribute payload mirroring the updated profile.
type Result struct {
	Reply          string
	Silent         bool
	SyncAttributes map[string]interface{}
}

// Handler runs the per-conversation session protocol around the agent.
type Handler struct {
	store         store.ContextStore
	schools       *config.SchoolManager
	conversations Conversations
	channel       flow.Channel
	loader        *flow.Loader
	agent         *flow.Agent
}

// NewHandler assembles the turn handler.
func NewHandler(contextStore store.ContextStore, schools *config.SchoolManager, conversations Conversations, channel flow.Channel, loader *flow.Loader, agent *flow.Agent) *Handler {
	return &Handler{
		store:         contextStore,
		schools:       schools,
		conversations: conversations,
		channel:       channel,
		loader:        loader,
		agent:         agent,
	}
}

// HandleMessage processes one incoming user message end to end. Exactly one
// handler works a conversation at a time: the session lock is taken first,
// and a denied acquisition queues the message for the lock holder instead.
func (h *Handler) HandleMessage(ctx context.Context, inboxID, contactID, conversationID int, content string) *Result {
	slog.Debug("HandleMessage invoked", "inboxID", inboxID, "contactID", contactID, "conversationID", conversationID)

	// An unconfigured inbox is fatal for the turn; the parent is told to
	// reach support rather than left waiting.
	school, ok := h.schools.School(inboxID)
	if !ok {
		slog.Error("Message for unconfigured inbox", "inboxID", inboxID)
		return &Result{Reply: configReply}
	}

	token := util.GenerateLockToken()
	acquired, err := h.store.AcquireLock(inboxID, contactID, token, store.DefaultLockTTL)
	if err != nil {
		slog.Error("Lock acquisition failed", "error", err, "inboxID", inboxID, "contactID", contactID)
		return &Result{Reply: errorReply}
	}
	if !acquired {
		return h.queueForHolder(inboxID, contactID, content)
	}
	defer h.releaseSession(inboxID, contactID, token)

	transcript, err := h.conversations.GetMessages(ctx, conversationID)
	if err != nil {
		// History and the handoff check degrade; the turn still runs.
		slog.Error("Failed to load conversation transcript", "error", err, "conversationID", conversationID)
		transcript = nil
	}

	// A human agent who has replied owns the conversation; the bot stands
	// down until it is reassigned.
	if chatwoot.LastHumanAgentReply(transcript, school.BotAgentID) {
		return h.standDown(ctx, school, conversationID)
	}

	history := chatwoot.FormatHistory(transcript, config.Location(school), maxHistoryMessages, true)
	fc := h.loader.LoadFullContext(ctx, school, contactID, conversationID, content, history)

	agentResult, err := h.agent.ProcessMessage(ctx, fc)
	if err != nil {
		slog.Error("Turn processing failed", "error", err, "conversationID", conversationID)
		return &Result{Reply: errorReply}
	}

	result := &Result{Reply: agentResult.Reply, Silent: agentResult.Silent}
	h.persistTurn(fc, agentResult, result)
	return result
}

// standDown keeps the bot out of a conversation a human agent owns: no reply
// is sent, and the conversation is pinned to the handover agent so it stays
// off the bot's queue. Assignment failure only logs; staying silent matters
// more.
func (h *Handler) standDown(ctx context.Context, school *models.SchoolInfo, conversationID int) *Result {
	slog.Info("Human agent active, bot standing down", "conversationID", conversationID)
	if school.AgentIDForHandover != 0 {
		if err := h.channel.AssignConversation(ctx, conversationID, school.AgentIDForHandover); err != nil {
			slog.Error("Stand-down assignment failed", "error", err, "conversationID", conversationID)
		}
	}
	return &Result{Silent: true}
}

// queueForHolder hands the message to whoever holds the session lock and
// raises the new-messages flag so the holder folds it into its turn.
func (h *Handler) queueForHolder(inboxID, contactID int, content string) *Result {
	msg := models.QueuedMessage{Content: content, Timestamp: time.Now().UTC()}
	if err := h.store.EnqueueMessage(inboxID, contactID, msg); err != nil {
		slog.Error("Failed to queue message for lock holder", "error", err, "inboxID", inboxID, "contactID", contactID)
		return &Result{Reply: errorReply}
	}
	slog.Info("Message queued behind active session", "inboxID", inboxID, "contactID", contactID)
	return &Result{Reply: queuedAck}
}

// releaseSession discards anything the turn left behind and frees the lock.
// Messages still queued at this point already got their own acknowledgement,
// so dropping them double-sends nothing.
func (h *Handler) releaseSession(inboxID, contactID int, token string) {
	if _, err := h.store.DrainQueuedMessages(inboxID, contactID); err != nil {
		slog.Error("Failed to drain leftover queue", "error", err, "inboxID", inboxID, "contactID", contactID)
	}
	if err := h.store.ClearNewMessagesFlag(inboxID, contactID); err != nil {
		slog.Error("Failed to clear new-messages flag", "error", err, "inboxID", inboxID, "contactID", contactID)
	}
	if err := h.store.ReleaseLock(inboxID, contactID, token); err != nil {
		slog.Error("Failed to release session lock", "error", err, "inboxID", inboxID, "contactID", contactID)
	}
}

// persistTurn writes the turn's state changes: the patched profile, the
// active task state (saved or cleared), and the attribute sync payload.
func (h *Handler) persistTurn(fc *models.FullContext, agentResult *flow.AgentResult, result *Result) {
	inboxID, contactID := fc.Runtime.InboxID, fc.Runtime.ContactID

	if !agentResult.Patch.IsEmpty() {
		if err := h.store.SavePersistentProfile(inboxID, contactID, fc.Persistent, store.DefaultPersistentTTL); err != nil {
			slog.Error("Failed to persist profile", "error", err, "inboxID", inboxID, "contactID", contactID)
		}
		attrs, err := chatwoot.ProfileSyncAttributes(fc.Persistent, inboxID)
		if err != nil {
			slog.Error("Failed to build profile sync payload", "error", err, "inboxID", inboxID)
		} else {
			result.SyncAttributes = attrs
		}
	}

	if fc.Active != nil {
		if err := h.store.SaveActiveTask(inboxID, contactID, fc.Active, store.DefaultActiveTaskTTL); err != nil {
			slog.Error("Failed to persist active task", "error", err, "inboxID", inboxID, "contactID", contactID)
		}
	} else {
		if err := h.store.ClearActiveTask(inboxID, contactID); err != nil {
			slog.Error("Failed to clear active task", "error", err, "inboxID", inboxID, "contactID", contactID)
		}
	}
}
