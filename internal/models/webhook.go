package models

// Chatwoot message_type values.
const (
	MessageTypeIncoming = 0
	MessageTypeOutgoing = 1
	MessageTypeSystem   = 2
)

// ChatwootSender identifies who authored a message. Type is "contact" for
// parents and "user" for agents (human or bot).
type ChatwootSender struct {
	ID   int    `json:"id"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// ChatwootMessage is a single message as returned by the conversation
// messages API and embedded in webhooks. CreatedAt is a unix timestamp.
type ChatwootMessage struct {
	ID          int             `json:"id"`
	Content     string          `json:"content"`
	MessageType int             `json:"message_type"`
	Private     bool            `json:"private"`
	CreatedAt   int64           `json:"created_at"`
	Sender      *ChatwootSender `json:"sender,omitempty"`
}

// IsIncoming reports whether the message came from the contact.
func (m *ChatwootMessage) IsIncoming() bool {
	return m.MessageType == MessageTypeIncoming
}

// IsAgentReply reports whether the message is a visible outgoing reply,
// excluding private notes and system activity.
func (m *ChatwootMessage) IsAgentReply() bool {
	return m.MessageType == MessageTypeOutgoing && !m.Private
}

// ChatwootContactInbox links a conversation to the contact record.
type ChatwootContactInbox struct {
	ContactID int `json:"contact_id"`
}

// ChatwootConversationMeta carries the contact as Chatwoot nests it.
type ChatwootConversationMeta struct {
	Sender *ChatwootSender `json:"sender,omitempty"`
}

// ChatwootConversation is the conversation object embedded in webhooks.
type ChatwootConversation struct {
	ID           int                       `json:"id"`
	InboxID      int                       `json:"inbox_id"`
	ContactInbox *ChatwootContactInbox     `json:"contact_inbox,omitempty"`
	Meta         *ChatwootConversationMeta `json:"meta,omitempty"`
}

// ChatwootWebhook is the payload delivered to the webhook endpoint. Only
// message_created events for incoming messages are processed.
type ChatwootWebhook struct {
	Event        string                 `json:"event"`
	ID           int                    `json:"id"`
	Content      string                 `json:"content"`
	MessageType  int                    `json:"message_type"`
	Private      bool                   `json:"private"`
	Sender       *ChatwootSender        `json:"sender,omitempty"`
	Conversation *ChatwootConversation  `json:"conversation,omitempty"`
	Account      map[string]interface{} `json:"account,omitempty"`
}

// ContactID resolves the contact behind the webhook, preferring the
// conversation's contact_inbox link and falling back to the meta sender.
func (w *ChatwootWebhook) ContactID() int {
	if w.Conversation == nil {
		return 0
	}
	if w.Conversation.ContactInbox != nil && w.Conversation.ContactInbox.ContactID != 0 {
		return w.Conversation.ContactInbox.ContactID
	}
	if w.Conversation.Meta != nil && w.Conversation.Meta.Sender != nil {
		return w.Conversation.Meta.Sender.ID
	}
	return 0
}

// IsProcessable reports whether the webhook is an incoming user message the
// orchestrator should handle.
func (w *ChatwootWebhook) IsProcessable() bool {
	return w.Event == "message_created" &&
		w.MessageType == MessageTypeIncoming &&
		!w.Private &&
		w.Content != "" &&
		w.Conversation != nil && w.Conversation.InboxID != 0 &&
		w.ContactID() != 0
}
