package chatwoot

import (
	"strings"
	"time"

	"github.com/BTreeMap/TourDesk/internal/models"
)

// weekGap separates history entries more than a week apart so the model does
// not treat a stale exchange as part of the current conversation.
const weekGap = 7 * 24 * time.Hour

const gapSeparator = "--- (earlier conversation) ---"

// FormatHistory renders conversation messages into the transcript fed to the
// model. Private notes and system activity are skipped. Only the most recent
// maxMessages visible messages are kept; excludeLast drops the final message
// (the one currently being processed) so it is not duplicated.
func FormatHistory(messages []models.ChatwootMessage, loc *time.Location, maxMessages int, excludeLast bool) string {
	if loc == nil {
		loc = time.UTC
	}

	visible := make([]models.ChatwootMessage, 0, len(messages))
	for _, m := range messages {
		if m.Private || m.MessageType == models.MessageTypeSystem || m.Content == "" {
			continue
		}
		visible = append(visible, m)
	}
	if excludeLast && len(visible) > 0 {
		visible = visible[:len(visible)-1]
	}
	if maxMessages > 0 && len(visible) > maxMessages {
		visible = visible[len(visible)-maxMessages:]
	}
	if len(visible) == 0 {
		return ""
	}

	var b strings.Builder
	var prev time.Time
	for i, m := range visible {
		ts := time.Unix(m.CreatedAt, 0).In(loc)
		if i > 0 && ts.Sub(prev) > weekGap {
			b.WriteString(gapSeparator)
			b.WriteString("\n")
		}
		prev = ts

		speaker := "Assistant"
		if m.IsIncoming() {
			speaker = "User"
		}
		b.WriteString(speaker)
		b.WriteString(" [")
		b.WriteString(ts.Format("15:04"))
		b.WriteString("]: ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// LastHumanAgentReply scans backwards for the most recent visible outgoing
// reply and reports whether it was authored by someone other than the bot
// agent. When true, a human has the conversation and the bot stays silent.
func LastHumanAgentReply(messages []models.ChatwootMessage, botAgentID int) bool {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if !m.IsAgentReply() {
			continue
		}
		if m.Sender == nil {
			return false
		}
		return m.Sender.Type == "user" && m.Sender.ID != botAgentID
	}
	return false
}
