package chatwoot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/TourDesk/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := NewClient(WithBaseURL(server.URL), WithAccountID(1), WithAPIToken("token"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(WithAccountID(1), WithAPIToken("t")); err == nil {
		t.Error("expected error without base URL")
	}
	if _, err := NewClient(WithBaseURL("http://x"), WithAPIToken("t")); err == nil {
		t.Error("expected error without account ID")
	}
	if _, err := NewClient(WithBaseURL("http://x"), WithAccountID(1)); err == nil {
		t.Error("expected error without API token")
	}
}

func TestSendMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Header.Get("api_access_token") != "token" {
			t.Error("missing api_access_token header")
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{}`))
	})

	if err := c.SendMessage(context.Background(), 55, "Hello!", false); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if gotPath != "/api/v1/accounts/1/conversations/55/messages" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if gotBody["content"] != "Hello!" || gotBody["message_type"] != "outgoing" || gotBody["private"] != false {
		t.Errorf("unexpected body: %v", gotBody)
	}
}

func TestGetMessages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"payload": []map[string]interface{}{
				{"id": 1, "content": "hi", "message_type": 0, "created_at": 1700000000},
				{"id": 2, "content": "hello", "message_type": 1, "created_at": 1700000060},
			},
		})
	})

	msgs, err := c.GetMessages(context.Background(), 55)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(msgs) != 2 || !msgs[0].IsIncoming() || msgs[0].Content != "hi" {
		t.Errorf("unexpected messages: %+v", msgs)
	}
}

func TestAssignConversation(t *testing.T) {
	var gotBody map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{}`))
	})
	if err := c.AssignConversation(context.Background(), 55, 9); err != nil {
		t.Fatalf("AssignConversation failed: %v", err)
	}
	if gotBody["assignee_id"] != float64(9) {
		t.Errorf("unexpected assignee: %v", gotBody)
	}
}

func TestProfileAttributeRoundTrip(t *testing.T) {
	profile := &models.PersistentProfile{ParentName: "Sarah Tan", ChildName: "Emma", PipedriveDealID: 501}
	attrs, err := ProfileSyncAttributes(profile, 101)
	if err != nil {
		t.Fatalf("ProfileSyncAttributes failed: %v", err)
	}
	raw, ok := attrs["101_profile"].(string)
	if !ok {
		t.Fatalf("expected string attribute, got %T", attrs["101_profile"])
	}
	if strings.Contains(raw, "parent_phone") {
		t.Error("unset fields should be stripped from the sync payload")
	}

	got := ExtractProfile(map[string]interface{}{"101_profile": raw}, 101)
	if got == nil || got.ParentName != "Sarah Tan" || got.PipedriveDealID != 501 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestExtractProfileTolerance(t *testing.T) {
	if got := ExtractProfile(nil, 101); got != nil {
		t.Error("nil attrs should yield nil profile")
	}
	if got := ExtractProfile(map[string]interface{}{"101_profile": "{invalid"}, 101); got != nil {
		t.Error("corrupt attribute should yield nil profile")
	}
	if got := ExtractProfile(map[string]interface{}{"202_profile": "{}"}, 101); got != nil {
		t.Error("another inbox's profile should not leak")
	}
}

func TestFormatHistory(t *testing.T) {
	base := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC).Unix()
	msgs := []models.ChatwootMessage{
		{Content: "old question", MessageType: 0, CreatedAt: base - int64(9*24*3600)},
		{Content: "hi there", MessageType: 0, CreatedAt: base},
		{Content: "note to team", MessageType: 1, Private: true, CreatedAt: base + 10},
		{Content: "Hello! How can I help?", MessageType: 1, CreatedAt: base + 20},
		{Content: "current message", MessageType: 0, CreatedAt: base + 30},
	}

	out := FormatHistory(msgs, time.UTC, 50, true)
	if strings.Contains(out, "note to team") {
		t.Error("private notes must be excluded")
	}
	if strings.Contains(out, "current message") {
		t.Error("excludeLast should drop the message under processing")
	}
	if !strings.Contains(out, gapSeparator) {
		t.Error("expected week-gap separator")
	}
	if !strings.Contains(out, "User [09:00]: hi there") {
		t.Errorf("unexpected formatting:\n%s", out)
	}
	if !strings.Contains(out, "Assistant [") {
		t.Errorf("expected assistant line:\n%s", out)
	}
}

func TestLastHumanAgentReply(t *testing.T) {
	bot := 5
	human := 9
	msgs := []models.ChatwootMessage{
		{Content: "hi", MessageType: 0, Sender: &models.ChatwootSender{ID: 1, Type: "contact"}},
		{Content: "bot reply", MessageType: 1, Sender: &models.ChatwootSender{ID: bot, Type: "user"}},
	}
	if LastHumanAgentReply(msgs, bot) {
		t.Error("bot reply should not count as human")
	}

	msgs = append(msgs, models.ChatwootMessage{Content: "human here", MessageType: 1, Sender: &models.ChatwootSender{ID: human, Type: "user"}})
	if !LastHumanAgentReply(msgs, bot) {
		t.Error("human reply should be detected")
	}

	// A later private note does not change who replied last.
	msgs = append(msgs, models.ChatwootMessage{Content: "internal", MessageType: 1, Private: true, Sender: &models.ChatwootSender{ID: bot, Type: "user"}})
	if !LastHumanAgentReply(msgs, bot) {
		t.Error("private note should be ignored when scanning")
	}
}
