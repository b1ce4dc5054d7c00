// Package chatwoot implements the Chatwoot API client TourDesk replies
// through, plus the conversation history formatter and the inbox-scoped
// profile attribute codec.
package chatwoot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/TourDesk/internal/models"
)

// Opts holds configuration for the Chatwoot client.
type Opts struct {
	BaseURL    string
	AccountID  int
	APIToken   string
	HTTPClient *http.Client
}

// Option configures the Chatwoot client.
type Option func(*Opts)

// WithBaseURL sets the Chatwoot installation URL.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithAccountID sets the Chatwoot account ID.
func WithAccountID(id int) Option {
	return func(o *Opts) { o.AccountID = id }
}

// WithAPIToken sets the agent API access token.
func WithAPIToken(token string) Option {
	return func(o *Opts) { o.APIToken = token }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client talks to the Chatwoot REST API.
type Client struct {
	baseURL   string
	accountID int
	apiToken  string
	http      *http.Client
}

// NewClient creates a Chatwoot client.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("chatwoot.NewClient invoked", "base_url_set", cfg.BaseURL != "", "accountID", cfg.AccountID, "token_set", cfg.APIToken != "")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("chatwoot base URL not set")
	}
	if cfg.AccountID == 0 {
		return nil, fmt.Errorf("chatwoot account ID not set")
	}
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("chatwoot API token not set")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: cfg.BaseURL, accountID: cfg.AccountID, apiToken: cfg.APIToken, http: cfg.HTTPClient}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/api/v1/accounts/%d%s", c.baseURL, c.accountID, path)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s %s request: %w", method, path, err)
	}
	req.Header.Set("api_access_token", c.apiToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("Chatwoot request failed", "error", err, "method", method, "path", path)
		return nil, fmt.Errorf("chatwoot %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read chatwoot response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("Chatwoot returned non-2xx status", "status", resp.StatusCode, "method", method, "path", path)
		return nil, fmt.Errorf("chatwoot %s %s returned status %d", method, path, resp.StatusCode)
	}
	return raw, nil
}

// SendMessage posts an outgoing reply to the conversation. Private messages
// become internal notes invisible to the contact.
func (c *Client) SendMessage(ctx context.Context, conversationID int, content string, private bool) error {
	slog.Debug("SendMessage invoked", "conversationID", conversationID, "private", private, "chars", len(content))
	body := map[string]interface{}{
		"content":      content,
		"message_type": "outgoing",
		"private":      private,
	}
	if _, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/conversations/%d/messages", conversationID), body); err != nil {
		return fmt.Errorf("failed to send message to conversation %d: %w", conversationID, err)
	}
	return nil
}

// GetMessages fetches the conversation's messages, oldest first.
func (c *Client) GetMessages(ctx context.Context, conversationID int) ([]models.ChatwootMessage, error) {
	slog.Debug("GetMessages invoked", "conversationID", conversationID)
	raw, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/conversations/%d/messages", conversationID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages for conversation %d: %w", conversationID, err)
	}
	var result struct {
		Payload []models.ChatwootMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return result.Payload, nil
}

// GetContactAttributes fetches the contact's additional attributes.
func (c *Client) GetContactAttributes(ctx context.Context, contactID int) (map[string]interface{}, error) {
	slog.Debug("GetContactAttributes invoked", "contactID", contactID)
	raw, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/contacts/%d", contactID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch contact %d: %w", contactID, err)
	}
	var result struct {
		Payload struct {
			AdditionalAttributes map[string]interface{} `json:"additional_attributes"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode contact: %w", err)
	}
	return result.Payload.AdditionalAttributes, nil
}

// UpdateContactAttributes merges the given additional attributes onto the
// contact record.
func (c *Client) UpdateContactAttributes(ctx context.Context, contactID int, attrs map[string]interface{}) error {
	slog.Debug("UpdateContactAttributes invoked", "contactID", contactID, "keys", len(attrs))
	body := map[string]interface{}{"additional_attributes": attrs}
	if _, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/contacts/%d", contactID), body); err != nil {
		return fmt.Errorf("failed to update contact %d attributes: %w", contactID, err)
	}
	return nil
}

// AssignConversation hands the conversation to the given agent.
func (c *Client) AssignConversation(ctx context.Context, conversationID, agentID int) error {
	slog.Debug("AssignConversation invoked", "conversationID", conversationID, "agentID", agentID)
	body := map[string]interface{}{"assignee_id": agentID}
	if _, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/conversations/%d/assignments", conversationID), body); err != nil {
		return fmt.Errorf("failed to assign conversation %d to agent %d: %w", conversationID, agentID, err)
	}
	slog.Info("Conversation assigned", "conversationID", conversationID, "agentID", agentID)
	return nil
}
