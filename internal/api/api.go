package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/TourDesk/internal/messaging"
	"github.com/BTreeMap/TourDesk/internal/models"
)

// maxWebhookBody caps how much of a webhook payload is read.
const maxWebhookBody = 1 << 20

// turnTimeout bounds one background turn, reasoning loop included.
const turnTimeout = 5 * time.Minute

// Messenger is the Chatwoot surface the server replies through.
type Messenger interface {
	SendMessage(ctx context.Context, conversationID int, content string, private bool) error
	UpdateContactAttributes(ctx context.Context, contactID int, attrs map[string]interface{}) error
}

// Opts holds configuration for the API server.
type Opts struct {
	Addr         string
	WebhookToken string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithWebhookToken requires the given token on webhook requests. An empty
// token disables the check.
func WithWebhookToken(token string) Option {
	return func(o *Opts) { o.WebhookToken = token }
}

// Server handles webhook delivery and hands turns to the messaging layer.
type Server struct {
	handler   *messaging.Handler
	messenger Messenger
	opts      Opts
	httpSrv   *http.Server

	// process runs one turn; swappable so tests observe dispatch without
	// waiting on goroutines.
	process func(requestID string, webhook *models.ChatwootWebhook)
}

// NewServer creates the API server.
func NewServer(handler *messaging.Handler, messenger Messenger, opts ...Option) *Server {
	cfg := Opts{Addr: ":8080"}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{handler: handler, messenger: messenger, opts: cfg}
	s.process = s.processTurn
	return s
}

// Routes returns the server's handler tree.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/chatwoot", s.webhookHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	s.httpSrv = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("API server listening", "addr", s.opts.Addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// webhookHandler accepts Chatwoot message_created events. Processing is
// asynchronous: Chatwoot only needs delivery confirmation, and the session
// lock already serializes concurrent turns per conversation.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	if s.opts.WebhookToken != "" && r.Header.Get("X-Webhook-Token") != s.opts.WebhookToken {
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid webhook token"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read request body"))
		return
	}

	var webhook models.ChatwootWebhook
	if err := json.Unmarshal(body, &webhook); err != nil {
		slog.Error("Webhook payload not parseable", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid webhook payload"))
		return
	}

	requestID := uuid.NewString()
	if !webhook.IsProcessable() {
		slog.Debug("Webhook ignored", "requestID", requestID, "event", webhook.Event, "message_type", webhook.MessageType)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Event ignored", nil))
		return
	}
	slog.Info("Webhook accepted", "requestID", requestID, "inboxID", webhook.Conversation.InboxID, "conversationID", webhook.Conversation.ID)
	go s.process(requestID, &webhook)
	writeJSONResponse(w, http.StatusAccepted, models.SuccessWithMessage("Message accepted", map[string]string{"request_id": requestID}))
}

// processTurn runs a full turn in the background and delivers the results.
func (s *Server) processTurn(requestID string, webhook *models.ChatwootWebhook) {
	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	defer cancel()

	inboxID := webhook.Conversation.InboxID
	conversationID := webhook.Conversation.ID
	contactID := webhook.ContactID()

	result := s.handler.HandleMessage(ctx, inboxID, contactID, conversationID, webhook.Content)

	if result.SyncAttributes != nil {
		if err := s.messenger.UpdateContactAttributes(ctx, contactID, result.SyncAttributes); err != nil {
			slog.Error("Failed to sync contact attributes", "error", err, "requestID", requestID, "contactID", contactID)
		}
	}
	if result.Silent || result.Reply == "" {
		slog.Debug("Turn completed silently", "requestID", requestID, "conversationID", conversationID)
		return
	}
	if err := s.messenger.SendMessage(ctx, conversationID, result.Reply, false); err != nil {
		slog.Error("Failed to send reply", "error", err, "requestID", requestID, "conversationID", conversationID)
		return
	}
	slog.Debug("Turn completed", "requestID", requestID, "conversationID", conversationID)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}
