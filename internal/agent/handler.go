package agent

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/ashureev/nexus-chat/internal/domain"
	"github.com/ashureev/nexus-chat/internal/identity"
	"github.com/ashureev/nexus-chat/internal/protocol"
	"github.com/ashureev/nexus-chat/internal/store"
)

const (
	// defaultMaxMessageSize bounds one inbound chat message (64KB).
	defaultMaxMessageSize = 64 << 10
	inboxSize             = 8
	writeTimeout          = 10 * time.Second
	persistTimeout        = 5 * time.Second
)

// HandlerConfig tunes the chat handler.
type HandlerConfig struct {
	RateLimitRequests int
	RateLimitWindow   time.Duration
	MaxMessageSize    int64
	// OriginPatterns are passed to websocket.AcceptOptions. Empty means the
	// request host only.
	OriginPatterns []string
}

// Handler serves the chat WebSocket.
type Handler struct {
	agent       *Service
	repo        store.Repository
	hub         *Hub
	rateLimiter *RateLimiter
	log         ConversationLogger
	logger      *slog.Logger
	cfg         HandlerConfig
	newID       func() string
}

// NewHandler creates a chat handler.
func NewHandler(agentService *Service, repo store.Repository, hub *Hub, conversationLogger ConversationLogger, cfg HandlerConfig, logger *slog.Logger) *Handler {
	if conversationLogger == nil {
		conversationLogger = noopConversationLogger{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RateLimitRequests <= 0 {
		cfg.RateLimitRequests = 10
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	return &Handler{
		agent:       agentService,
		repo:        repo,
		hub:         hub,
		rateLimiter: NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		log:         conversationLogger,
		logger:      logger.With("component", "chat_handler"),
		cfg:         cfg,
		newID:       uuid.NewString,
	}
}

// RegisterRoutes registers the chat socket (requires authentication).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/ws/chat", h.ServeChat)
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
	if h.agent != nil {
		h.agent.Close()
	}
	if h.log != nil {
		if err := h.log.Close(); err != nil {
			h.logger.Warn("failed to close conversation logger", "error", err)
		}
	}
}

// GetService returns the underlying agent service.
func (h *Handler) GetService() *Service {
	return h.agent
}

// ServeChat upgrades the request and answers every inbound text message with
// step, token and done frames.
func (h *Handler) ServeChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if sessionID == "" {
		http.Error(w, `{"error": "session_id is required"}`, http.StatusBadRequest)
		return
	}
	reqID := chiMiddleware.GetReqID(r.Context())
	h.logger.Info("Chat connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r), "request_id", reqID)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.OriginPatterns,
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(h.cfg.MaxMessageSize)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.hub.Register(userID, sessionID, ws)
	defer h.hub.Unregister(userID, sessionID, ws)

	// Detach from the request context so a replaced socket stops cleanly
	// instead of racing the HTTP server's cancellation.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	inbox := make(chan string, inboxSize)
	var wg sync.WaitGroup
	wg.Add(1)

	// Input loop: WebSocket -> inbox.
	go func() {
		defer wg.Done()
		defer cancel()
		defer close(inbox)
		h.inputLoop(ctx, ws, inbox, userID, sessionID)
	}()

	// Turn loop: one answer at a time, in arrival order.
	for text := range inbox {
		h.answer(ctx, ws, userID, sessionID, reqID, text)
	}

	wg.Wait()
	h.logger.Info("Chat session ended", "user_id", userID, "session_id", sessionID)
}

func (h *Handler) inputLoop(ctx context.Context, ws *websocket.Conn, inbox chan<- string, userID, sessionID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("WebSocket closed by client", "user_id", userID, "session_id", sessionID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		text := string(data)
		if strings.TrimSpace(text) == "" {
			continue
		}
		select {
		case inbox <- text:
		case <-ctx.Done():
			return
		}
	}
}

// answer runs one turn. A done frame is always sent last, even after a
// failure or cancellation.
func (h *Handler) answer(ctx context.Context, ws *websocket.Conn, userID, sessionID, reqID, text string) {
	defer h.writeFrame(ctx, ws, protocol.Done{})

	// Rate-limit by userID only (not userID:sessionID) so clients cannot bypass
	// throttling by rotating session IDs.
	if !h.rateLimiter.Allow(userID) {
		h.logger.Warn("Chat rate limit exceeded", "user_id", userID, "session_id", sessionID)
		h.writeFrame(ctx, ws, protocol.Error{Content: "rate limit exceeded"})
		return
	}

	history, err := h.priorHistory(ctx, userID, sessionID)
	if err != nil {
		h.logger.Warn("Failed to load session history", "error", err, "user_id", userID, "session_id", sessionID)
	}

	if err := h.persist(ctx, userID, sessionID, domain.RoleUser, text); err != nil {
		h.logger.Error("Failed to persist user message", "error", err, "user_id", userID, "session_id", sessionID)
		msg := "failed to store message"
		if errors.Is(err, store.ErrNotFound) {
			msg = "session not found"
		}
		h.writeFrame(ctx, ws, protocol.Error{Content: msg})
		return
	}
	h.log.Log(ConversationLogEvent{
		UserID:     userID,
		SessionID:  sessionID,
		Channel:    "chat_ws",
		Direction:  "outbound",
		EventType:  "chat_user_message",
		ContentRaw: text,
		Meta:       map[string]any{"request_id": reqID},
	})

	turnCtx, cancelTurn := context.WithCancel(ctx)
	defer cancelTurn()
	if !h.hub.BeginTurn(userID, sessionID, ws, cancelTurn) {
		return
	}
	defer h.hub.EndTurn(userID, sessionID, ws)

	h.logger.Info("Agent chat request", "user_id", userID, "session_id", sessionID, "message_length", len(text))

	var answer strings.Builder
	streamChunks := 0
	partial := false
	streamErrMsg := ""

	req := ChatRequest{Message: text, UserID: userID, SessionID: sessionID, History: history}
	for chunk, err := range h.agent.Chat(turnCtx, req) {
		if err != nil {
			partial = true
			streamErrMsg = err.Error()
			if errors.Is(err, context.Canceled) {
				h.logger.Info("Agent stream cancelled", "user_id", userID, "session_id", sessionID)
			} else {
				h.logger.Error("Agent stream failed", "error", err)
				h.writeFrame(ctx, ws, protocol.Error{Content: err.Error()})
			}
			break
		}
		if chunk.Frame == nil {
			continue
		}
		if tok, ok := chunk.Frame.(protocol.Token); ok {
			streamChunks++
			answer.WriteString(tok.Content)
		}
		if err := h.writeFrame(ctx, ws, chunk.Frame); err != nil {
			partial = true
			streamErrMsg = err.Error()
			break
		}
	}

	if answer.Len() > 0 {
		if err := h.persist(ctx, userID, sessionID, domain.RoleAssistant, answer.String()); err != nil {
			h.logger.Error("Failed to persist assistant message", "error", err, "user_id", userID, "session_id", sessionID)
		}
	}
	h.logAssistantMessage(userID, sessionID, answer.String(), streamChunks, partial, streamErrMsg, reqID)
}

func (h *Handler) priorHistory(ctx context.Context, userID, sessionID string) ([]HistoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	msgs, err := h.repo.GetMessages(ctx, userID, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		// Sessions materialize on their first message.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entries := make([]HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, HistoryEntry{Role: string(m.Role), Content: m.Content})
	}
	return entries, nil
}

// persist stores a message even when the turn was cancelled mid-stream.
func (h *Handler) persist(ctx context.Context, userID, sessionID string, role domain.Role, content string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	return h.repo.AppendMessage(ctx, userID, sessionID, domain.Message{
		ID:        h.newID(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	})
}

func (h *Handler) writeFrame(ctx context.Context, ws *websocket.Conn, f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		h.logger.Warn("failed to encode frame", "error", err, "type", f.Type())
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		h.logger.Debug("WebSocket write error", "error", err, "type", f.Type())
		return err
	}
	return nil
}

func (h *Handler) logAssistantMessage(userID, sessionID, content string, streamChunks int, partial bool, streamErrMsg, requestID string) {
	h.log.Log(ConversationLogEvent{
		UserID:     userID,
		SessionID:  sessionID,
		Channel:    "chat_ws",
		Direction:  "inbound",
		EventType:  "chat_assistant_message",
		ContentRaw: content,
		Meta: map[string]any{
			"stream_chunks": streamChunks,
			"partial":       partial,
			"stream_error":  streamErrMsg,
			"request_id":    requestID,
		},
	})
}
