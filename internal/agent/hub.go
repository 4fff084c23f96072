package agent

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// liveConn is one registered chat socket and the cancel func of the turn it
// is currently answering.
type liveConn struct {
	ws         *websocket.Conn
	cancelTurn context.CancelFunc
}

// Hub tracks the live chat socket of every (user, session). A session has at
// most one socket: registering a new one closes the previous.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*liveConn
	logger *slog.Logger
}

// NewHub creates a new hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		active: make(map[string]map[string]*liveConn),
		logger: logger.With("component", "chat_hub"),
	}
}

// GetActive returns the active connection for a user and session.
func (h *Hub) GetActive(userID, sessionID string) *websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if sessions, ok := h.active[userID]; ok {
		if lc, ok := sessions[sessionID]; ok {
			return lc.ws
		}
	}
	return nil
}

// Register adds a chat socket for a user/session, replacing any previous one.
func (h *Hub) Register(userID, sessionID string, ws *websocket.Conn) {
	h.mu.Lock()
	if _, exists := h.active[userID]; !exists {
		h.active[userID] = make(map[string]*liveConn)
	}

	var replaced *liveConn
	if existing, exists := h.active[userID][sessionID]; exists && existing.ws != ws {
		replaced = existing
	}
	h.active[userID][sessionID] = &liveConn{ws: ws}
	h.mu.Unlock()

	if replaced != nil {
		if replaced.cancelTurn != nil {
			replaced.cancelTurn()
		}
		// The close handshake can take seconds; never hold the lock across it.
		_ = replaced.ws.Close(websocket.StatusNormalClosure, "session replaced")
		h.logger.Info("Chat session replaced", "user_id", userID, "session_id", sessionID)
	}
	h.logger.Info("Chat session registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes a chat socket for a user/session.
func (h *Hub) Unregister(userID, sessionID string, ws *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sessions, ok := h.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current.ws == ws {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(h.active, userID)
			}
			h.logger.Info("Chat session unregistered", "user_id", userID, "session_id", sessionID)
		}
	}
}

// BeginTurn records cancel as the in-flight turn of ws. It returns false when
// ws is no longer the registered socket.
func (h *Hub) BeginTurn(userID, sessionID string, ws *websocket.Conn, cancel context.CancelFunc) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	lc, ok := h.active[userID][sessionID]
	if !ok || lc.ws != ws {
		return false
	}
	lc.cancelTurn = cancel
	return true
}

// EndTurn clears the in-flight turn of ws.
func (h *Hub) EndTurn(userID, sessionID string, ws *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if lc, ok := h.active[userID][sessionID]; ok && lc.ws == ws {
		lc.cancelTurn = nil
	}
}

// Cancel stops the in-flight turn of a session. It reports whether a turn
// was running.
func (h *Hub) Cancel(userID, sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	lc, ok := h.active[userID][sessionID]
	if !ok || lc.cancelTurn == nil {
		return false
	}
	lc.cancelTurn()
	lc.cancelTurn = nil
	h.logger.Info("Chat turn cancelled", "user_id", userID, "session_id", sessionID)
	return true
}

// CloseUser forcefully terminates all chat sockets of a user.
func (h *Hub) CloseUser(userID string) {
	h.mu.Lock()
	sessions, ok := h.active[userID]
	delete(h.active, userID)
	h.mu.Unlock()
	if !ok {
		return
	}

	for sid, lc := range sessions {
		if lc.cancelTurn != nil {
			lc.cancelTurn()
		}
		_ = lc.ws.Close(websocket.StatusNormalClosure, "session closed")
		h.logger.Info("Chat session closed", "user_id", userID, "session_id", sid)
	}
}

// Count returns the number of live chat sockets.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, sessions := range h.active {
		n += len(sessions)
	}
	return n
}

// CloseAll terminates every chat socket. Used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	users := make([]string, 0, len(h.active))
	for userID := range h.active {
		users = append(users, userID)
	}
	h.mu.RUnlock()

	for _, userID := range users {
		h.CloseUser(userID)
	}
}
