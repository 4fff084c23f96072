package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/nexus-chat/internal/domain"
	"github.com/ashureev/nexus-chat/internal/identity"
	"github.com/ashureev/nexus-chat/internal/store"
)

// maxConfigBodySize bounds model config request bodies (16KB).
const maxConfigBodySize = 16 << 10

// RegisterRoutes registers session, history and model routes (requires authentication).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{id}", h.GetSessionMessages)
		r.Post("/sessions/{id}/cancel", h.CancelSession)
		r.Get("/models", h.ListModels)
		r.Get("/config", h.ListModelConfigs)
		r.Post("/config", h.SaveModelConfig)
		r.Delete("/config", h.DeleteModelConfig)
	})
}

// GetMe returns the current user's information.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":      user.UserID,
		"username":     user.Username,
		"last_seen_at": user.LastSeenAt,
	})
}

// ListSessions returns the user's sessions, most recently updated first.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessions, err := h.repo.ListSessions(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list sessions", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	JSON(w, http.StatusOK, sessions)
}

// GetSessionMessages returns a session's stored messages in order.
func (h *Handler) GetSessionMessages(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SanitizeSessionID(chi.URLParam(r, "id"))
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "invalid session id")
		return
	}

	msgs, err := h.repo.GetMessages(r.Context(), userID, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to load messages", "error", err, "user_id", userID, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	JSON(w, http.StatusOK, msgs)
}

// CancelSession stops the answer currently streaming on the session's socket.
func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SanitizeSessionID(chi.URLParam(r, "id"))
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "invalid session id")
		return
	}

	if h.canceler == nil || !h.canceler.Cancel(userID, sessionID) {
		Error(w, http.StatusConflict, "no_active_turn")
		return
	}
	h.logger.Info("Turn cancel requested", "user_id", userID, "session_id", sessionID)
	JSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// ListModels returns the model catalog.
func (h *Handler) ListModels(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.models)
}

// ListModelConfigs returns the user's per-agent model configuration with API
// keys masked.
func (h *Handler) ListModelConfigs(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	cfgs, err := h.repo.ListModelConfigs(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list model configs", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list model configs")
		return
	}
	for i := range cfgs {
		cfgs[i].APIKey = maskKey(cfgs[i].APIKey)
	}
	JSON(w, http.StatusOK, cfgs)
}

// SaveModelConfig creates or replaces the model configuration of one agent.
func (h *Handler) SaveModelConfig(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxConfigBodySize)

	var cfg domain.ModelConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cfg.UserID = userID
	cfg.AgentType = strings.TrimSpace(cfg.AgentType)
	if cfg.AgentType == "" || cfg.Provider == "" || cfg.ModelName == "" {
		Error(w, http.StatusBadRequest, "agent_type, provider and model_name are required")
		return
	}

	if err := h.repo.UpsertModelConfig(r.Context(), cfg); err != nil {
		h.logger.Error("Failed to save model config", "error", err, "user_id", userID, "agent_type", cfg.AgentType)
		Error(w, http.StatusInternalServerError, "failed to save model config")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteModelConfig removes the model configuration named by ?agent_type=.
func (h *Handler) DeleteModelConfig(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	agentType := strings.TrimSpace(r.URL.Query().Get("agent_type"))
	if agentType == "" {
		Error(w, http.StatusBadRequest, "agent_type is required")
		return
	}

	err := h.repo.DeleteModelConfig(r.Context(), userID, agentType)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "model config not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to delete model config", "error", err, "user_id", userID, "agent_type", agentType)
		Error(w, http.StatusInternalServerError, "failed to delete model config")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
