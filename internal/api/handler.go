// Package api provides the REST handlers of the development server.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/nexus-chat/internal/domain"
	"github.com/ashureev/nexus-chat/internal/store"
)

// TurnCanceler stops the in-flight answer of a chat session.
type TurnCanceler interface {
	Cancel(userID, sessionID string) bool
}

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	canceler TurnCanceler
	models   []domain.ModelOption
	logger   *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, canceler TurnCanceler, models []domain.ModelOption, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if models == nil {
		models = []domain.ModelOption{}
	}
	return &Handler{
		repo:     repo,
		canceler: canceler,
		models:   models,
		logger:   logger.With("component", "api"),
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
