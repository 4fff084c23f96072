// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/nexus-chat/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Repository defines the interface for persisting users, sessions and messages.
type Repository interface {
	// GetUser retrieves a user by their user ID. A missing user is (nil, nil).
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// ListSessions returns a user's sessions, most recently updated first.
	ListSessions(ctx context.Context, userID string) ([]domain.Session, error)

	// GetSession returns one session owned by userID, or ErrNotFound.
	GetSession(ctx context.Context, userID, sessionID string) (*domain.Session, error)

	// AppendMessage stores msg in the session, creating the session on first
	// use. The first user message names the session.
	AppendMessage(ctx context.Context, userID, sessionID string, msg domain.Message) error

	// GetMessages returns a session's messages in creation order, or
	// ErrNotFound when the session does not belong to userID.
	GetMessages(ctx context.Context, userID, sessionID string) ([]domain.Message, error)

	// ListModelConfigs returns a user's per-agent model configuration.
	ListModelConfigs(ctx context.Context, userID string) ([]domain.ModelConfig, error)

	// UpsertModelConfig creates or replaces the config for cfg.AgentType.
	UpsertModelConfig(ctx context.Context, cfg domain.ModelConfig) error

	// DeleteModelConfig removes the config for agentType, or returns ErrNotFound.
	DeleteModelConfig(ctx context.Context, userID, agentType string) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
