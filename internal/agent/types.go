// Package agent implements the development chat agent served over WebSocket.
package agent

import (
	"time"

	"github.com/ashureev/nexus-chat/internal/protocol"
)

// ChatRequest is one user turn addressed to the agent.
type ChatRequest struct {
	Message   string
	UserID    string
	SessionID string
	// History holds the prior messages of the session, oldest first.
	History []HistoryEntry
}

// HistoryEntry is a prior message given to the processor as context.
type HistoryEntry struct {
	Role    string
	Content string
}

// Chunk is one streamed piece of an agent response. It is either a thinking
// step or an answer token.
type Chunk struct {
	Frame protocol.Frame
}

// IsToken reports whether the chunk carries answer text.
func (c Chunk) IsToken() bool {
	_, ok := c.Frame.(protocol.Token)
	return ok
}

// Config holds agent configuration.
type Config struct {
	TypingSpeed time.Duration
	ThinkPause  time.Duration
	JitterMax   time.Duration
}

// DefaultConfig returns default agent configuration.
func DefaultConfig() Config {
	return Config{
		TypingSpeed: 30 * time.Millisecond,
		ThinkPause:  400 * time.Millisecond,
		JitterMax:   15 * time.Millisecond,
	}
}

// Stats contains agent statistics.
type Stats struct {
	Turns     int64 `json:"turns"`
	Cancelled int64 `json:"cancelled"`
}
