package session

import "github.com/ashureev/nexus-chat/internal/domain"

// EventKind identifies why an Event was published.
type EventKind string

const (
	// EventState is published after any change to status, messages, thinking
	// steps or the current session.
	EventState EventKind = "state"
	// EventSessions is published when the cached session list is replaced.
	EventSessions EventKind = "sessions"
	// EventAgentError carries the content of an error frame in Text. It does
	// not alter the message list or the status.
	EventAgentError EventKind = "agent_error"
	// EventSendDropped lists queued texts that were never transmitted.
	EventSendDropped EventKind = "send_dropped"
)

// Snapshot is a consistent copy of a Manager's observable state.
type Snapshot struct {
	SessionID     string
	Status        domain.Status
	Messages      []domain.Message
	ThinkingSteps []string
	Sessions      []domain.Session
	// Queued counts texts waiting for the channel to open.
	Queued int
}

// LastMessage returns the final message, if any.
func (s Snapshot) LastMessage() (domain.Message, bool) {
	if len(s.Messages) == 0 {
		return domain.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Event is one change notification.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
	// Text is the error frame content for EventAgentError.
	Text string
	// Dropped and Err describe an EventSendDropped.
	Dropped []string
	Err     error
}
