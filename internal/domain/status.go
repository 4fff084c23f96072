package domain

// Status is the client-visible state of the active conversation.
type Status string

const (
	// StatusIdle means no channel is open.
	StatusIdle Status = "idle"
	// StatusConnected means the channel is open and no response is in flight.
	StatusConnected Status = "connected"
	// StatusThinking means the agent is emitting trace steps.
	StatusThinking Status = "thinking"
	// StatusStreaming means response tokens are arriving.
	StatusStreaming Status = "streaming"
)

// Busy reports whether a response is in flight.
func (s Status) Busy() bool {
	return s == StatusThinking || s == StatusStreaming
}
