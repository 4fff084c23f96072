package agent

import (
	"context"
	"iter"
)

// Processor defines the interface for AI agent processing.
type Processor interface {
	// Chat processes a user message and yields thinking steps followed by
	// answer tokens. Iteration stops early when ctx is cancelled.
	Chat(ctx context.Context, req ChatRequest) iter.Seq2[Chunk, error]

	// GetStats returns agent statistics
	GetStats() Stats

	// Close releases resources
	Close()
}

// Ensure ScriptedProcessor implements Processor.
var _ Processor = (*ScriptedProcessor)(nil)
