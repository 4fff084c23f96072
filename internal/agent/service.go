package agent

import (
	"context"
	"iter"
)

// Service provides AI chat functionality on top of a Processor.
type Service struct {
	processor Processor
}

// NewServiceWithProcessor creates a new agent service with a custom processor.
func NewServiceWithProcessor(processor Processor) (*Service, error) {
	if processor == nil {
		return nil, errNilProcessor
	}
	return &Service{
		processor: processor,
	}, nil
}

// Chat processes a user message and returns response chunks.
func (s *Service) Chat(ctx context.Context, req ChatRequest) iter.Seq2[Chunk, error] {
	return s.processor.Chat(ctx, req)
}

// GetStats returns agent statistics.
func (s *Service) GetStats() Stats {
	return s.processor.GetStats()
}

// Close releases resources.
func (s *Service) Close() {
	if s.processor != nil {
		s.processor.Close()
	}
}
