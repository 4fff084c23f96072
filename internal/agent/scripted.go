package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ashureev/nexus-chat/internal/protocol"
)

var errNilProcessor = errors.New("agent processor is nil")

// ScriptedProcessor answers without a model: it emits a fixed plan of
// thinking steps and then streams a templated answer word by word, paced like
// a real model.
type ScriptedProcessor struct {
	cfg    Config
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	turns     atomic.Int64
	cancelled atomic.Int64
}

// NewScriptedProcessor creates a ScriptedProcessor.
func NewScriptedProcessor(cfg Config, logger *slog.Logger) *ScriptedProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScriptedProcessor{
		cfg:    cfg,
		logger: logger.With("component", "scripted_agent"),
		sleep:  sleepCtx,
	}
}

// Chat implements Processor.
func (p *ScriptedProcessor) Chat(ctx context.Context, req ChatRequest) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		p.turns.Add(1)

		for _, step := range planSteps(req) {
			if err := p.sleep(ctx, p.cfg.ThinkPause); err != nil {
				p.cancelled.Add(1)
				yield(Chunk{}, err)
				return
			}
			if !yield(Chunk{Frame: protocol.Step{Content: step}}, nil) {
				return
			}
		}

		for _, tok := range tokenize(composeAnswer(req)) {
			if err := p.sleep(ctx, p.cfg.TypingSpeed+p.jitter()); err != nil {
				p.cancelled.Add(1)
				yield(Chunk{}, err)
				return
			}
			if !yield(Chunk{Frame: protocol.Token{Content: tok}}, nil) {
				return
			}
		}
	}
}

// GetStats implements Processor.
func (p *ScriptedProcessor) GetStats() Stats {
	return Stats{
		Turns:     p.turns.Load(),
		Cancelled: p.cancelled.Load(),
	}
}

// Close implements Processor.
func (p *ScriptedProcessor) Close() {
	p.logger.Info("Scripted agent closed", "turns", p.turns.Load())
}

func (p *ScriptedProcessor) jitter() time.Duration {
	if p.cfg.JitterMax <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(p.cfg.JitterMax)))
}

func planSteps(req ChatRequest) []string {
	topic := summarize(req.Message, 40)
	steps := []string{
		"Planning research for: " + topic,
		"Searching knowledge base",
	}
	if len(req.History) > 0 {
		steps = append(steps, fmt.Sprintf("Reviewing %d earlier messages", len(req.History)))
	}
	return append(steps, "Drafting answer")
}

func composeAnswer(req ChatRequest) string {
	var b strings.Builder
	b.WriteString("Here is what I found about \"")
	b.WriteString(summarize(req.Message, 80))
	b.WriteString("\".\n\n")
	b.WriteString("This development agent does not call a model. It replays a fixed plan so clients can exercise streaming, ")
	b.WriteString("history and cancellation end to end.")
	if n := len(req.History); n > 0 {
		fmt.Fprintf(&b, "\n\nThe session already holds %d messages.", n)
	}
	return b.String()
}

func summarize(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) > limit {
		return string(runes[:limit]) + "…"
	}
	return s
}

// tokenize splits s into word-sized fragments that concatenate back to s.
func tokenize(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if i > start && (r == ' ' || r == '\n') {
			out = append(out, s[start:i])
			start = i
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
