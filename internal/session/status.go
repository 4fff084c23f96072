package session

import "github.com/ashureev/nexus-chat/internal/domain"

// statusEvent is an input to the status state machine.
type statusEvent int

const (
	evReset statusEvent = iota
	evOpened
	evClosed
	evStep
	evToken
	evDone
)

func (e statusEvent) String() string {
	switch e {
	case evReset:
		return "reset"
	case evOpened:
		return "opened"
	case evClosed:
		return "closed"
	case evStep:
		return "step"
	case evToken:
		return "token"
	case evDone:
		return "done"
	default:
		return "unknown"
	}
}

// nextStatus projects the most recent event onto a status. The previous status
// does not influence the result.
func nextStatus(ev statusEvent) domain.Status {
	switch ev {
	case evOpened, evDone:
		return domain.StatusConnected
	case evStep:
		return domain.StatusThinking
	case evToken:
		return domain.StatusStreaming
	default:
		return domain.StatusIdle
	}
}

// statusMachine is the single writer of the client-visible status.
type statusMachine struct {
	current domain.Status
}

// apply moves to the status implied by ev and reports whether it changed.
func (s *statusMachine) apply(ev statusEvent) bool {
	next := nextStatus(ev)
	if next == s.current {
		return false
	}
	s.current = next
	return true
}

func (s *statusMachine) status() domain.Status {
	if s.current == "" {
		return domain.StatusIdle
	}
	return s.current
}
