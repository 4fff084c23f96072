package session

import (
	"strings"
	"time"

	"github.com/ashureev/nexus-chat/internal/domain"
)

// assembler accumulates streamed token fragments into the assistant message
// of the current turn.
type assembler struct {
	buf    strings.Builder
	openID string
	newID  func() string
	now    func() time.Time
}

func newAssembler(newID func() string) *assembler {
	return &assembler{newID: newID, now: time.Now}
}

// reset empties the buffer and closes the open assistant message, so the next
// fragment starts a new one.
func (a *assembler) reset() {
	a.buf.Reset()
	a.openID = ""
}

// buffer returns the text accumulated for the current turn.
func (a *assembler) buffer() string {
	return a.buf.String()
}

// append adds fragment to the buffer and writes the whole buffer into the
// open assistant message, creating it when the last message is missing, is a
// user message, or is not the message opened by this turn.
func (a *assembler) append(msgs []domain.Message, fragment string) []domain.Message {
	a.buf.WriteString(fragment)
	content := a.buf.String()

	if n := len(msgs); n > 0 && a.openID != "" &&
		msgs[n-1].ID == a.openID && msgs[n-1].Role == domain.RoleAssistant {
		msgs[n-1].Content = content
		return msgs
	}

	a.openID = a.newID()
	return append(msgs, domain.Message{
		ID:        a.openID,
		Role:      domain.RoleAssistant,
		Content:   content,
		CreatedAt: a.now(),
	})
}
