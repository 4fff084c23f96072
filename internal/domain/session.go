package domain

import (
	"time"
)

// Session is a named, persisted conversation thread.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// maxTitleRunes bounds generated session titles.
const maxTitleRunes = 48

// TitleFromText derives a session title from the first user message.
func TitleFromText(text string) string {
	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' || r == '\r' {
			runes = runes[:i]
			break
		}
	}
	if len(runes) > maxTitleRunes {
		return string(runes[:maxTitleRunes]) + "…"
	}
	if len(runes) == 0 {
		return "New conversation"
	}
	return string(runes)
}
