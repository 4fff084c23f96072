package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ashureev/nexus-chat/internal/domain"
	"github.com/ashureev/nexus-chat/internal/session"
)

var (
	// Styles
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	stepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Faint(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42")).
		Bold(true)

	roleStyles = map[domain.Role]lipgloss.Style{
		domain.RoleUser:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		domain.RoleAssistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		domain.RoleSystem:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
	}

	statusStyles = map[domain.Status]lipgloss.Style{
		domain.StatusIdle:      lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
		domain.StatusConnected: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		domain.StatusThinking:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		domain.StatusStreaming: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
	}
)

func roleLabel(r domain.Role) string {
	style, ok := roleStyles[r]
	if !ok {
		style = roleStyles[domain.RoleSystem]
	}
	return style.Render(string(r) + ">")
}

func statusLabel(s domain.Status) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func printSessions(w io.Writer, sessions []domain.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, dateStyle.Render("No sessions yet."))
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%d session(s)", len(sessions))))
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", idStyle.Render(s.ID), titleStyle.Render(s.Title), dateStyle.Render(formatTime(s.UpdatedAt)))
	}
	_ = tw.Flush()
}

func printMessages(w io.Writer, msgs []domain.Message) {
	for _, m := range msgs {
		fmt.Fprintf(w, "%s %s\n", roleLabel(m.Role), m.Content)
	}
}

func printModels(w io.Writer, models []domain.ModelOption) {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, headerStyle.Render("PROVIDER")+"\t"+headerStyle.Render("MODEL")+"\t"+headerStyle.Render("NAME"))
	for _, m := range models {
		name := m.DisplayName
		if name == "" {
			name = m.ModelName
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Provider, titleStyle.Render(m.ModelName), name)
	}
	_ = tw.Flush()
}

// streamRenderer turns Manager events into incremental terminal output.
// Assistant text is printed only while a response is in flight, so history
// applied by a session load is not echoed.
type streamRenderer struct {
	sessionID  string
	status     domain.Status
	steps      int
	lastUserID string
	msgID      string
	printed    int
	lineOpen   bool
}

func newStreamRenderer() *streamRenderer {
	return &streamRenderer{status: domain.StatusIdle}
}

func (r *streamRenderer) render(ev session.Event) string {
	var b strings.Builder
	switch ev.Kind {
	case session.EventAgentError:
		b.WriteString(errorStyle.Render("agent error: "+ev.Text) + "\n")
	case session.EventSendDropped:
		fmt.Fprintf(&b, "%s\n", errorStyle.Render(fmt.Sprintf("%d message(s) not sent: %v", len(ev.Dropped), ev.Err)))
	case session.EventState:
		r.renderState(&b, ev.Snapshot)
	}
	return b.String()
}

func (r *streamRenderer) renderState(b *strings.Builder, snap session.Snapshot) {
	if snap.SessionID != r.sessionID {
		*r = streamRenderer{sessionID: snap.SessionID, status: r.status}
	}

	last, ok := snap.LastMessage()
	if ok && last.Role == domain.RoleUser && last.ID != r.lastUserID {
		r.lastUserID = last.ID
		r.steps = 0
	}
	if len(snap.ThinkingSteps) < r.steps {
		r.steps = 0
	}
	for _, step := range snap.ThinkingSteps[r.steps:] {
		b.WriteString(stepStyle.Render("  · "+step) + "\n")
	}
	r.steps = len(snap.ThinkingSteps)

	inFlight := snap.Status.Busy() || r.status.Busy()
	if ok && last.Role == domain.RoleAssistant {
		if last.ID != r.msgID {
			r.msgID = last.ID
			r.printed = 0
		}
		if inFlight && len(last.Content) > r.printed {
			if !r.lineOpen {
				b.WriteString(roleLabel(domain.RoleAssistant) + " ")
				r.lineOpen = true
			}
			b.WriteString(last.Content[r.printed:])
		}
		r.printed = len(last.Content)
	}

	if !snap.Status.Busy() && r.lineOpen {
		b.WriteString("\n")
		r.lineOpen = false
	}
	if r.status != snap.Status && (snap.Status == domain.StatusIdle || snap.Status == domain.StatusConnected) && !r.status.Busy() {
		b.WriteString(dateStyle.Render("["+string(snap.Status)+"]") + "\n")
	}
	r.status = snap.Status
}
