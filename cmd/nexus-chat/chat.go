package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ashureev/nexus-chat/internal/session"
	"github.com/ashureev/nexus-chat/internal/transport"
)

const chatHelp = `Commands:
  /new           start a new conversation
  /load <id>     switch to a stored conversation
  /sessions      list stored conversations
  /stop          stop the current answer
  /reconnect     reopen the channel of the current conversation
  /status        show connection status
  /quit          leave
Any other line is sent as a message.`

// replCommand is one parsed input line. Name is empty for plain text.
type replCommand struct {
	Name string
	Arg  string
	Text string
}

func parseLine(line string) replCommand {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return replCommand{Text: line}
	}
	name, arg, _ := strings.Cut(trimmed[1:], " ")
	return replCommand{Name: strings.ToLower(name), Arg: strings.TrimSpace(arg)}
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.loadAuthed(cmd)
			if err != nil {
				return err
			}
			return runChat(cmd.Context(), env, sessionID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Continue the stored conversation with this id")
	return cmd
}

// chatREPL drives a session.Manager from line input.
type chatREPL struct {
	env *clientEnv
	mgr *session.Manager
	out io.Writer
	mu  sync.Mutex // guards out
}

func runChat(ctx context.Context, env *clientEnv, sessionID string, in io.Reader, out io.Writer) error {
	mgr := session.New(session.Options{
		Opener: session.TransportOpener{Dialer: &transport.Dialer{
			BaseURL:     env.cfg.BaseURL,
			Path:        env.cfg.WSPath,
			DialTimeout: env.cfg.DialTimeout,
			Logger:      env.logger,
		}},
		History:     env.history,
		Canceler:    env.history,
		Logger:      env.logger,
		SendTimeout: env.cfg.SendTimeout,
	})
	defer mgr.Close()

	r := &chatREPL{env: env, mgr: mgr, out: out}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.renderEvents(mgr.Subscribe(subCtx))
	}()

	if sessionID != "" {
		if err := r.load(ctx, sessionID); err != nil {
			return err
		}
	} else {
		r.startNew()
	}
	r.printf("%s\n", dateStyle.Render("Type /help for commands."))

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for scanner.Scan() {
		quit, err := r.handle(ctx, parseLine(scanner.Text()))
		if err != nil {
			r.printf("%s\n", errorStyle.Render(err.Error()))
		}
		if quit {
			break
		}
	}

	mgr.Close()
	<-done
	return scanner.Err()
}

func (r *chatREPL) renderEvents(events <-chan session.Event) {
	renderer := newStreamRenderer()
	for ev := range events {
		if s := renderer.render(ev); s != "" {
			r.printf("%s", s)
		}
	}
}

func (r *chatREPL) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

// handle runs one input line. It reports true when the REPL should exit.
func (r *chatREPL) handle(ctx context.Context, c replCommand) (bool, error) {
	switch c.Name {
	case "":
		if strings.TrimSpace(c.Text) == "" {
			return false, nil
		}
		return false, r.mgr.SendMessage(ctx, c.Text)
	case "quit", "exit", "q":
		return true, nil
	case "help", "?":
		r.printf("%s\n", chatHelp)
	case "new":
		r.startNew()
	case "load":
		if c.Arg == "" {
			return false, errors.New("usage: /load <session-id>")
		}
		return false, r.load(ctx, c.Arg)
	case "sessions":
		sessions, err := r.mgr.FetchSessions(ctx, r.env.cfg.Token)
		if err != nil {
			return false, err
		}
		r.mu.Lock()
		printSessions(r.out, sessions)
		r.mu.Unlock()
	case "stop":
		return false, r.mgr.Stop(ctx)
	case "reconnect":
		return false, r.mgr.Reconnect()
	case "status":
		snap := r.mgr.Snapshot()
		r.printf("session %s  status %s  messages %d  queued %d\n",
			idStyle.Render(snap.SessionID), statusLabel(snap.Status), len(snap.Messages), snap.Queued)
	default:
		return false, fmt.Errorf("unknown command /%s (try /help)", c.Name)
	}
	return false, nil
}

func (r *chatREPL) startNew() {
	id, err := r.mgr.StartNewSession(r.env.cfg.Token)
	if err != nil {
		r.printf("%s\n", errorStyle.Render(err.Error()))
		return
	}
	r.printf("%s %s\n", headerStyle.Render("New conversation"), idStyle.Render(id))
}

func (r *chatREPL) load(ctx context.Context, sessionID string) error {
	if err := r.mgr.LoadSession(ctx, r.env.cfg.Token, sessionID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "%s %s\n", headerStyle.Render("Conversation"), idStyle.Render(sessionID))
	printMessages(r.out, r.mgr.Messages())
	return nil
}
