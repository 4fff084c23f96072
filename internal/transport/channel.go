// Package transport provides the bidirectional chat channel to the remote
// agent endpoint.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ErrNotConnected is returned by Send when the channel is not open.
var ErrNotConnected = errors.New("channel not connected")

const (
	defaultDialTimeout = 15 * time.Second
	defaultReadLimit   = 1 << 20 // 1MB
)

// State is the lifecycle state of a Channel.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Events receives channel lifecycle and inbound messages.
//
// All callbacks of one channel run on a single goroutine in arrival order.
// OnClose is invoked exactly once, after which no other callback fires. Its
// error is nil when the channel was closed locally or cleanly by the peer.
type Events struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnClose   func(err error)
}

// Dialer opens chat channels against one agent server.
type Dialer struct {
	// BaseURL is the address of the hosting site, e.g. "https://nexus.example".
	BaseURL string
	// Path of the chat endpoint. Defaults to DefaultPath.
	Path        string
	DialTimeout time.Duration
	// ReadLimit caps the size of one inbound message.
	ReadLimit  int64
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Open starts connecting a channel for the session and returns immediately.
// Readiness is reported through ev.OnOpen.
func (d *Dialer) Open(credential, sessionID string, ev Events) *Channel {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		sessionID: sessionID,
		events:    ev,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With("component", "transport", "session_id", sessionID),
	}

	rawURL, err := BuildURL(d.BaseURL, d.Path, credential, sessionID)
	if err != nil {
		go c.finish(fmt.Errorf("build channel url: %w", err))
		return c
	}

	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}

	go c.run(rawURL, timeout, limit, d.HTTPClient)
	return c
}

// Channel is one bidirectional connection to the agent endpoint.
// A closed channel is never reopened.
type Channel struct {
	sessionID string
	events    Events
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *slog.Logger

	mu          sync.Mutex
	state       State
	conn        *websocket.Conn
	closedLocal bool

	finishOnce sync.Once
}

// SessionID returns the session this channel belongs to.
func (c *Channel) SessionID() string {
	return c.sessionID
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ready reports whether Send can be called.
func (c *Channel) Ready() bool {
	return c.State() == StateOpen
}

// Send transmits text verbatim as one text message.
func (c *Channel) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		return ErrNotConnected
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(text)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Close shuts the channel down. It is safe to call more than once and on a
// channel that never finished connecting.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	c.closedLocal = true
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.cancel()
		return nil
	}

	err := conn.Close(websocket.StatusNormalClosure, "closed by client")
	c.cancel()
	if err != nil && websocket.CloseStatus(err) == -1 {
		c.logger.Debug("Channel close handshake incomplete", "error", err)
	}
	return nil
}

func (c *Channel) run(rawURL string, timeout time.Duration, readLimit int64, httpClient *http.Client) {
	dialCtx, cancel := context.WithTimeout(c.ctx, timeout)
	conn, resp, err := websocket.Dial(dialCtx, rawURL, &websocket.DialOptions{
		HTTPClient: httpClient,
	})
	cancel()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if c.isClosedLocally() {
			c.finish(nil)
			return
		}
		c.logger.Info("Channel dial failed", "error", err)
		c.finish(fmt.Errorf("dial agent endpoint: %w", err))
		return
	}
	conn.SetReadLimit(readLimit)

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "closed by client")
		c.finish(nil)
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	c.logger.Debug("Channel open")
	if c.events.OnOpen != nil {
		c.events.OnOpen()
	}

	c.readLoop(conn)
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			switch {
			case c.isClosedLocally():
				c.finish(nil)
			case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
				websocket.CloseStatus(err) == websocket.StatusGoingAway:
				c.logger.Info("Channel closed by peer", "status", websocket.CloseStatus(err))
				c.finish(nil)
			default:
				c.logger.Info("Channel dropped", "error", err)
				c.finish(fmt.Errorf("read message: %w", err))
			}
			return
		}
		if c.events.OnMessage != nil {
			c.events.OnMessage(data)
		}
	}
}

func (c *Channel) isClosedLocally() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closedLocal
}

// finish moves the channel to closed and reports it exactly once.
func (c *Channel) finish(err error) {
	c.finishOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		c.cancel()
		if c.events.OnClose != nil {
			c.events.OnClose(err)
		}
	})
}
