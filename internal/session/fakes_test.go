package session

import (
	"context"
	"sync"

	"github.com/ashureev/nexus-chat/internal/domain"
	"github.com/ashureev/nexus-chat/internal/transport"
)

// fakeConn is a channel driven by the test through its events.
type fakeConn struct {
	credential string
	sessionID  string
	events     transport.Events

	mu      sync.Mutex
	sent    []string
	closed  bool
	sendErr error
}

func (c *fakeConn) Send(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrNotConnected
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) sentTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *fakeConn) open()            { c.events.OnOpen() }
func (c *fakeConn) frame(raw string) { c.events.OnMessage([]byte(raw)) }
func (c *fakeConn) drop(err error)   { c.events.OnClose(err) }

type fakeOpener struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (o *fakeOpener) Open(credential, sessionID string, ev transport.Events) Conn {
	c := &fakeConn{credential: credential, sessionID: sessionID, events: ev}
	o.mu.Lock()
	o.conns = append(o.conns, c)
	o.mu.Unlock()
	return c
}

func (o *fakeOpener) last() *fakeConn {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.conns) == 0 {
		return nil
	}
	return o.conns[len(o.conns)-1]
}

func (o *fakeOpener) all() []*fakeConn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*fakeConn(nil), o.conns...)
}

type fakeHistory struct {
	mu        sync.Mutex
	sessions  []domain.Session
	listErr   error
	listCalls int
	messages  map[string][]domain.Message
	getErr    error
	gates     map[string]chan struct{}
	started   chan string
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		messages: make(map[string][]domain.Message),
		gates:    make(map[string]chan struct{}),
		started:  make(chan string, 16),
	}
}

func (h *fakeHistory) ListSessions(_ context.Context, _ string) ([]domain.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listCalls++
	if h.listErr != nil {
		return nil, h.listErr
	}
	return append([]domain.Session(nil), h.sessions...), nil
}

func (h *fakeHistory) GetMessages(ctx context.Context, _ string, sessionID string) ([]domain.Message, error) {
	h.mu.Lock()
	gate := h.gates[sessionID]
	msgs := h.messages[sessionID]
	err := h.getErr
	h.mu.Unlock()

	h.started <- sessionID
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return append([]domain.Message(nil), msgs...), nil
}

func (h *fakeHistory) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listCalls
}

type fakeCanceler struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (c *fakeCanceler) CancelSession(_ context.Context, _ string, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, sessionID)
	return c.err
}
