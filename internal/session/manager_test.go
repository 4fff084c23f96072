package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/nexus-chat/internal/domain"
	"github.com/ashureev/nexus-chat/internal/transport"
)

func newTestManager(t *testing.T) (*Manager, *fakeOpener, *fakeHistory) {
	t.Helper()
	opener := &fakeOpener{}
	history := newFakeHistory()
	m := New(Options{Opener: opener, History: history, Logger: slog.New(slog.DiscardHandler)})
	t.Cleanup(m.Close)
	return m, opener, history
}

// openSession starts a new session and opens its channel.
func openSession(t *testing.T, m *Manager, opener *fakeOpener) *fakeConn {
	t.Helper()
	_, err := m.StartNewSession("tok")
	require.NoError(t, err)
	c := opener.last()
	require.NotNil(t, c)
	c.open()
	require.Equal(t, domain.StatusConnected, m.Status())
	return c
}

func waitEvent(t *testing.T, ch <-chan Event, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "event channel closed")
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return Event{}
		}
	}
}

func TestManager_StepTokenDoneScenario(t *testing.T) {
	m, opener, history := newTestManager(t)
	history.sessions = []domain.Session{{ID: "s-1", Title: "Markets"}}
	c := openSession(t, m, opener)

	c.frame(`{"type":"step","content":"searching web"}`)
	assert.Equal(t, domain.StatusThinking, m.Status())
	assert.Equal(t, []string{"searching web"}, m.ThinkingSteps())

	c.frame(`{"type":"token","content":"Hello"}`)
	c.frame(`{"type":"token","content":" world"}`)
	assert.Equal(t, domain.StatusStreaming, m.Status())
	msgs := m.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleAssistant, msgs[0].Role)
	assert.Equal(t, "Hello world", msgs[0].Content)

	c.frame(`{"type":"done"}`)
	assert.Equal(t, domain.StatusConnected, m.Status())

	// done triggers a session-list refresh in the background.
	require.Eventually(t, func() bool {
		return len(m.Sessions()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Markets", m.Sessions()[0].Title)
	assert.Equal(t, 1, history.calls())
}

func TestManager_SendMessageAppendsUserAndClearsTrace(t *testing.T) {
	m, opener, _ := newTestManager(t)
	c := openSession(t, m, opener)

	c.frame(`{"type":"step","content":"planning"}`)
	c.frame(`{"type":"token","content":"stale buffer"}`)

	require.NoError(t, m.SendMessage(context.Background(), "Hi"))

	msgs := m.Messages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, domain.RoleUser, last.Role)
	assert.Equal(t, "Hi", last.Content)
	assert.Empty(t, m.ThinkingSteps())
	assert.Equal(t, []string{"Hi"}, c.sentTexts())

	c.frame(`{"type":"token","content":"fresh"}`)
	msgs = m.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "stale buffer", msgs[0].Content)
	assert.Equal(t, domain.RoleAssistant, msgs[2].Role)
	assert.Equal(t, "fresh", msgs[2].Content)
}

func TestManager_TokensConcatenateWithinTurn(t *testing.T) {
	m, opener, _ := newTestManager(t)
	c := openSession(t, m, opener)
	require.NoError(t, m.SendMessage(context.Background(), "q"))

	parts := []string{"a", "b", " ", "c", "", "d"}
	for _, p := range parts {
		c.frame(`{"type":"token","content":"` + p + `"}`)
	}

	msgs := m.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, strings.Join(parts, ""), msgs[1].Content)
}

func TestManager_NewSessionIDsAreUnique(t *testing.T) {
	m, opener, _ := newTestManager(t)

	const n = 10000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		id, err := m.StartNewSession("tok")
		require.NoError(t, err)
		_, dup := seen[id]
		require.False(t, dup, "duplicate session id %s", id)
		seen[id] = struct{}{}
	}

	conns := opener.all()
	require.Len(t, conns, n)
	for _, c := range conns[:n-1] {
		assert.True(t, c.isClosed())
	}
	assert.False(t, conns[n-1].isClosed())
}

func TestManager_LoadSessionSupersededByNewerLoad(t *testing.T) {
	m, opener, history := newTestManager(t)
	history.messages["s1"] = []domain.Message{{ID: "a", Role: domain.RoleUser, Content: "from s1"}}
	history.messages["s2"] = []domain.Message{{ID: "b", Role: domain.RoleUser, Content: "from s2"}}
	gate := make(chan struct{})
	history.gates["s1"] = gate

	firstErr := make(chan error, 1)
	go func() {
		firstErr <- m.LoadSession(context.Background(), "tok", "s1")
	}()
	require.Equal(t, "s1", <-history.started)

	require.NoError(t, m.LoadSession(context.Background(), "tok", "s2"))
	require.Equal(t, "s2", <-history.started)

	close(gate)
	assert.ErrorIs(t, <-firstErr, ErrSuperseded)

	assert.Equal(t, "s2", m.CurrentSessionID())
	msgs := m.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "from s2", msgs[0].Content)

	conns := opener.all()
	require.Len(t, conns, 1)
	assert.Equal(t, "s2", conns[0].sessionID)
}

func TestManager_LoadSessionReplacesStateAndOpensChannel(t *testing.T) {
	m, opener, history := newTestManager(t)
	old := openSession(t, m, opener)
	old.frame(`{"type":"step","content":"x"}`)

	history.messages["s9"] = []domain.Message{
		{ID: "1", Role: domain.RoleUser, Content: "q"},
		{ID: "2", Role: domain.RoleAssistant, Content: "a"},
	}
	require.NoError(t, m.LoadSession(context.Background(), "tok", "s9"))

	assert.True(t, old.isClosed())
	assert.Equal(t, domain.StatusIdle, m.Status())
	assert.Empty(t, m.ThinkingSteps())
	assert.Len(t, m.Messages(), 2)

	c := opener.last()
	assert.Equal(t, "s9", c.sessionID)
	assert.Equal(t, "tok", c.credential)
	c.open()
	assert.Equal(t, domain.StatusConnected, m.Status())
}

func TestManager_LoadSessionHistoryFailureStillOpens(t *testing.T) {
	m, opener, history := newTestManager(t)
	history.getErr = errors.New("history unavailable")

	require.NoError(t, m.LoadSession(context.Background(), "tok", "s1"))
	assert.Empty(t, m.Messages())
	require.NotNil(t, opener.last())
	assert.Equal(t, "s1", opener.last().sessionID)
}

func TestManager_CloseTransitionsToIdleFromAnyStatus(t *testing.T) {
	frames := map[domain.Status]string{
		domain.StatusConnected: "",
		domain.StatusThinking:  `{"type":"step","content":"s"}`,
		domain.StatusStreaming: `{"type":"token","content":"t"}`,
	}
	for want, frame := range frames {
		m, opener, _ := newTestManager(t)
		c := openSession(t, m, opener)
		if frame != "" {
			c.frame(frame)
		}
		require.Equal(t, want, m.Status())

		c.drop(errors.New("connection reset"))
		assert.Equal(t, domain.StatusIdle, m.Status(), "after close from %s", want)
	}
}

func TestManager_IgnoresUnknownAndMalformedFrames(t *testing.T) {
	m, opener, _ := newTestManager(t)
	c := openSession(t, m, opener)
	c.frame(`{"type":"token","content":"keep"}`)
	before := m.Snapshot()

	for _, raw := range []string{
		`not json at all`,
		`{"type":"usage","content":"42"}`,
		`{"type":"token"}`,
		`{}`,
		``,
	} {
		c.frame(raw)
	}

	assert.Equal(t, before, m.Snapshot())
}

func TestManager_ErrorFramePublishedWithoutStatusChange(t *testing.T) {
	m, opener, _ := newTestManager(t)
	events := m.Subscribe(t.Context())
	c := openSession(t, m, opener)
	c.frame(`{"type":"step","content":"s"}`)

	c.frame(`{"type":"error","content":"model quota exceeded"}`)

	ev := waitEvent(t, events, func(ev Event) bool { return ev.Kind == EventAgentError })
	assert.Equal(t, "model quota exceeded", ev.Text)
	assert.Equal(t, domain.StatusThinking, m.Status())
	assert.Empty(t, m.Messages())
}

func TestManager_SendBeforeReadyIsQueuedAndFlushed(t *testing.T) {
	m, opener, _ := newTestManager(t)
	_, err := m.StartNewSession("tok")
	require.NoError(t, err)
	c := opener.last()

	require.NoError(t, m.SendMessage(context.Background(), "first"))
	require.NoError(t, m.SendMessage(context.Background(), "second"))
	assert.Empty(t, c.sentTexts())
	assert.Equal(t, 2, m.Snapshot().Queued)

	msgs := m.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)

	c.open()
	assert.Equal(t, []string{"first", "second"}, c.sentTexts())
	assert.Equal(t, 0, m.Snapshot().Queued)
	assert.Equal(t, domain.StatusConnected, m.Status())
}

func TestManager_QueuedSendReportedWhenChannelNeverOpens(t *testing.T) {
	m, opener, _ := newTestManager(t)
	events := m.Subscribe(t.Context())
	_, err := m.StartNewSession("tok")
	require.NoError(t, err)

	require.NoError(t, m.SendMessage(context.Background(), "lost?"))
	opener.last().drop(errors.New("dial refused"))

	ev := waitEvent(t, events, func(ev Event) bool { return ev.Kind == EventSendDropped })
	assert.Equal(t, []string{"lost?"}, ev.Dropped)
	assert.Error(t, ev.Err)
	assert.Equal(t, domain.StatusIdle, m.Status())
}

func TestManager_QueuedDuringLoadKeptAfterHistory(t *testing.T) {
	m, opener, history := newTestManager(t)
	history.messages["s1"] = []domain.Message{{ID: "h", Role: domain.RoleAssistant, Content: "stored"}}
	gate := make(chan struct{})
	history.gates["s1"] = gate

	done := make(chan error, 1)
	go func() { done <- m.LoadSession(context.Background(), "tok", "s1") }()
	<-history.started

	require.NoError(t, m.SendMessage(context.Background(), "early"))
	close(gate)
	require.NoError(t, <-done)

	msgs := m.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "stored", msgs[0].Content)
	assert.Equal(t, "early", msgs[1].Content)

	opener.last().open()
	assert.Equal(t, []string{"early"}, opener.last().sentTexts())
}

func TestManager_SendWithoutChannelFails(t *testing.T) {
	m, opener, _ := newTestManager(t)

	assert.ErrorIs(t, m.SendMessage(context.Background(), "hello"), ErrNoSession)
	assert.ErrorIs(t, m.SendMessage(context.Background(), "   "), ErrEmptyMessage)

	c := openSession(t, m, opener)
	c.drop(nil)
	err := m.SendMessage(context.Background(), "hello")
	assert.ErrorIs(t, err, transport.ErrNotConnected)
	assert.Empty(t, m.Messages())
}

func TestManager_SendFailureDoesNotAppend(t *testing.T) {
	m, opener, _ := newTestManager(t)
	c := openSession(t, m, opener)
	c.sendErr = errors.New("write: broken pipe")

	err := m.SendMessage(context.Background(), "hello")
	require.Error(t, err)
	assert.Empty(t, m.Messages())
}

func TestManager_StaleChannelEventsIgnored(t *testing.T) {
	m, opener, _ := newTestManager(t)
	first := openSession(t, m, opener)
	second := openSession(t, m, opener)

	first.frame(`{"type":"token","content":"ghost"}`)
	first.drop(errors.New("late close"))

	assert.Empty(t, m.Messages())
	assert.Equal(t, domain.StatusConnected, m.Status())
	assert.False(t, second.isClosed())
}

func TestManager_FetchSessionsFailureKeepsCache(t *testing.T) {
	m, _, history := newTestManager(t)
	history.sessions = []domain.Session{{ID: "a"}, {ID: "b"}}

	list, err := m.FetchSessions(context.Background(), "tok")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	history.mu.Lock()
	history.listErr = errors.New("503")
	history.mu.Unlock()

	_, err = m.FetchSessions(context.Background(), "tok")
	require.Error(t, err)
	assert.Len(t, m.Sessions(), 2)
}

func TestManager_FetchSessionsNilBecomesEmpty(t *testing.T) {
	m, _, _ := newTestManager(t)
	list, err := m.FetchSessions(context.Background(), "tok")
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestManager_StopUsesCanceler(t *testing.T) {
	opener := &fakeOpener{}
	canceler := &fakeCanceler{}
	m := New(Options{Opener: opener, History: newFakeHistory(), Canceler: canceler})
	defer m.Close()

	assert.ErrorIs(t, m.Stop(context.Background()), ErrNoSession)

	id, err := m.StartNewSession("tok")
	require.NoError(t, err)
	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, []string{id}, canceler.calls)

	canceler.err = errors.New("not running")
	assert.Error(t, m.Stop(context.Background()))
}

func TestManager_StopWithoutCanceler(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.StartNewSession("tok")
	require.NoError(t, err)
	assert.ErrorIs(t, m.Stop(context.Background()), ErrStopUnsupported)
}

func TestManager_DisconnectAndReconnect(t *testing.T) {
	m, opener, _ := newTestManager(t)
	c := openSession(t, m, opener)
	require.NoError(t, m.SendMessage(context.Background(), "keep me"))
	c.frame(`{"type":"step","content":"s"}`)

	m.Disconnect()
	assert.True(t, c.isClosed())
	assert.Equal(t, domain.StatusIdle, m.Status())

	// A close callback from the disconnected channel is stale.
	c.drop(nil)
	assert.Equal(t, domain.StatusIdle, m.Status())

	require.NoError(t, m.Reconnect())
	next := opener.last()
	require.NotSame(t, c, next)
	next.open()
	assert.Equal(t, domain.StatusConnected, m.Status())
	assert.Len(t, m.Messages(), 1)
}

func TestManager_ReconnectWithoutSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	assert.ErrorIs(t, m.Reconnect(), ErrNoSession)
}

func TestManager_SubscribeReceivesStateSnapshots(t *testing.T) {
	m, opener, _ := newTestManager(t)
	events := m.Subscribe(t.Context())
	c := openSession(t, m, opener)

	c.frame(`{"type":"token","content":"hi"}`)
	ev := waitEvent(t, events, func(ev Event) bool {
		return ev.Kind == EventState && ev.Snapshot.Status == domain.StatusStreaming
	})
	last, ok := ev.Snapshot.LastMessage()
	require.True(t, ok)
	assert.Equal(t, "hi", last.Content)
}

func TestManager_CloseEndsSubscriptions(t *testing.T) {
	opener := &fakeOpener{}
	m := New(Options{Opener: opener, History: newFakeHistory()})
	events := m.Subscribe(context.Background())

	m.Close()
	m.Close()

	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-events:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 10*time.Millisecond)
}
