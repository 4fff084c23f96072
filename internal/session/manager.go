package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/nexus-chat/internal/domain"
	"github.com/ashureev/nexus-chat/internal/protocol"
	"github.com/ashureev/nexus-chat/internal/transport"
)

var (
	// ErrNoSession is returned when an operation needs a current session.
	ErrNoSession = errors.New("no active session")
	// ErrSuperseded is returned when a newer session operation overtook this one.
	ErrSuperseded = errors.New("superseded by a newer session operation")
	// ErrEmptyMessage is returned by SendMessage for blank text.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrStopUnsupported is returned by Stop when no Canceler is configured.
	ErrStopUnsupported = errors.New("stop is not supported without a canceler")
)

const (
	defaultSendTimeout  = 10 * time.Second
	defaultFetchTimeout = 15 * time.Second
)

// Conn is an open or opening chat channel.
type Conn interface {
	Send(ctx context.Context, text string) error
	Close() error
}

// Opener opens chat channels. Implementations must deliver events
// asynchronously, never from within Open itself.
type Opener interface {
	Open(credential, sessionID string, ev transport.Events) Conn
}

// HistorySource reads session summaries and stored messages from the remote
// history service.
type HistorySource interface {
	ListSessions(ctx context.Context, credential string) ([]domain.Session, error)
	GetMessages(ctx context.Context, credential, sessionID string) ([]domain.Message, error)
}

// Canceler asks the remote side to stop generating for a session.
type Canceler interface {
	CancelSession(ctx context.Context, credential, sessionID string) error
}

// TransportOpener adapts a transport.Dialer to Opener.
type TransportOpener struct {
	Dialer *transport.Dialer
}

// Open implements Opener.
func (o TransportOpener) Open(credential, sessionID string, ev transport.Events) Conn {
	return o.Dialer.Open(credential, sessionID, ev)
}

// Options configures a Manager.
type Options struct {
	Opener   Opener
	History  HistorySource
	Canceler Canceler
	Logger   *slog.Logger
	// NewID generates session and message ids. Defaults to random UUIDs.
	NewID func() string
	// SendTimeout bounds one outbound write.
	SendTimeout time.Duration
	// FetchTimeout bounds background session-list refreshes.
	FetchTimeout time.Duration
}

// phase tracks the channel of the current generation.
type phase int

const (
	phaseNone phase = iota
	phaseLoading
	phaseConnecting
	phaseOpen
	phaseClosed
)

// Manager owns one client's conversation state and its chat channel.
type Manager struct {
	opener       Opener
	history      HistorySource
	canceler     Canceler
	logger       *slog.Logger
	newID        func() string
	sendTimeout  time.Duration
	fetchTimeout time.Duration
	events       *broadcaster

	mu         sync.Mutex
	generation uint64
	credential string
	sessionID  string
	conn       Conn
	phase      phase
	status     statusMachine
	messages   []domain.Message
	steps      []string
	assembler  *assembler
	pending    []string
	closed     bool

	sessions        []domain.Session
	sessionsSeq     uint64
	sessionsApplied uint64
}

// New creates a Manager. Opener and History are required.
func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session")

	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	sendTimeout := opts.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	fetchTimeout := opts.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}

	return &Manager{
		opener:       opts.Opener,
		history:      opts.History,
		canceler:     opts.Canceler,
		logger:       logger,
		newID:        newID,
		sendTimeout:  sendTimeout,
		fetchTimeout: fetchTimeout,
		events:       newBroadcaster(logger),
		status:       statusMachine{current: domain.StatusIdle},
		assembler:    newAssembler(newID),
		sessions:     []domain.Session{},
	}
}

// FetchSessions refreshes the cached session list. On failure the cache is
// left untouched and the error is returned.
func (m *Manager) FetchSessions(ctx context.Context, credential string) ([]domain.Session, error) {
	m.mu.Lock()
	m.sessionsSeq++
	seq := m.sessionsSeq
	m.mu.Unlock()

	list, err := m.history.ListSessions(ctx, credential)
	if err != nil {
		m.logger.Warn("Failed to fetch sessions", "error", err)
		return m.Sessions(), fmt.Errorf("fetch sessions: %w", err)
	}
	if list == nil {
		list = []domain.Session{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if seq <= m.sessionsApplied {
		// A newer refresh already landed.
		return cloneSessions(m.sessions), nil
	}
	m.sessionsApplied = seq
	m.sessions = cloneSessions(list)
	m.publishLocked(EventSessions)
	return cloneSessions(list), nil
}

// LoadSession switches to an existing session: the current channel is
// closed, local state is cleared, stored history is fetched and a new channel
// is opened. A history failure leaves the message list empty but still opens
// the channel. If another session operation starts before the history
// arrives, ErrSuperseded is returned and nothing is applied.
func (m *Manager) LoadSession(ctx context.Context, credential, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("load session: %w", ErrNoSession)
	}

	m.mu.Lock()
	gen, old := m.beginLocked(credential, sessionID, phaseLoading)
	m.mu.Unlock()
	closeConn(m.logger, old)

	history, err := m.history.GetMessages(ctx, credential, sessionID)
	if err != nil {
		m.logger.Warn("Failed to load session history", "session_id", sessionID, "error", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		m.logger.Debug("Discarding superseded session load", "session_id", sessionID, "generation", gen)
		return ErrSuperseded
	}
	if err == nil && len(history) > 0 {
		// Messages queued while loading stay after the stored history.
		m.messages = append(domain.CloneMessages(history), m.messages...)
	}
	m.openLocked(gen)
	m.publishLocked(EventState)
	return nil
}

// StartNewSession closes the current channel, clears local state and opens a
// channel for a freshly generated session id, which is returned at once. The
// remote side persists nothing until the first message arrives.
func (m *Manager) StartNewSession(credential string) (string, error) {
	m.mu.Lock()
	sessionID := m.newID()
	gen, old := m.beginLocked(credential, sessionID, phaseConnecting)
	m.mu.Unlock()
	closeConn(m.logger, old)

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return sessionID, ErrSuperseded
	}
	m.openLocked(gen)
	return sessionID, nil
}

// Reconnect opens a new channel for the current session while keeping the
// message list. It is the explicit recovery path after a dropped channel.
func (m *Manager) Reconnect() error {
	m.mu.Lock()
	if m.sessionID == "" {
		m.mu.Unlock()
		return ErrNoSession
	}
	m.generation++
	gen := m.generation
	old := m.conn
	m.conn = nil
	m.dropPendingLocked("reconnect")
	m.phase = phaseConnecting
	m.applyStatusLocked(evReset)
	m.mu.Unlock()
	closeConn(m.logger, old)

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return ErrSuperseded
	}
	m.openLocked(gen)
	return nil
}

// SendMessage appends a user message and transmits text verbatim. While the
// session is loading or its channel is connecting the text is queued and
// flushed once the channel opens. With no session, or a closed channel, it
// fails with ErrNoSession or transport.ErrNotConnected.
func (m *Manager) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessionID == "" {
		return ErrNoSession
	}

	switch m.phase {
	case phaseOpen:
		sendCtx, cancel := context.WithTimeout(ctx, m.sendTimeout)
		err := m.conn.Send(sendCtx, text)
		cancel()
		if err != nil {
			m.logger.Error("Failed to send message", "session_id", m.sessionID, "error", err)
			return fmt.Errorf("send message: %w", err)
		}
		m.beginTurnLocked(text)
		return nil
	case phaseLoading, phaseConnecting:
		m.beginTurnLocked(text)
		m.pending = append(m.pending, text)
		m.logger.Debug("Queued message until channel is ready", "session_id", m.sessionID, "queued", len(m.pending))
		return nil
	default:
		return fmt.Errorf("send message: %w", transport.ErrNotConnected)
	}
}

// Stop asks the remote side to stop generating the current response. The
// channel stays open; the status follows whatever frames arrive next.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	credential, sessionID := m.credential, m.sessionID
	m.mu.Unlock()

	if sessionID == "" {
		return ErrNoSession
	}
	if m.canceler == nil {
		return ErrStopUnsupported
	}
	if err := m.canceler.CancelSession(ctx, credential, sessionID); err != nil {
		return fmt.Errorf("stop session %s: %w", sessionID, err)
	}
	m.logger.Info("Requested stop", "session_id", sessionID)
	return nil
}

// Disconnect closes the current channel. The status becomes idle at once and
// the session id and messages are kept for a later Reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.generation++
	old := m.conn
	m.conn = nil
	if m.phase != phaseNone {
		m.phase = phaseClosed
	}
	m.dropPendingLocked("disconnect")
	m.applyStatusLocked(evClosed)
	m.publishLocked(EventState)
	m.mu.Unlock()

	closeConn(m.logger, old)
}

// Close disconnects and ends every subscription.
func (m *Manager) Close() {
	m.Disconnect()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.events.close()
}

// Subscribe returns a channel of change events. It is closed when ctx is
// cancelled or the Manager is closed.
func (m *Manager) Subscribe(ctx context.Context) <-chan Event {
	return m.events.subscribe(ctx)
}

// Status returns the current status.
func (m *Manager) Status() domain.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.status()
}

// Messages returns a copy of the message list.
func (m *Manager) Messages() []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.CloneMessages(m.messages)
}

// ThinkingSteps returns a copy of the current turn's trace.
func (m *Manager) ThinkingSteps() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneStrings(m.steps)
}

// Sessions returns a copy of the cached session list.
func (m *Manager) Sessions() []domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSessions(m.sessions)
}

// CurrentSessionID returns the active session id, or "" when none.
func (m *Manager) CurrentSessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Snapshot returns a consistent copy of all observable state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// beginLocked starts a new generation for sessionID and resets local state.
// It returns the generation and the detached previous channel, which the
// caller must close after releasing the lock.
func (m *Manager) beginLocked(credential, sessionID string, ph phase) (uint64, Conn) {
	m.generation++
	old := m.conn
	m.conn = nil
	m.dropPendingLocked("session switch")

	m.credential = credential
	m.sessionID = sessionID
	m.phase = ph
	m.messages = nil
	m.steps = nil
	m.assembler.reset()
	m.applyStatusLocked(evReset)
	m.publishLocked(EventState)

	m.logger.Info("Switching session", "session_id", sessionID, "generation", m.generation)
	return m.generation, old
}

// openLocked opens the channel for generation gen.
func (m *Manager) openLocked(gen uint64) {
	m.phase = phaseConnecting
	m.conn = m.opener.Open(m.credential, m.sessionID, transport.Events{
		OnOpen:    func() { m.handleOpen(gen) },
		OnMessage: func(data []byte) { m.handleMessage(gen, data) },
		OnClose:   func(err error) { m.handleClose(gen, err) },
	})
}

// beginTurnLocked records a user message and starts a fresh assistant turn.
func (m *Manager) beginTurnLocked(text string) {
	m.messages = append(m.messages, domain.Message{
		ID:        m.newID(),
		Role:      domain.RoleUser,
		Content:   text,
		CreatedAt: time.Now(),
	})
	m.steps = nil
	m.assembler.reset()
	m.publishLocked(EventState)
}

func (m *Manager) handleOpen(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return
	}

	m.phase = phaseOpen
	m.applyStatusLocked(evOpened)
	m.logger.Info("Channel connected", "session_id", m.sessionID)

	pending := m.pending
	m.pending = nil
	for i, text := range pending {
		ctx, cancel := context.WithTimeout(context.Background(), m.sendTimeout)
		err := m.conn.Send(ctx, text)
		cancel()
		if err != nil {
			m.logger.Error("Failed to flush queued message", "session_id", m.sessionID, "error", err)
			m.reportDroppedLocked(pending[i:], err)
			break
		}
	}
	m.publishLocked(EventState)
}

func (m *Manager) handleMessage(gen uint64, data []byte) {
	frame, err := protocol.Decode(data)
	if errors.Is(err, protocol.ErrUnknownFrameType) {
		m.logger.Debug("Ignoring unknown frame", "error", err)
		return
	}
	if err != nil {
		m.logger.Warn("Dropping undecodable frame", "error", err, "size", len(data))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return
	}

	switch f := frame.(type) {
	case protocol.Step:
		m.steps = append(m.steps, f.Content)
		m.applyStatusLocked(evStep)
		m.publishLocked(EventState)
	case protocol.Token:
		m.messages = m.assembler.append(m.messages, f.Content)
		m.applyStatusLocked(evToken)
		m.publishLocked(EventState)
	case protocol.Error:
		m.logger.Warn("Agent reported error", "session_id", m.sessionID, "content", f.Content)
		ev := m.eventLocked(EventAgentError)
		ev.Text = f.Content
		m.events.publish(ev)
	case protocol.Done:
		m.applyStatusLocked(evDone)
		m.publishLocked(EventState)
		credential := m.credential
		go m.refreshSessions(credential)
	}
}

func (m *Manager) handleClose(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return
	}

	if err != nil {
		m.logger.Info("Channel closed", "session_id", m.sessionID, "error", err)
	} else {
		m.logger.Info("Channel closed", "session_id", m.sessionID)
	}
	m.conn = nil
	m.phase = phaseClosed
	if len(m.pending) > 0 {
		if err == nil {
			err = transport.ErrNotConnected
		}
		m.reportDroppedLocked(m.pending, err)
		m.pending = nil
	}
	m.applyStatusLocked(evClosed)
	m.publishLocked(EventState)
}

func (m *Manager) refreshSessions(credential string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.fetchTimeout)
	defer cancel()
	_, _ = m.FetchSessions(ctx, credential)
}

func (m *Manager) applyStatusLocked(ev statusEvent) {
	before := m.status.status()
	if m.status.apply(ev) {
		m.logger.Debug("Status changed", "from", before, "to", m.status.status(), "event", ev.String())
	}
}

func (m *Manager) dropPendingLocked(reason string) {
	if len(m.pending) == 0 {
		return
	}
	m.reportDroppedLocked(m.pending, fmt.Errorf("%s: %w", reason, transport.ErrNotConnected))
	m.pending = nil
}

func (m *Manager) reportDroppedLocked(texts []string, err error) {
	m.logger.Error("Queued messages were not delivered", "session_id", m.sessionID, "count", len(texts), "error", err)
	ev := m.eventLocked(EventSendDropped)
	ev.Dropped = cloneStrings(texts)
	ev.Err = err
	m.events.publish(ev)
}

func (m *Manager) publishLocked(kind EventKind) {
	m.events.publish(m.eventLocked(kind))
}

func (m *Manager) eventLocked(kind EventKind) Event {
	return Event{Kind: kind, Snapshot: m.snapshotLocked()}
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		SessionID:     m.sessionID,
		Status:        m.status.status(),
		Messages:      domain.CloneMessages(m.messages),
		ThinkingSteps: cloneStrings(m.steps),
		Sessions:      cloneSessions(m.sessions),
		Queued:        len(m.pending),
	}
}

func closeConn(logger *slog.Logger, c Conn) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		logger.Debug("Failed to close channel", "error", err)
	}
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func cloneSessions(s []domain.Session) []domain.Session {
	out := make([]domain.Session, len(s))
	copy(out, s)
	return out
}
