package connection

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klynaa/realtime/internal/clock"
	"github.com/klynaa/realtime/internal/protocol"
)

// Manager owns the realtime channels of one process.
type Manager interface {
	// Connect opens the channel for (kind, entityID), replacing any existing
	// transport for that id. It returns once the socket is open.
	Connect(ctx context.Context, kind Kind, entityID, authToken string) error

	// Disconnect closes the channel and cancels any pending reconnect.
	// Unknown ids are ignored.
	Disconnect(id ConnectionID)

	// Send writes a command if the channel is open. It never buffers.
	Send(id ConnectionID, cmd protocol.Command) bool

	// SendEnvelope writes a pre-built envelope if the channel is open.
	SendEnvelope(id ConnectionID, env protocol.Envelope) bool

	// On registers a handler. Each call is a separate registration.
	On(id ConnectionID, name EventName, fn Handler) ListenerID

	// Off removes one registration. Unknown registrations are ignored.
	Off(id ConnectionID, name EventName, lid ListenerID)

	// RemoveListeners drops every registration for id.
	RemoveListeners(id ConnectionID)

	IsConnected(id ConnectionID) bool
	ActiveConnections() []ConnectionID
	State(id ConnectionID) State
	Attempts(id ConnectionID) int
	Stats() Stats

	// Close disconnects every channel. The manager cannot be reused.
	Close()
}

// Recorder receives connection metrics.
type Recorder interface {
	ConnectionOpened(kind string)
	ConnectionClosed(kind string, code int)
	ReconnectScheduled(kind string, attempt int, delay time.Duration)
	ReconnectExhausted(kind string)
	MessageReceived(kind, msgType string)
	ParseError(kind string)
	SendRejected(kind string)
}

type nopRecorder struct{}

func (nopRecorder) ConnectionOpened(string)                       {}
func (nopRecorder) ConnectionClosed(string, int)                  {}
func (nopRecorder) ReconnectScheduled(string, int, time.Duration) {}
func (nopRecorder) ReconnectExhausted(string)                     {}
func (nopRecorder) MessageReceived(string, string)                {}
func (nopRecorder) ParseError(string)                             {}
func (nopRecorder) SendRejected(string)                           {}

// Option configures a manager.
type Option func(*manager)

// WithDialer sets the transport dialer.
func WithDialer(d Dialer) Option {
	return func(m *manager) {
		m.dialer = d
	}
}

// WithClock sets the clock used for reconnect timers.
func WithClock(c clock.Clock) Option {
	return func(m *manager) {
		m.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *manager) {
		m.logger = logger
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(m *manager) {
		m.metrics = r
	}
}

// connState holds the state for a single logical connection.
type connState struct {
	id       ConnectionID
	kind     Kind
	entityID string
	token    string

	// Guarded by manager.mu
	state     State
	transport Transport
	gen       uint64 // bumped on every dial and teardown; stale callbacks compare against it
	attempts  int
	timer     clock.Timer
}

// manager implements the Manager interface.
type manager struct {
	cfg     ManagerConfig
	dialer  Dialer
	clock   clock.Clock
	logger  *slog.Logger
	metrics Recorder

	ctx    context.Context
	cancel context.CancelFunc

	listeners *listenerRegistry

	mu     sync.Mutex
	conns  map[ConnectionID]*connState
	closed bool
}

// NewManager creates a new Connection Manager.
func NewManager(cfg ManagerConfig, opts ...Option) Manager {
	m := &manager{
		cfg:       cfg,
		listeners: newListenerRegistry(),
		conns:     make(map[ConnectionID]*connState),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.dialer == nil {
		m.dialer = NewDialer(DefaultClientConfig(), m.logger)
	}
	if m.clock == nil {
		m.clock = clock.New()
	}
	if m.metrics == nil {
		m.metrics = nopRecorder{}
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	return m
}

// Connect opens a channel.
func (m *manager) Connect(ctx context.Context, kind Kind, entityID, authToken string) error {
	if _, ok := kind.Path(entityID); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidChannelKind, kind)
	}
	id := NewConnectionID(kind, entityID)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}

	cs, ok := m.conns[id]
	if !ok {
		cs = &connState{id: id, kind: kind, entityID: entityID}
		m.conns[id] = cs
	}
	old := cs.transport
	cs.transport = nil
	stopTimer(cs)
	cs.token = authToken
	cs.state = StateConnecting
	cs.gen++
	gen := cs.gen
	m.mu.Unlock()

	if old != nil {
		m.logger.Info("replacing existing connection", "conn", id)
		old.Close(CloseNormal, "replaced")
		m.metrics.ConnectionClosed(string(kind), CloseNormal)
		m.emit(Event{ConnectionID: id, Name: EventDisconnected, Code: CloseNormal})
	}

	return m.dial(ctx, cs, gen, true)
}

// dial opens a transport for cs. manual is false for automatic reconnects,
// whose failures continue the backoff procedure instead of being returned
// to a caller.
func (m *manager) dial(ctx context.Context, cs *connState, gen uint64, manual bool) error {
	path, _ := cs.kind.Path(cs.entityID)
	url := strings.TrimRight(m.cfg.BaseURL, "/") + path

	tr, err := m.dialer.Dial(ctx, url)
	if err != nil {
		openErr := &TransportOpenError{ID: cs.id, URL: url, Err: err}
		m.logger.Warn("failed to open connection", "conn", cs.id, "error", err)
		m.emit(Event{ConnectionID: cs.id, Name: EventError, Err: openErr})

		m.mu.Lock()
		if !m.isCurrent(cs, gen) {
			m.mu.Unlock()
			return openErr
		}
		var events []Event
		if manual {
			cs.state = StateClosed
			delete(m.conns, cs.id)
		} else {
			events = m.scheduleReconnect(cs)
		}
		m.mu.Unlock()

		m.emit(events...)
		return openErr
	}

	m.mu.Lock()
	if !m.isCurrent(cs, gen) {
		m.mu.Unlock()
		tr.Close(CloseNormal, "superseded")
		return ErrConnectSuperseded
	}
	cs.transport = tr
	cs.state = StateOpen
	cs.attempts = 0
	token := cs.token
	m.mu.Unlock()

	m.metrics.ConnectionOpened(string(cs.kind))
	m.logger.Info("connection open", "conn", cs.id)

	if token != "" {
		if data, err := protocol.Encode(protocol.Authenticate{Token: token}); err == nil {
			if err := tr.Send(data); err != nil {
				m.logger.Warn("failed to send authenticate", "conn", cs.id, "error", err)
			}
		}
	}

	m.emit(Event{ConnectionID: cs.id, Name: EventConnected})

	tr.Start(TransportHandler{
		OnMessage: func(data []byte) { m.handleMessage(cs, gen, data) },
		OnClose:   func(code int, err error) { m.handleClose(cs, gen, code, err) },
	})

	return nil
}

// isCurrent reports whether gen is still the live generation of cs.
// Caller holds m.mu.
func (m *manager) isCurrent(cs *connState, gen uint64) bool {
	return !m.closed && m.conns[cs.id] == cs && cs.gen == gen
}

// handleMessage parses an inbound frame and fans it out.
func (m *manager) handleMessage(cs *connState, gen uint64, data []byte) {
	m.mu.Lock()
	current := m.isCurrent(cs, gen)
	m.mu.Unlock()
	if !current {
		return
	}

	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		m.metrics.ParseError(string(cs.kind))
		m.logger.Warn("invalid inbound frame", "conn", cs.id, "error", err)
		m.emit(Event{
			ConnectionID: cs.id,
			Name:         EventError,
			Payload:      data,
			Err:          &ParseError{Raw: data, Err: err},
		})
		return
	}

	m.metrics.MessageReceived(string(cs.kind), env.Type)
	m.emit(Event{ConnectionID: cs.id, Name: EventMessage, Payload: data})

	if env.Type != "" {
		m.emit(Event{ConnectionID: cs.id, Name: EventName(env.Type), Payload: env.Payload(data)})
	}
}

// handleClose deregisters the transport and decides whether to reconnect.
func (m *manager) handleClose(cs *connState, gen uint64, code int, cause error) {
	m.mu.Lock()
	if !m.isCurrent(cs, gen) {
		m.mu.Unlock()
		return
	}
	cs.transport = nil

	var events []Event
	if code == CloseNormal {
		cs.state = StateClosed
		delete(m.conns, cs.id)
	} else {
		events = m.scheduleReconnect(cs)
	}
	m.mu.Unlock()

	m.metrics.ConnectionClosed(string(cs.kind), code)
	m.logger.Info("connection closed", "conn", cs.id, "code", code, "error", cause)

	m.emit(Event{ConnectionID: cs.id, Name: EventDisconnected, Code: code, Err: cause})
	m.emit(events...)
}

// scheduleReconnect arms the backoff timer or marks the connection failed.
// Caller holds m.mu; the returned events are emitted after unlocking.
func (m *manager) scheduleReconnect(cs *connState) []Event {
	n := cs.attempts
	if n >= m.cfg.MaxReconnectAttempts {
		cs.state = StateFailed
		m.metrics.ReconnectExhausted(string(cs.kind))
		m.logger.Error("reconnection attempts exhausted", "conn", cs.id, "attempts", n)
		return []Event{{ConnectionID: cs.id, Name: EventReconnectionFailed, Attempt: n}}
	}

	cs.attempts = n + 1
	cs.state = StateConnecting
	cs.gen++
	gen := cs.gen
	delay := m.backoff(n)
	cs.timer = m.clock.AfterFunc(delay, func() { m.reconnect(cs, gen) })

	m.metrics.ReconnectScheduled(string(cs.kind), n+1, delay)
	m.logger.Info("reconnect scheduled", "conn", cs.id, "attempt", n+1, "delay", delay)

	return []Event{{ConnectionID: cs.id, Name: EventReconnecting, Attempt: n + 1, Delay: delay}}
}

// backoff returns base * 2^n, capped at ReconnectMaxDelay when set. Without
// a cap the delay saturates at the largest Duration.
func (m *manager) backoff(n int) time.Duration {
	delay := m.cfg.ReconnectBaseDelay
	for i := 0; i < n; i++ {
		if delay > math.MaxInt64/2 {
			delay = math.MaxInt64
			break
		}
		delay *= 2
		if m.cfg.ReconnectMaxDelay > 0 && delay >= m.cfg.ReconnectMaxDelay {
			return m.cfg.ReconnectMaxDelay
		}
	}
	if m.cfg.ReconnectMaxDelay > 0 && delay > m.cfg.ReconnectMaxDelay {
		return m.cfg.ReconnectMaxDelay
	}
	return delay
}

// reconnect runs when a backoff timer fires.
func (m *manager) reconnect(cs *connState, gen uint64) {
	m.mu.Lock()
	if !m.isCurrent(cs, gen) || cs.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	cs.timer = nil
	cs.gen++
	next := cs.gen
	attempt := cs.attempts
	m.mu.Unlock()

	m.logger.Info("attempting reconnection", "conn", cs.id, "attempt", attempt)
	m.dial(m.ctx, cs, next, false)
}

// Disconnect closes a channel intentionally.
func (m *manager) Disconnect(id ConnectionID) {
	m.mu.Lock()
	cs, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	stopTimer(cs)
	cs.gen++
	gen := cs.gen
	tr := cs.transport
	cs.transport = nil
	if tr == nil {
		delete(m.conns, id)
		cs.state = StateClosed
		m.mu.Unlock()
		return
	}
	cs.state = StateClosing
	m.mu.Unlock()

	tr.Close(CloseNormal, "client disconnect")

	m.mu.Lock()
	if m.conns[id] == cs && cs.gen == gen {
		delete(m.conns, id)
		cs.state = StateClosed
	}
	m.mu.Unlock()

	m.metrics.ConnectionClosed(string(cs.kind), CloseNormal)
	m.logger.Info("connection disconnected", "conn", id)
	m.emit(Event{ConnectionID: id, Name: EventDisconnected, Code: CloseNormal})
}

// Send encodes and writes a command.
func (m *manager) Send(id ConnectionID, cmd protocol.Command) bool {
	data, err := protocol.Encode(cmd)
	if err != nil {
		m.logger.Error("failed to encode command", "conn", id, "type", cmd.CommandType(), "error", err)
		return false
	}
	return m.sendRaw(id, data)
}

// SendEnvelope writes a pre-built envelope.
func (m *manager) SendEnvelope(id ConnectionID, env protocol.Envelope) bool {
	data, err := protocol.EncodeEnvelope(env)
	if err != nil {
		m.logger.Error("failed to encode envelope", "conn", id, "type", env.Type, "error", err)
		return false
	}
	return m.sendRaw(id, data)
}

func (m *manager) sendRaw(id ConnectionID, data []byte) bool {
	m.mu.Lock()
	cs, ok := m.conns[id]
	if !ok || cs.state != StateOpen || cs.transport == nil {
		m.mu.Unlock()
		m.metrics.SendRejected(string(id.Kind()))
		m.logger.Debug("send rejected, not connected", "conn", id)
		return false
	}
	tr := cs.transport
	m.mu.Unlock()

	if err := tr.Send(data); err != nil {
		m.metrics.SendRejected(string(id.Kind()))
		m.logger.Warn("send failed", "conn", id, "error", err)
		return false
	}
	return true
}

// On registers a handler.
func (m *manager) On(id ConnectionID, name EventName, fn Handler) ListenerID {
	return m.listeners.add(id, name, fn)
}

// Off removes a handler registration.
func (m *manager) Off(id ConnectionID, name EventName, lid ListenerID) {
	m.listeners.remove(id, name, lid)
}

// RemoveListeners drops all registrations for id.
func (m *manager) RemoveListeners(id ConnectionID) {
	m.listeners.removeAll(id)
}

// emit delivers events to their listeners in registration order.
func (m *manager) emit(events ...Event) {
	for _, ev := range events {
		for _, l := range m.listeners.snapshot(ev.ConnectionID, ev.Name) {
			l.fn(ev)
		}
	}
}

// IsConnected reports whether the channel is open.
func (m *manager) IsConnected(id ConnectionID) bool {
	return m.State(id) == StateOpen
}

// ActiveConnections returns the open channel ids, sorted.
func (m *manager) ActiveConnections() []ConnectionID {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]ConnectionID, 0, len(m.conns))
	for id, cs := range m.conns {
		if cs.state == StateOpen {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// State returns the lifecycle state; unknown ids are closed.
func (m *manager) State(id ConnectionID) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cs, ok := m.conns[id]; ok {
		return cs.state
	}
	return StateClosed
}

// Attempts returns the reconnect attempt counter.
func (m *manager) Attempts(id ConnectionID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cs, ok := m.conns[id]; ok {
		return cs.attempts
	}
	return 0
}

// Stats returns current statistics.
func (m *manager) Stats() Stats {
	m.mu.Lock()
	s := Stats{Tracked: len(m.conns)}
	for _, cs := range m.conns {
		switch cs.state {
		case StateOpen:
			s.Open++
		case StateFailed:
			s.Failed++
		}
	}
	m.mu.Unlock()

	s.Listeners = m.listeners.count()
	return s
}

// Close shuts every channel down.
func (m *manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	conns := m.conns
	m.conns = make(map[ConnectionID]*connState)
	type closing struct {
		cs *connState
		tr Transport
	}
	var open []closing
	for _, cs := range conns {
		stopTimer(cs)
		cs.gen++
		cs.state = StateClosed
		if cs.transport != nil {
			open = append(open, closing{cs: cs, tr: cs.transport})
			cs.transport = nil
		}
	}
	m.mu.Unlock()

	m.cancel()

	for _, c := range open {
		c.tr.Close(CloseNormal, "shutdown")
		m.metrics.ConnectionClosed(string(c.cs.kind), CloseNormal)
		m.emit(Event{ConnectionID: c.cs.id, Name: EventDisconnected, Code: CloseNormal})
	}

	m.logger.Info("connection manager closed", "connections", len(open))
}

// stopTimer cancels a pending reconnect. Caller holds m.mu.
func stopTimer(cs *connState) {
	if cs.timer != nil {
		cs.timer.Stop()
		cs.timer = nil
	}
}
