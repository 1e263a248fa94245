package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Manager is the registry of named logical connections. Each identifier is
// backed by at most one live Socket; abnormal closures are recovered by the
// reconnection policy and application frames are fanned out by event type.
type Manager struct {
	cfg        Config
	tokens     TokenSource
	dispatcher *Dispatcher
	scheduler  Scheduler
	backoff    Backoff
	dialer     *websocket.Dialer
	header     http.Header
	logger     *slog.Logger

	mu       sync.Mutex
	sockets  map[string]*Socket           // identifier -> live socket
	attempts map[string]int               // identifier -> reconnect attempts since last open
	pending  map[string]*pendingReconnect // identifier -> scheduled reconnect

	framesReceived atomic.Int64
	framesDropped  atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithScheduler replaces the timer used for reconnect backoff.
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) {
		m.scheduler = s
	}
}

// WithDispatcher shares an existing dispatcher.
func WithDispatcher(d *Dispatcher) Option {
	return func(m *Manager) {
		m.dispatcher = d
	}
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) {
		m.dialer = d
	}
}

// WithHeader adds HTTP headers to every handshake.
func WithHeader(h http.Header) Option {
	return func(m *Manager) {
		m.header = h
	}
}

// NewManager creates a Manager. Pass nil logger for default.
func NewManager(cfg Config, tokens TokenSource, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:       cfg,
		tokens:    tokens,
		scheduler: realScheduler{},
		backoff: Backoff{
			BaseDelay:   cfg.ReconnectBaseDelay,
			MaxAttempts: cfg.MaxReconnectAttempts,
		},
		logger:   logger.With("component", "connections"),
		sockets:  make(map[string]*Socket),
		attempts: make(map[string]int),
		pending:  make(map[string]*pendingReconnect),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.dispatcher == nil {
		m.dispatcher = NewDispatcher(logger)
	}
	if m.dialer == nil {
		m.dialer = &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}

	return m
}

// Dispatcher returns the manager's event dispatcher.
func (m *Manager) Dispatcher() *Dispatcher {
	return m.dispatcher
}

// Connect opens the logical connection id on path, or returns the live
// socket if one already exists. The handshake completes asynchronously and
// is reported through h.OnOpen, or h.OnError followed by h.OnClose.
func (m *Manager) Connect(id, path string, h Handlers) (*Socket, error) {
	m.mu.Lock()
	if s, ok := m.sockets[id]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	token, err := m.credential()
	if err != nil {
		m.logger.Error("no credential, not connecting", "conn", id, "error", err)
		return nil, err
	}

	target, err := m.buildURL(path, token)
	if err != nil {
		m.logger.Error("invalid connection url", "conn", id, "path", path, "error", err)
		return nil, err
	}

	m.mu.Lock()
	if s, ok := m.sockets[id]; ok {
		m.mu.Unlock()
		return s, nil
	}

	s := &Socket{
		id:           id,
		session:      uuid.New().String(),
		path:         path,
		url:          target,
		handlers:     h,
		dialer:       m.dialer,
		header:       m.header,
		writeTimeout: m.cfg.WriteTimeout,
		logger:       m.logger,
		events: socketEvents{
			open:  m.handleOpen,
			frame: m.handleFrame,
			err:   m.handleError,
			close: m.handleClose,
		},
	}
	s.state.Store(int32(stateConnecting))
	m.sockets[id] = s
	m.mu.Unlock()

	m.logger.Info("connecting", "conn", id, "path", path, "session", s.session)

	go s.run(context.Background())

	return s, nil
}

// Disconnect closes the connection with a normal closure code so that no
// reconnection follows. A pending reconnect for id is cancelled as well.
// The socket finishes closing asynchronously.
func (m *Manager) Disconnect(id string) {
	m.mu.Lock()
	s := m.sockets[id]
	delete(m.sockets, id)
	if p := m.pending[id]; p != nil {
		p.timer.Stop()
		delete(m.pending, id)
	}
	m.mu.Unlock()

	if s == nil {
		return
	}

	s.stopHeartbeat()
	if err := s.close(CloseNormal, "client disconnect"); err != nil {
		m.logger.Debug("close failed", "conn", id, "error", err)
	}
	m.logger.Info("disconnected", "conn", id)
}

// DisconnectAll disconnects every tracked identifier.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sockets)+len(m.pending))
	for id := range m.sockets {
		ids = append(ids, id)
	}
	for id := range m.pending {
		if _, ok := m.sockets[id]; !ok {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Disconnect(id)
	}
}

// Send JSON-encodes msg and writes it if the connection is open.
// Nothing is queued; the caller decides whether to retry.
func (m *Manager) Send(id string, msg any) bool {
	m.mu.Lock()
	s := m.sockets[id]
	m.mu.Unlock()

	if s == nil || s.readyState() != stateOpen {
		m.logger.Warn("cannot send, not connected", "conn", id)
		return false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error("cannot send, encode failed", "conn", id, "error", err)
		return false
	}

	if err := s.write(data); err != nil {
		m.logger.Warn("send failed", "conn", id, "error", err)
		return false
	}
	return true
}

// Status returns the state of id, or StatusDisconnected if untracked.
func (m *Manager) Status(id string) Status {
	m.mu.Lock()
	s := m.sockets[id]
	m.mu.Unlock()

	if s == nil {
		return StatusDisconnected
	}
	return s.Status()
}

// IsConnected reports whether id has an open socket.
func (m *Manager) IsConnected(id string) bool {
	return m.Status(id) == StatusConnected
}

// On subscribes h to eventType on the manager's dispatcher.
func (m *Manager) On(eventType string, h Handler) func() {
	return m.dispatcher.On(eventType, h)
}

// OnFunc subscribes fn to eventType on the manager's dispatcher.
func (m *Manager) OnFunc(eventType string, fn func(Frame) error) func() {
	return m.dispatcher.OnFunc(eventType, fn)
}

// Off removes h from eventType.
func (m *Manager) Off(eventType string, h Handler) {
	m.dispatcher.Off(eventType, h)
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := ManagerStats{
		Tracked:           len(m.sockets),
		PendingReconnects: len(m.pending),
		FramesReceived:    m.framesReceived.Load(),
		FramesDropped:     m.framesDropped.Load(),
	}
	for _, s := range m.sockets {
		if s.readyState() == stateOpen {
			stats.Connected++
		}
	}
	return stats
}

// credential reads the bearer token.
func (m *Manager) credential() (string, error) {
	if m.tokens == nil {
		return "", ErrMissingCredential
	}
	token, err := m.tokens.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingCredential, err)
	}
	if token == "" {
		return "", ErrMissingCredential
	}
	return token, nil
}

// buildURL joins path onto the base URL and adds token to the merged query.
func (m *Manager) buildURL(path, token string) (string, error) {
	u, err := url.Parse(m.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	rel, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse path: %w", err)
	}
	if rel.Path != "" {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(rel.Path, "/")
		u.RawPath = ""
	}
	q := u.Query()
	for k, vs := range rel.Query() {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Manager) handleOpen(s *Socket) {
	m.mu.Lock()
	if m.sockets[s.id] != s {
		m.mu.Unlock()
		return
	}
	m.attempts[s.id] = 0
	m.mu.Unlock()

	s.startHeartbeat(m.cfg.HeartbeatInterval)

	m.logger.Info("connected", "conn", s.id, "session", s.session)

	if s.handlers.OnOpen != nil {
		m.guard(s.id, "open", s.handlers.OnOpen)
	}
}

func (m *Manager) handleFrame(s *Socket, data []byte) {
	m.framesReceived.Add(1)

	fr, err := ParseFrame(data)
	if err != nil {
		m.framesDropped.Add(1)
		m.logger.Warn("dropping malformed frame", "conn", s.id, "error", err)
		return
	}

	if fr.IsControl() {
		return
	}

	if s.handlers.OnMessage != nil {
		m.guard(s.id, "message", func() { s.handlers.OnMessage(fr) })
	}

	if fr.Event != "" {
		m.dispatcher.Dispatch(fr)
	}
}

func (m *Manager) handleError(s *Socket, err error) {
	m.logger.Warn("connection error", "conn", s.id, "session", s.session, "error", err)

	if s.handlers.OnError != nil {
		m.guard(s.id, "error", func() { s.handlers.OnError(err) })
	}
}

func (m *Manager) handleClose(s *Socket, ev CloseEvent) {
	m.mu.Lock()
	tracked := m.sockets[s.id] == s
	if tracked {
		delete(m.sockets, s.id)
	}
	m.mu.Unlock()

	m.logger.Info("connection closed",
		"conn", s.id,
		"session", s.session,
		"code", ev.Code,
		"reason", ev.Reason,
	)

	if s.handlers.OnClose != nil {
		m.guard(s.id, "close", func() { s.handlers.OnClose(ev) })
	}

	// A socket no longer tracked was removed by Disconnect, possibly from
	// inside OnError after the close code was already decided.
	if ev.Abnormal() && tracked {
		m.scheduleReconnect(s.id, s.path, s.handlers)
	}
}

// scheduleReconnect applies the reconnection policy for id.
func (m *Manager) scheduleReconnect(id, path string, h Handlers) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, live := m.sockets[id]; live {
		return
	}

	attempts := m.attempts[id]
	if m.backoff.Exhausted(attempts) {
		m.logger.Error("reconnect attempts exhausted",
			"conn", id,
			"attempts", attempts,
		)
		return
	}

	m.attempts[id] = attempts + 1
	delay := m.backoff.Delay(attempts)

	if old := m.pending[id]; old != nil {
		old.timer.Stop()
	}

	p := &pendingReconnect{attempt: attempts + 1, delay: delay}
	m.pending[id] = p
	p.timer = m.scheduler.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.pending[id] != p {
			m.mu.Unlock()
			return
		}
		delete(m.pending, id)
		m.mu.Unlock()

		m.logger.Info("attempting reconnection",
			"conn", id,
			"attempt", p.attempt,
		)
		m.Connect(id, path, h)
	})

	m.logger.Info("reconnect scheduled",
		"conn", id,
		"attempt", p.attempt,
		"delay", delay,
	)
}

// guard runs a consumer callback, logging a panic instead of propagating it.
func (m *Manager) guard(id, callback string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("connection callback panicked",
				"conn", id,
				"callback", callback,
				"panic", r,
			)
		}
	}()
	fn()
}
