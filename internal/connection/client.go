package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is the transport handle backing one logical connection.
// A reconnect creates a new Socket for the same identifier.
type Socket struct {
	id       string
	session  string
	path     string
	url      string
	handlers Handlers

	dialer       *websocket.Dialer
	header       http.Header
	writeTimeout time.Duration
	logger       *slog.Logger
	events       socketEvents

	conn  *websocket.Conn
	state atomic.Int32

	// Write serialization
	writeMu sync.Mutex

	mu             sync.Mutex
	closeRequested bool
	closeCode      int
	closeReason    string
	cancelDial     context.CancelFunc
	hb             *heartbeat

	finishOnce sync.Once
}

// socketEvents are the manager's lifecycle hooks for a socket.
type socketEvents struct {
	open  func(*Socket)
	frame func(*Socket, []byte)
	err   func(*Socket, error)
	close func(*Socket, CloseEvent)
}

// ID returns the logical identifier the socket serves.
func (s *Socket) ID() string {
	return s.id
}

// Session returns a unique identifier for this transport attempt.
func (s *Socket) Session() string {
	return s.session
}

// Path returns the application-relative route the socket was opened on.
func (s *Socket) Path() string {
	return s.path
}

// Status returns the socket's live readiness state.
func (s *Socket) Status() Status {
	return s.readyState().status()
}

func (s *Socket) readyState() readyState {
	return readyState(s.state.Load())
}

// run dials the socket and reads until it closes. Lifecycle events are
// delivered on this goroutine, so frames of one socket stay in order.
func (s *Socket) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.closeRequested {
		s.mu.Unlock()
		s.finish(s.requestedClose())
		return
	}
	s.cancelDial = cancel
	s.mu.Unlock()

	conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		s.mu.Lock()
		requested := s.closeRequested
		s.mu.Unlock()
		if requested {
			s.finish(s.requestedClose())
			return
		}

		s.events.err(s, fmt.Errorf("dial: %w", err))
		s.finish(CloseEvent{Code: CloseAbnormal, Reason: err.Error()})
		return
	}

	s.mu.Lock()
	if s.closeRequested {
		s.mu.Unlock()
		conn.Close()
		s.finish(s.requestedClose())
		return
	}
	s.conn = conn
	s.state.Store(int32(stateOpen))
	s.mu.Unlock()

	s.logger.Debug("websocket connected", "conn", s.id, "session", s.session)
	s.events.open(s)

	s.readLoop()
}

// readLoop reads frames and hands them to the manager.
func (s *Socket) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.finish(s.closeEventFor(err))
			return
		}
		s.events.frame(s, data)
	}
}

// closeEventFor maps a read error to a CloseEvent.
func (s *Socket) closeEventFor(err error) CloseEvent {
	s.mu.Lock()
	requested := s.closeRequested
	s.mu.Unlock()
	if requested {
		return s.requestedClose()
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return CloseEvent{Code: ce.Code, Reason: ce.Text, WasClean: true}
	}

	s.events.err(s, err)
	return CloseEvent{Code: CloseAbnormal, Reason: err.Error()}
}

func (s *Socket) requestedClose() CloseEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CloseEvent{Code: s.closeCode, Reason: s.closeReason, WasClean: true}
}

// finish moves the socket to closed and reports the closure exactly once.
func (s *Socket) finish(ev CloseEvent) {
	s.finishOnce.Do(func() {
		s.state.Store(int32(stateClosed))
		s.stopHeartbeat()
		if s.conn != nil {
			s.conn.Close()
		}
		s.logger.Debug("websocket closed",
			"conn", s.id,
			"session", s.session,
			"code", ev.Code,
		)
		s.events.close(s, ev)
	})
}

// write sends a text frame if the socket is open.
func (s *Socket) write(data []byte) error {
	if s.readyState() != stateOpen {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// close requests closure with the given code. The read loop observes the
// closed connection and reports the requested code rather than a read error.
func (s *Socket) close(code int, reason string) error {
	s.mu.Lock()
	if s.closeRequested {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	s.closeRequested = true
	s.closeCode = code
	s.closeReason = reason
	conn := s.conn
	cancel := s.cancelDial
	s.mu.Unlock()

	for {
		cur := s.state.Load()
		if readyState(cur) == stateClosed || s.state.CompareAndSwap(cur, int32(stateClosing)) {
			break
		}
	}
	s.stopHeartbeat()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}

	// Send close message
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	return conn.Close()
}
