package connection

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

// Errors
var (
	ErrNotConnected      = errors.New("not connected")
	ErrMissingCredential = errors.New("no credential available")
	ErrMalformedFrame    = errors.New("malformed frame")
	ErrAlreadyClosed     = errors.New("already closed")
)

// Close codes that carry meaning for the reconnection policy.
const (
	CloseNormal    = websocket.CloseNormalClosure   // 1000
	CloseGoingAway = websocket.CloseGoingAway       // 1001
	CloseAbnormal  = websocket.CloseAbnormalClosure // 1006
)

// Status is the consumer-facing state of a logical connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusClosing      Status = "closing"
	StatusClosed       Status = "closed"
	StatusUnknown      Status = "unknown"
)

// readyState mirrors the transport readiness of a single socket.
type readyState int32

const (
	stateConnecting readyState = iota
	stateOpen
	stateClosing
	stateClosed
)

func (s readyState) status() Status {
	switch s {
	case stateConnecting:
		return StatusConnecting
	case stateOpen:
		return StatusConnected
	case stateClosing:
		return StatusClosing
	case stateClosed:
		return StatusClosed
	}
	return StatusUnknown
}

// CloseEvent describes how a socket ended.
type CloseEvent struct {
	Code     int
	Reason   string
	WasClean bool // True if a close frame was exchanged
}

// Abnormal reports whether the closure should trigger reconnection.
// Only normal (1000) and going-away (1001) closures are considered expected.
func (e CloseEvent) Abnormal() bool {
	return e.Code != CloseNormal && e.Code != CloseGoingAway
}

// Handlers are the optional lifecycle callbacks of a logical connection.
// Any subset may be nil.
type Handlers struct {
	OnOpen    func()
	OnMessage func(Frame)
	OnError   func(error)
	OnClose   func(CloseEvent)
}

// TokenSource provides the bearer credential appended to socket URLs.
// An empty token with a nil error means no credential is stored.
type TokenSource interface {
	Token() (string, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func() (string, error)

func (f TokenSourceFunc) Token() (string, error) {
	return f()
}

// Config configures the Manager.
type Config struct {
	BaseURL              string        // WebSocket base URL (e.g., wss://kb.example.com/ws)
	HeartbeatInterval    time.Duration // Interval between ping frames
	ReconnectBaseDelay   time.Duration // Delay unit for reconnection backoff
	MaxReconnectAttempts int           // Reconnect attempts before giving up
	HandshakeTimeout     time.Duration // Dial handshake deadline
	WriteTimeout         time.Duration // Write deadline for sends
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:    30 * time.Second,
		ReconnectBaseDelay:   1 * time.Second,
		MaxReconnectAttempts: 5,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
	}
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	Tracked           int   // Identifiers with a live socket
	Connected         int   // Sockets in the open state
	PendingReconnects int   // Identifiers waiting on a backoff timer
	FramesReceived    int64 // Frames read across all sockets
	FramesDropped     int64 // Frames that failed to parse
}
