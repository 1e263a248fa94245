// Package feeds adapts named realtime connections into per-feature views:
// chapter updates, task progress and the notification stream.
package feeds

import (
	"sync"

	"github.com/rickgao/kb-realtime/internal/connection"
)

// Connector is the part of *connection.Manager a feed uses.
type Connector interface {
	Connect(id, path string, h connection.Handlers) (*connection.Socket, error)
	Disconnect(id string)
	Send(id string, msg any) bool
	Status(id string) connection.Status
}

// Feed exposes one logical connection to feature code.
type Feed struct {
	c    Connector
	id   string
	path string
	user connection.Handlers

	// observe sees each application frame before the user's OnMessage.
	observe func(connection.Frame)

	mu      sync.Mutex
	last    connection.Frame
	hasLast bool
	lastErr error
}

func newFeed(c Connector, id, path string, h connection.Handlers) *Feed {
	return &Feed{c: c, id: id, path: path, user: h}
}

// ID returns the logical connection identifier.
func (f *Feed) ID() string {
	return f.id
}

// Open connects the feed. It is safe to call while already open.
func (f *Feed) Open() error {
	_, err := f.c.Connect(f.id, f.path, f.handlers())
	return err
}

// Close disconnects the feed without reconnecting.
func (f *Feed) Close() {
	f.c.Disconnect(f.id)
}

// Status returns the live state of the underlying connection.
func (f *Feed) Status() connection.Status {
	return f.c.Status(f.id)
}

// Send writes msg if the feed is connected.
func (f *Feed) Send(msg any) bool {
	return f.c.Send(f.id, msg)
}

// LastMessage returns the most recent application frame.
func (f *Feed) LastMessage() (connection.Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.hasLast
}

// LastError returns the most recent transport error, cleared on open.
func (f *Feed) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

func (f *Feed) handlers() connection.Handlers {
	return connection.Handlers{
		OnOpen: func() {
			f.mu.Lock()
			f.lastErr = nil
			f.mu.Unlock()
			if f.user.OnOpen != nil {
				f.user.OnOpen()
			}
		},
		OnMessage: func(fr connection.Frame) {
			f.mu.Lock()
			f.last = fr
			f.hasLast = true
			f.mu.Unlock()
			if f.observe != nil {
				f.observe(fr)
			}
			if f.user.OnMessage != nil {
				f.user.OnMessage(fr)
			}
		},
		OnError: func(err error) {
			f.mu.Lock()
			f.lastErr = err
			f.mu.Unlock()
			if f.user.OnError != nil {
				f.user.OnError(err)
			}
		},
		OnClose: f.user.OnClose,
	}
}

// NewChapterFeed returns the feed for live updates to one chapter.
func NewChapterFeed(c Connector, chapterID string, h connection.Handlers) *Feed {
	return newFeed(c, "chapter:"+chapterID, "/chapters/"+chapterID, h)
}
