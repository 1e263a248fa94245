package feeds

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rickgao/kb-realtime/internal/connection"
)

// DefaultNotificationLimit is used when a non-positive limit is given.
const DefaultNotificationLimit = 50

// Notification is one application frame from the notification stream.
type Notification struct {
	Event      string
	Title      string
	Message    string
	Body       json.RawMessage
	ReceivedAt time.Time
}

// NotificationFeed keeps the most recent notifications and an unread count.
type NotificationFeed struct {
	*Feed

	limit int

	mu     sync.Mutex
	recent []Notification // newest first
	unread int
}

// NewNotificationFeed returns the global notification feed.
func NewNotificationFeed(c Connector, limit int, h connection.Handlers) *NotificationFeed {
	if limit <= 0 {
		limit = DefaultNotificationLimit
	}
	n := &NotificationFeed{
		Feed:  newFeed(c, "notifications", "/notifications", h),
		limit: limit,
	}
	n.observe = n.add
	return n
}

// Recent returns up to limit notifications, newest first.
func (n *NotificationFeed) Recent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.recent...)
}

// Unread returns the number of notifications since the last MarkAllRead.
func (n *NotificationFeed) Unread() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.unread
}

// MarkAllRead resets the unread counter.
func (n *NotificationFeed) MarkAllRead() {
	n.mu.Lock()
	n.unread = 0
	n.mu.Unlock()
}

func (n *NotificationFeed) add(fr connection.Frame) {
	var fields struct {
		Title   string `json:"title"`
		Message string `json:"message"`
	}
	if err := fr.Decode(&fields); err != nil {
		// Keep the raw body; title and message stay empty.
		fields.Title, fields.Message = "", ""
	}

	item := Notification{
		Event:      fr.Event,
		Title:      fields.Title,
		Message:    fields.Message,
		Body:       fr.Body,
		ReceivedAt: time.Now(),
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.recent = append([]Notification{item}, n.recent...)
	if len(n.recent) > n.limit {
		n.recent = n.recent[:n.limit]
	}
	n.unread++
}
