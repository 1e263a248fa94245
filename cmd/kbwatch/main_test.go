package main

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/kb-realtime/internal/config"
	"github.com/rickgao/kb-realtime/internal/connection"
)

func TestSplitIDs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"42", []string{"42"}},
		{"1, 2,,3 ", []string{"1", "2", "3"}},
	}
	for _, tt := range tests {
		got := splitIDs(tt.in)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
			t.Errorf("splitIDs(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := newLogger(&buf, config.LoggingConfig{Level: "warn", Format: "json"}, false)
	if err != nil {
		t.Fatalf("newLogger failed: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "conn", "task:1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, `"conn":"task:1"`) {
		t.Errorf("expected json attributes, got %s", out)
	}

	buf.Reset()
	logger, _ = newLogger(&buf, config.LoggingConfig{Level: "error", Format: "text"}, true)
	logger.Debug("debug record")
	if !strings.Contains(buf.String(), "debug record") {
		t.Errorf("verbose should enable debug, got %q", buf.String())
	}

	if _, err := newLogger(&buf, config.LoggingConfig{Level: "loud"}, false); err == nil {
		t.Error("newLogger with unknown level should fail")
	}
}

func TestConnectionConfig(t *testing.T) {
	cfg := &config.WatcherConfig{
		Server: config.ServerConfig{WSURL: "wss://kb.example.com/ws"},
		Connections: config.ConnectionsConfig{
			HeartbeatInterval:    15 * time.Second,
			ReconnectBaseDelay:   2 * time.Second,
			MaxReconnectAttempts: 3,
			HandshakeTimeout:     4 * time.Second,
			WriteTimeout:         time.Second,
		},
	}

	got := connectionConfig(cfg)
	if got.BaseURL != "wss://kb.example.com/ws" {
		t.Errorf("BaseURL = %q", got.BaseURL)
	}
	if got.HeartbeatInterval != 15*time.Second || got.ReconnectBaseDelay != 2*time.Second {
		t.Errorf("intervals = %v, %v", got.HeartbeatInterval, got.ReconnectBaseDelay)
	}
	if got.MaxReconnectAttempts != 3 || got.HandshakeTimeout != 4*time.Second || got.WriteTimeout != time.Second {
		t.Errorf("Config = %+v", got)
	}
}

func TestRunRequiresFeeds(t *testing.T) {
	err := run(&config.WatcherConfig{}, nil, watchList{}, nil)
	if err == nil || !strings.Contains(err.Error(), "nothing to watch") {
		t.Errorf("run() = %v, want nothing to watch error", err)
	}
}

// stubConnector records the handlers each feed connects with.
type stubConnector struct {
	mu       sync.Mutex
	handlers map[string]connection.Handlers
}

func (c *stubConnector) Connect(id, _ string, h connection.Handlers) (*connection.Socket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers == nil {
		c.handlers = make(map[string]connection.Handlers)
	}
	c.handlers[id] = h
	return nil, nil
}

func (c *stubConnector) Disconnect(string) {}
func (c *stubConnector) Send(string, any) bool { return false }

func (c *stubConnector) Status(id string) connection.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.handlers[id]; ok {
		return connection.StatusConnected
	}
	return connection.StatusDisconnected
}

func (c *stubConnector) deliver(t *testing.T, id, raw string) {
	t.Helper()
	fr, err := connection.ParseFrame([]byte(raw))
	if err != nil {
		t.Fatalf("ParseFrame(%s): %v", raw, err)
	}
	c.mu.Lock()
	h := c.handlers[id]
	c.mu.Unlock()
	h.OnMessage(fr)
}

func TestWatchedAttrs(t *testing.T) {
	c := &stubConnector{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	w := watchList{chapters: []string{"7"}, tasks: []string{"42"}, notifications: true}
	ws, err := openFeeds(c, w, nil, logger)
	if err != nil {
		t.Fatalf("openFeeds failed: %v", err)
	}
	if len(ws.all) != 3 || len(ws.tasks) != 1 || ws.notifications == nil {
		t.Fatalf("openFeeds() = %d feeds, %d tasks, notifications %v", len(ws.all), len(ws.tasks), ws.notifications != nil)
	}

	c.deliver(t, "task:42", `{"event":"progress","percent":40}`)
	c.deliver(t, "notifications", `{"event":"index_ready","title":"Index built"}`)
	c.deliver(t, "notifications", `{"event":"chapter_published","title":"Chapter 7"}`)

	attrs := ws.attrs()
	if len(attrs)%2 != 0 {
		t.Fatalf("attrs has odd length %d", len(attrs))
	}
	got := make(map[string]any, len(attrs)/2)
	for i := 0; i < len(attrs); i += 2 {
		got[attrs[i].(string)] = attrs[i+1]
	}

	want := map[string]any{
		"chapter:7":            "connected",
		"task:42":              "connected",
		"notifications":        "connected",
		"task:42_state":        "running",
		"task:42_percent":      float64(40),
		"notifications_unread": 2,
		"notifications_latest": "chapter_published",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("attrs[%s] = %v, want %v", k, got[k], v)
		}
	}
}
