package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
server:
  ws_url: wss://kb.example.com/ws
auth:
  store_path: /tmp/creds.yaml
connections:
  heartbeat_interval: 15s
  max_reconnect_attempts: 3
journal:
  enabled: true
  database:
    host: localhost
    port: 5433
    name: kb_events
    user: kb
    password: kbpass
logging:
  level: debug
  format: json
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.WSURL != "wss://kb.example.com/ws" {
		t.Errorf("Server.WSURL = %q, want %q", cfg.Server.WSURL, "wss://kb.example.com/ws")
	}
	if cfg.Auth.StorePath != "/tmp/creds.yaml" {
		t.Errorf("Auth.StorePath = %q, want %q", cfg.Auth.StorePath, "/tmp/creds.yaml")
	}
	if cfg.Connections.HeartbeatInterval != 15*time.Second {
		t.Errorf("Connections.HeartbeatInterval = %v, want %v", cfg.Connections.HeartbeatInterval, 15*time.Second)
	}
	if cfg.Connections.MaxReconnectAttempts != 3 {
		t.Errorf("Connections.MaxReconnectAttempts = %d, want 3", cfg.Connections.MaxReconnectAttempts)
	}
	if !cfg.Journal.Enabled {
		t.Error("Journal.Enabled = false, want true")
	}
	if cfg.Journal.Database.Port != 5433 {
		t.Errorf("Journal.Database.Port = %d, want 5433", cfg.Journal.Database.Port)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_KB_WS_URL", "ws://localhost:8000/ws")
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
server:
  ws_url: ${TEST_KB_WS_URL}
journal:
  database:
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.WSURL != "ws://localhost:8000/ws" {
		t.Errorf("Server.WSURL = %q, want %q", cfg.Server.WSURL, "ws://localhost:8000/ws")
	}
	if cfg.Journal.Database.Password != "secret123" {
		t.Errorf("Journal.Database.Password = %q, want %q", cfg.Journal.Database.Password, "secret123")
	}
}

func TestLoadTOML(t *testing.T) {
	t.Setenv("TEST_KB_TOKEN_KEY", "kb_token")

	doc := `
[server]
ws_url = "wss://kb.example.com/ws"

[auth]
token_key = "${TEST_KB_TOKEN_KEY}"

[connections]
heartbeat_interval = "20s"
max_reconnect_attempts = 2

[journal.database]
host = "db.internal"
port = 6543
`
	path := filepath.Join(t.TempDir(), "kbwatch.toml")
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	cfg, err := LoadAndValidate(path)
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}

	if cfg.Server.WSURL != "wss://kb.example.com/ws" {
		t.Errorf("Server.WSURL = %q", cfg.Server.WSURL)
	}
	if cfg.Auth.TokenKey != "kb_token" {
		t.Errorf("Auth.TokenKey = %q, want %q", cfg.Auth.TokenKey, "kb_token")
	}
	if cfg.Connections.HeartbeatInterval != 20*time.Second {
		t.Errorf("Connections.HeartbeatInterval = %v, want 20s", cfg.Connections.HeartbeatInterval)
	}
	if cfg.Connections.MaxReconnectAttempts != 2 {
		t.Errorf("Connections.MaxReconnectAttempts = %d, want 2", cfg.Connections.MaxReconnectAttempts)
	}
	if cfg.Journal.Database.Host != "db.internal" || cfg.Journal.Database.Port != 6543 {
		t.Errorf("Journal.Database = %+v", cfg.Journal.Database)
	}
	if cfg.Connections.ReconnectBaseDelay != DefaultReconnectBaseDelay {
		t.Errorf("defaults not applied: ReconnectBaseDelay = %v", cfg.Connections.ReconnectBaseDelay)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of missing file should fail")
	}

	path := writeTempFile(t, "server: [unterminated")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse config yaml") {
		t.Errorf("Load of invalid yaml = %v, want parse error", err)
	}

	path = filepath.Join(t.TempDir(), "bad.toml")
	os.WriteFile(path, []byte("[server\nws_url = 1"), 0644)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse config toml") {
		t.Errorf("Load of invalid toml = %v, want parse error", err)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
server:
  ws_url: ws://localhost:8000/ws
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Auth.StorePath != DefaultStorePath {
		t.Errorf("Auth.StorePath = %q, want %q", cfg.Auth.StorePath, DefaultStorePath)
	}
	if cfg.Auth.TokenKey != DefaultTokenKey {
		t.Errorf("Auth.TokenKey = %q, want %q", cfg.Auth.TokenKey, DefaultTokenKey)
	}
	if cfg.Connections.HeartbeatInterval != DefaultHeartbeatInterval {
		t.Errorf("Connections.HeartbeatInterval = %v, want %v", cfg.Connections.HeartbeatInterval, DefaultHeartbeatInterval)
	}
	if cfg.Connections.ReconnectBaseDelay != DefaultReconnectBaseDelay {
		t.Errorf("Connections.ReconnectBaseDelay = %v, want %v", cfg.Connections.ReconnectBaseDelay, DefaultReconnectBaseDelay)
	}
	if cfg.Connections.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Errorf("Connections.MaxReconnectAttempts = %d, want %d", cfg.Connections.MaxReconnectAttempts, DefaultMaxReconnectAttempts)
	}
	if cfg.Journal.Enabled {
		t.Error("Journal.Enabled should default to false")
	}
	if cfg.Journal.BatchSize != DefaultBatchSize {
		t.Errorf("Journal.BatchSize = %d, want %d", cfg.Journal.BatchSize, DefaultBatchSize)
	}
	if cfg.Journal.Database.Port != DefaultDBPort {
		t.Errorf("Journal.Database.Port = %d, want %d", cfg.Journal.Database.Port, DefaultDBPort)
	}
	if cfg.Journal.Database.SSLMode != DefaultDBSSLMode {
		t.Errorf("Journal.Database.SSLMode = %q, want %q", cfg.Journal.Database.SSLMode, DefaultDBSSLMode)
	}
	if cfg.Logging.Level != DefaultLogLevel {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, DefaultLogLevel)
	}
	if cfg.Logging.Format != DefaultLogFormat {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, DefaultLogFormat)
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, "logging:\n  level: debug\n")
	if _, err := LoadAndValidate(path); err == nil || !strings.Contains(err.Error(), "server.ws_url is required") {
		t.Errorf("LoadAndValidate() = %v, want ws_url error", err)
	}

	path = writeTempFile(t, "server:\n  ws_url: ws://localhost:8000/ws\n")
	cfg, err := LoadAndValidate(path)
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}
	if cfg.Server.WSURL != "ws://localhost:8000/ws" {
		t.Errorf("Server.WSURL = %q", cfg.Server.WSURL)
	}
}

func TestValidate(t *testing.T) {
	valid := func() WatcherConfig {
		cfg := WatcherConfig{Server: ServerConfig{WSURL: "ws://localhost:8000/ws"}}
		cfg.applyDefaults()
		return cfg
	}
	validDB := DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 4, MinConns: 1}

	tests := []struct {
		name    string
		mutate  func(*WatcherConfig)
		wantErr string
	}{
		{
			name:    "missing ws url",
			mutate:  func(c *WatcherConfig) { c.Server.WSURL = "" },
			wantErr: "server.ws_url is required",
		},
		{
			name:    "http scheme",
			mutate:  func(c *WatcherConfig) { c.Server.WSURL = "http://localhost:8000/ws" },
			wantErr: `server.ws_url must use ws or wss, got "http"`,
		},
		{
			name:    "fragment",
			mutate:  func(c *WatcherConfig) { c.Server.WSURL = "ws://localhost:8000/ws#live" },
			wantErr: "server.ws_url must not have a fragment",
		},
		{
			name:    "token in query",
			mutate:  func(c *WatcherConfig) { c.Server.WSURL = "ws://localhost:8000/ws?token=abc" },
			wantErr: "server.ws_url must not carry a token parameter",
		},
		{
			name:    "query allowed",
			mutate:  func(c *WatcherConfig) { c.Server.WSURL = "ws://localhost:8000/ws?tenant=acme" },
			wantErr: "",
		},
		{
			name:    "zero heartbeat",
			mutate:  func(c *WatcherConfig) { c.Connections.HeartbeatInterval = -time.Second },
			wantErr: "connections.heartbeat_interval must be > 0",
		},
		{
			name:    "negative attempts",
			mutate:  func(c *WatcherConfig) { c.Connections.MaxReconnectAttempts = -1 },
			wantErr: "connections.max_reconnect_attempts must be >= 0",
		},
		{
			name:    "journal without database host",
			mutate:  func(c *WatcherConfig) { c.Journal.Enabled = true },
			wantErr: "journal.database.host is required",
		},
		{
			name: "journal missing password",
			mutate: func(c *WatcherConfig) {
				c.Journal.Enabled = true
				c.Journal.Database = DBConfig{Host: "localhost", Name: "db", User: "user", MaxConns: 4}
			},
			wantErr: "journal.database.password is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *WatcherConfig) {
				c.Journal.Enabled = true
				c.Journal.Database = validDB
				c.Journal.Database.MinConns = 10
			},
			wantErr: "journal.database.min_conns (10) cannot exceed max_conns (4)",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *WatcherConfig) { c.Logging.Level = "trace" },
			wantErr: `logging.level must be debug, info, warn or error, got "trace"`,
		},
		{
			name:    "unknown log format",
			mutate:  func(c *WatcherConfig) { c.Logging.Format = "xml" },
			wantErr: `logging.format must be text or json, got "xml"`,
		},
		{
			name: "disabled journal ignores database",
			mutate: func(c *WatcherConfig) {
				c.Journal.Database = DBConfig{}
			},
			wantErr: "",
		},
		{
			name: "valid config with journal",
			mutate: func(c *WatcherConfig) {
				c.Journal.Enabled = true
				c.Journal.Database = validDB
			},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLevel(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("ParseLevel(verbose) should fail")
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
