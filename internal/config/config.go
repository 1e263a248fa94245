package config

import "time"

// WatcherConfig is the root configuration for the realtime watcher.
type WatcherConfig struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Auth        AuthConfig        `yaml:"auth" toml:"auth"`
	Connections ConnectionsConfig `yaml:"connections" toml:"connections"`
	Journal     JournalConfig     `yaml:"journal" toml:"journal"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the realtime endpoint.
type ServerConfig struct {
	WSURL string `yaml:"ws_url" toml:"ws_url"` // Base WebSocket URL; logical paths are appended
}

// AuthConfig locates the persisted credential store.
type AuthConfig struct {
	StorePath string `yaml:"store_path" toml:"store_path"` // YAML key/value file
	TokenKey  string `yaml:"token_key" toml:"token_key"`   // Key holding the bearer token
}

// ConnectionsConfig holds connection manager settings.
type ConnectionsConfig struct {
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay" toml:"reconnect_base_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" toml:"max_reconnect_attempts"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout" toml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout" toml:"write_timeout"`
}

// JournalConfig holds the optional event archive settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled" toml:"enabled"`
	BatchSize     int           `yaml:"batch_size" toml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval" toml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size" toml:"buffer_size"`
	Database      DBConfig      `yaml:"database" toml:"database"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Name     string `yaml:"name" toml:"name"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
	SSLMode  string `yaml:"ssl_mode" toml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns" toml:"max_conns"`
	MinConns int    `yaml:"min_conns" toml:"min_conns"`
}

// LoggingConfig selects the log level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // text or json
}
