package config

import (
	"time"

	"github.com/klynaa/realtime/internal/geo"
)

// Config is the root configuration for a worker agent.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Worker   WorkerConfig   `yaml:"worker"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Journal  JournalConfig  `yaml:"journal"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// APIConfig holds REST API settings and credentials.
type APIConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Token         string        `yaml:"token"`      // Access token; obtained with username/password when empty
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	TokenFile     string        `yaml:"token_file"` // Persists tokens between runs when set
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	RefreshWindow time.Duration `yaml:"refresh_window"`
}

// WorkerConfig describes the worker this agent acts for.
type WorkerConfig struct {
	ID                   string         `yaml:"id"` // Defaults to the token's user_id
	Active               bool           `yaml:"active"`
	AutoAccept           bool           `yaml:"auto_accept"`
	TrackingInterval     time.Duration  `yaml:"tracking_interval"`
	Route                []geo.Position `yaml:"route"`
	FallbackPollInterval time.Duration  `yaml:"fallback_poll_interval"` // REST polling while the channel is down (0 = off)
}

// RealtimeConfig holds WebSocket connection manager settings.
type RealtimeConfig struct {
	BaseURL              string        `yaml:"base_url"`
	MaxReconnectAttempts *int          `yaml:"max_reconnect_attempts"` // 0 disables automatic reconnects
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	ReadLimit            int64         `yaml:"read_limit"`
}

// ReconnectAttempts returns the configured reconnect limit, or the default
// when unset.
func (r RealtimeConfig) ReconnectAttempts() int {
	if r.MaxReconnectAttempts == nil {
		return DefaultMaxReconnectAttempts
	}
	return *r.MaxReconnectAttempts
}

// JournalConfig holds the event journal settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
