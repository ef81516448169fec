package config

import "time"

// Config is the root configuration for a fleetsync process.
type Config struct {
	API        APIConfig        `yaml:"api"`
	Connection ConnectionConfig `yaml:"connection"`
	Poller     PollerConfig     `yaml:"poller"`
	Throttle   ThrottleConfig   `yaml:"throttle"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Health     HealthConfig     `yaml:"health"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// APIConfig holds bot backend endpoints.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	WSURL      string        `yaml:"ws_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// ConnectionConfig holds push channel settings.
type ConnectionConfig struct {
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	BufferSize       int           `yaml:"buffer_size"`
}

// PollerConfig holds fallback poller settings.
type PollerConfig struct {
	Interval         time.Duration `yaml:"interval"`
	BackstopSchedule string        `yaml:"backstop_schedule"` // cron spec, or "off"
	Timeout          time.Duration `yaml:"timeout"`
}

// Backstop returns the cron spec to schedule, or "" when disabled.
func (p PollerConfig) Backstop() string {
	if p.BackstopSchedule == BackstopOff {
		return ""
	}
	return p.BackstopSchedule
}

// ThrottleConfig holds update throttling settings.
type ThrottleConfig struct {
	StatusWindow time.Duration `yaml:"status_window"`
}

// Ledger sources.
const (
	LedgerSourceAPI      = "api"
	LedgerSourcePostgres = "postgres"
)

// LedgerConfig selects where the trade ledger is read from.
type LedgerConfig struct {
	Source   string   `yaml:"source"` // "api" or "postgres"
	Limit    int      `yaml:"limit"` // most recent trades to read; 0 reads all
	Database DBConfig `yaml:"database"`
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

// HealthConfig holds the debug/health HTTP server settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}
