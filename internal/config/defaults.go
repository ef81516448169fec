package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL          = "http://localhost:8000"
	DefaultWSURL            = "ws://localhost:8000/ws"
	DefaultAPITimeout       = 10 * time.Second
	DefaultMaxRetries       = 3
	DefaultReconnectDelay   = 3 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultPingTimeout      = 90 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultBufferSize       = 1000
	DefaultPollInterval     = 5 * time.Second
	DefaultBackstopSchedule = "@every 30s"
	DefaultPollTimeout      = 10 * time.Second
	DefaultStatusWindow     = 1 * time.Second
	DefaultLedgerSource     = LedgerSourceAPI
	DefaultLedgerLimit      = 0 // whole ledger; a limit moves the series baseline
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 4
	DefaultMinConns         = 1
	DefaultHealthPort       = 8080
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"

	// BackstopOff disables the unconditional backstop pull.
	BackstopOff = "off"
)

func (c *Config) applyDefaults() {
	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.WSURL == "" {
		c.API.WSURL = DefaultWSURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Connection defaults
	if c.Connection.ReconnectDelay == 0 {
		c.Connection.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.PingTimeout == 0 {
		c.Connection.PingTimeout = DefaultPingTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.BufferSize == 0 {
		c.Connection.BufferSize = DefaultBufferSize
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.BackstopSchedule == "" {
		c.Poller.BackstopSchedule = DefaultBackstopSchedule
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}

	// Throttle defaults
	if c.Throttle.StatusWindow == 0 {
		c.Throttle.StatusWindow = DefaultStatusWindow
	}

	// Ledger defaults
	if c.Ledger.Source == "" {
		c.Ledger.Source = DefaultLedgerSource
	}
	applyDBDefaults(&c.Ledger.Database)

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
