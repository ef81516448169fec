package connection

import (
	"errors"
	"time"

	"github.com/rickgao/fleetsync/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrNotStarted      = errors.New("manager not started")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// FrameHandler consumes frames from the push channel. HandleFrame is called
// from a single goroutine per connection, in arrival order.
type FrameHandler interface {
	HandleFrame(data []byte)
}

// FrameHandlerFunc adapts a function to FrameHandler.
type FrameHandlerFunc func(data []byte)

// HandleFrame calls f(data).
func (f FrameHandlerFunc) HandleFrame(data []byte) { f(data) }

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., ws://localhost:8000/ws)
	HandshakeTimeout time.Duration // Dial handshake deadline
	PingInterval     time.Duration // Keepalive ping cadence
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for control frames
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      90 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

// ManagerConfig configures the Manager.
type ManagerConfig struct {
	Client         ClientConfig
	ReconnectDelay time.Duration // Fixed wait between a drop and the next attempt
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Client:         DefaultClientConfig(),
		ReconnectDelay: 3 * time.Second,
	}
}

// ManagerStats provides statistics about the push channel.
type ManagerStats struct {
	State      model.ConnectionState `json:"state"`
	Attempts   int64                 `json:"attempts"`   // dials started
	Reconnects int64                 `json:"reconnects"` // timer-driven attempts
	Drops      int64                 `json:"drops"`      // failed dials and lost connections
	Frames     int64                 `json:"frames"`     // frames handed to the handler
}
