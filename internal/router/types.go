package router

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rickgao/fleetsync/internal/model"
)

// Push channel frame types.
const (
	TypeStatusUpdate   = "status_update"
	TypeBotStarted     = "bot_started"
	TypeBotStartFailed = "bot_start_failed"
	TypeBotStopped     = "bot_stopped"
	TypeChatMessage    = "chat_message"
)

// Errors
var (
	ErrMissingType = errors.New("frame has no type")
	ErrMissingData = errors.New("frame has no data")
	ErrEmptyText   = errors.New("chat message has no text")
	ErrBadTime     = errors.New("unrecognized timestamp")
)

// RouterConfig holds configuration for the Message Router.
type RouterConfig struct {
	QueueSize     int // Base queue capacity and first high-water warning depth. Default: 256
	MaxQueueDepth int // Oldest frames are evicted beyond this depth; <= 0 is unbounded. Default: 65536
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		QueueSize:     256,
		MaxQueueDepth: 65536,
	}
}

// Handler receives classified frames, one at a time, in arrival order.
type Handler interface {
	// HandleStatus receives a status_update payload. botID is the envelope
	// identity and may be empty.
	HandleStatus(botID string, data json.RawMessage)

	// HandleBotEvent receives a one-shot bot lifecycle notification.
	HandleBotEvent(ev BotEvent)

	// HandleChat receives a pushed chat entry. ID may be empty.
	HandleChat(msg model.ChatMessage)
}

// EventKind distinguishes bot lifecycle notifications.
type EventKind string

const (
	EventStarted     EventKind = TypeBotStarted
	EventStartFailed EventKind = TypeBotStartFailed
	EventStopped     EventKind = TypeBotStopped
)

// BotEvent is a one-shot bot lifecycle notification.
type BotEvent struct {
	Kind  EventKind
	BotID string
	Error string
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived int64            `json:"messages_received"`
	MessagesRouted   int64            `json:"messages_routed"`
	ParseErrors      int64            `json:"parse_errors"`
	UnknownMessages  int64            `json:"unknown_messages"`
	ByType           map[string]int64 `json:"by_type"`
	Queue            QueueStats       `json:"queue"`
}

// Wire types for JSON parsing

// envelope is the outer shape of every push frame.
type envelope struct {
	Type  string          `json:"type"`
	BotID string          `json:"bot_id"`
	Data  json.RawMessage `json:"data"`
}

// botEventWire is the data of bot_started / bot_start_failed / bot_stopped.
type botEventWire struct {
	BotID string `json:"bot_id"`
	Error string `json:"error"`
}

// chatWire is the data of chat_message. Timestamp is RFC 3339 text or unix
// milliseconds.
type chatWire struct {
	ID        string          `json:"id"`
	Origin    string          `json:"origin"`
	Text      string          `json:"text"`
	Timestamp json.RawMessage `json:"timestamp"`
}

func parseTimestamp(raw json.RawMessage) (time.Time, bool, error) {
	if isAbsent(raw) {
		return time.Time{}, false, nil
	}

	var ms json.Number
	if err := json.Unmarshal(raw, &ms); err == nil {
		n, err := ms.Int64()
		if err != nil {
			return time.Time{}, false, ErrBadTime
		}
		return time.UnixMilli(n).UTC(), true, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, false, ErrBadTime
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false, ErrBadTime
	}
	return ts, true, nil
}

func parseOrigin(s string) model.Origin {
	switch model.Origin(s) {
	case model.OriginUser, model.OriginError:
		return model.Origin(s)
	}
	return model.OriginAgent
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
