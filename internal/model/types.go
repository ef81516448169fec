package model

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Fleet Status
// -----------------------------------------------------------------------------

// BotID identifies one running bot instance.
type BotID string

// FallbackBotID is the reserved key used for status payloads that carry no
// recoverable identity.
const FallbackBotID BotID = "default"

// BotConfig is the trading configuration a bot was started with.
type BotConfig struct {
	Strategy string          `json:"strategy"`
	Symbol   string          `json:"symbol"`
	Amount   decimal.Decimal `json:"amount"`
}

// BotStatus is the last observed state of one bot.
type BotStatus struct {
	BotID     BotID                      `json:"bot_id"`
	IsRunning bool                       `json:"is_running"`
	Config    BotConfig                  `json:"config"`
	Balances  map[string]decimal.Decimal `json:"balances"` // asset symbol → quantity
}

// Clone returns a deep copy of the status.
func (s BotStatus) Clone() BotStatus {
	out := s
	if s.Balances != nil {
		out.Balances = make(map[string]decimal.Decimal, len(s.Balances))
		for asset, qty := range s.Balances {
			out.Balances[asset] = qty
		}
	}
	return out
}

// FleetStatus maps every observed bot to its latest status.
type FleetStatus map[BotID]BotStatus

// Clone returns a deep copy of the fleet map. A nil map clones to an empty one.
func (f FleetStatus) Clone() FleetStatus {
	out := make(FleetStatus, len(f))
	for id, status := range f {
		out[id] = status.Clone()
	}
	return out
}

// IDs returns the bot identities in sorted order.
func (f FleetStatus) IDs() []BotID {
	ids := make([]BotID, 0, len(f))
	for id := range f {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// -----------------------------------------------------------------------------
// Chat
// -----------------------------------------------------------------------------

// Origin identifies who produced a chat entry.
type Origin string

const (
	OriginUser  Origin = "user"
	OriginAgent Origin = "agent"
	OriginError Origin = "error"
)

// ChatMessage is one entry of the chat transcript.
// Identity for deduplication is (Text, Timestamp), not ID.
type ChatMessage struct {
	ID        string    `json:"id"`
	Origin    Origin    `json:"origin"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// -----------------------------------------------------------------------------
// Trades & Performance
// -----------------------------------------------------------------------------

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalizes a side string. Unknown values return ok=false.
func ParseSide(s string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy, true
	case "SELL":
		return SideSell, true
	}
	return "", false
}

// TradeRecord is one executed order from the trade ledger.
type TradeRecord struct {
	Timestamp   time.Time       `json:"timestamp"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	ExecutedQty decimal.Decimal `json:"executed_qty"`
	QuoteQty    decimal.Decimal `json:"quote_qty"`
	Status      string          `json:"status"`
}

// PerformancePoint is one sample of the derived running-balance series.
type PerformancePoint struct {
	Index   int             `json:"index"` // 1-based, chronological
	Label   string          `json:"label"`
	Balance decimal.Decimal `json:"balance"`
	Side    Side            `json:"side"`
}

// -----------------------------------------------------------------------------
// Push Channel
// -----------------------------------------------------------------------------

// ConnectionState is the lifecycle state of the push channel.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns the human-readable state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// MarshalText renders the state as its name in JSON output.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
