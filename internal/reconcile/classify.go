package reconcile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rickgao/fleetsync/internal/model"
)

// Errors
var (
	ErrEmptyPayload     = errors.New("empty status payload")
	ErrMalformedPayload = errors.New("malformed status payload")
)

// Kind identifies the shape of a status update.
type Kind int

const (
	KindBot Kind = iota + 1
	KindLegacy
	KindFleet
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindBot:
		return "bot"
	case KindLegacy:
		return "legacy"
	case KindFleet:
		return "fleet"
	default:
		return "unknown"
	}
}

// Update is a classified status payload.
// BotID and Status are set for KindBot and KindLegacy; Fleet for KindFleet.
type Update struct {
	Kind   Kind
	BotID  model.BotID
	Status model.BotStatus
	Fleet  model.FleetStatus
}

// statusFields are the keys that mark an object as a single bot status
// rather than a map of bot statuses.
var statusFields = []string{"is_running", "isRunning", "running", "config", "balances"}

// statusWire is the wire format for a single bot status.
// Quantities may be JSON strings or numbers.
type statusWire struct {
	BotID     string                     `json:"bot_id"`
	BotIDAlt  string                     `json:"botId"`
	ID        string                     `json:"id"`
	IsRunning *bool                      `json:"is_running"`
	IsRunAlt  *bool                      `json:"isRunning"`
	Running   *bool                      `json:"running"`
	Config    *configWire                `json:"config"`
	Balances  map[string]decimal.Decimal `json:"balances"`
}

type configWire struct {
	Strategy string          `json:"strategy"`
	Symbol   string          `json:"symbol"`
	Amount   decimal.Decimal `json:"amount"`
}

// Classify resolves a raw status payload into a typed Update.
// botID is the identity that accompanied the payload, if any.
func Classify(botID string, data json.RawMessage) (Update, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Update{}, ErrEmptyPayload
	}

	if botID != "" {
		status, _, err := decodeStatus(trimmed)
		if err != nil {
			return Update{}, err
		}
		status.BotID = model.BotID(botID)
		return Update{Kind: KindBot, BotID: status.BotID, Status: status}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Update{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if hasStatusField(fields) {
		status, embedded, err := decodeStatus(trimmed)
		if err != nil {
			return Update{}, err
		}
		status.BotID = deriveID(embedded, status.Config)
		return Update{Kind: KindLegacy, BotID: status.BotID, Status: status}, nil
	}

	fleet := make(model.FleetStatus, len(fields))
	for id, raw := range fields {
		status, _, err := decodeStatus(raw)
		if err != nil {
			return Update{}, fmt.Errorf("bot %q: %w", id, err)
		}
		status.BotID = model.BotID(id)
		fleet[status.BotID] = status
	}
	return Update{Kind: KindFleet, Fleet: fleet}, nil
}

func hasStatusField(fields map[string]json.RawMessage) bool {
	for _, key := range statusFields {
		if _, ok := fields[key]; ok {
			return true
		}
	}
	return false
}

// decodeStatus parses one status object. The returned status has no
// identity; the first embedded id field, if any, is returned separately.
func decodeStatus(data []byte) (model.BotStatus, string, error) {
	var wire statusWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return model.BotStatus{}, "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	status := model.BotStatus{
		IsRunning: firstBool(wire.IsRunning, wire.IsRunAlt, wire.Running),
		Balances:  make(map[string]decimal.Decimal, len(wire.Balances)),
	}
	if wire.Config != nil {
		status.Config = model.BotConfig{
			Strategy: wire.Config.Strategy,
			Symbol:   wire.Config.Symbol,
			Amount:   wire.Config.Amount,
		}
	}
	for asset, q := range wire.Balances {
		status.Balances[asset] = q
	}

	var embedded string
	for _, id := range []string{wire.BotID, wire.BotIDAlt, wire.ID} {
		if id != "" {
			embedded = id
			break
		}
	}
	return status, embedded, nil
}

// deriveID recovers a legacy payload's identity: the embedded id first,
// then strategy and symbol from the config, then the fallback key.
func deriveID(embedded string, cfg model.BotConfig) model.BotID {
	if embedded != "" {
		return model.BotID(embedded)
	}
	if cfg.Strategy != "" && cfg.Symbol != "" {
		return model.BotID(strings.ToLower(cfg.Strategy + "_" + cfg.Symbol))
	}
	return model.FallbackBotID
}

func firstBool(vals ...*bool) bool {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return false
}
