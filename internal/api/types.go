package api

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/fleetsync/internal/model"
)

// Errors
var (
	ErrEmptyStatus = errors.New("empty status response")
	ErrChatFailed  = errors.New("chat request failed")
	ErrEmptyReply  = errors.New("chat reply has no text")
)

// APITrade is one executed order from GET /api/trades.
type APITrade struct {
	Time        int64           `json:"time"` // unix milliseconds
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	ExecutedQty decimal.Decimal `json:"executed_qty"`
	QuoteQty    decimal.Decimal `json:"quote_qty"`
	Status      string          `json:"status"`
}

// TradesResponse from GET /api/trades. The backend returns either a bare
// array or an object wrapping it.
type TradesResponse struct {
	Trades []APITrade `json:"trades"`
}

// UnmarshalJSON accepts both response shapes.
func (r *TradesResponse) UnmarshalJSON(data []byte) error {
	if trimmed := strings.TrimSpace(string(data)); strings.HasPrefix(trimmed, "[") {
		return json.Unmarshal(data, &r.Trades)
	}

	type wrapped TradesResponse
	var w wrapped
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = TradesResponse(w)
	return nil
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse from POST /api/chat.
type ChatResponse struct {
	ID        string `json:"id,omitempty"`
	Response  string `json:"response"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp,omitempty"` // RFC 3339
}

// ToTradeRecord converts an APITrade to model.TradeRecord. The second result
// is false when the side is not BUY or SELL.
func (t APITrade) ToTradeRecord() (model.TradeRecord, bool) {
	side, ok := model.ParseSide(t.Side)
	return model.TradeRecord{
		Timestamp:   time.UnixMilli(t.Time).UTC(),
		Symbol:      t.Symbol,
		Side:        side,
		ExecutedQty: t.ExecutedQty,
		QuoteQty:    t.QuoteQty,
		Status:      t.Status,
	}, ok
}
