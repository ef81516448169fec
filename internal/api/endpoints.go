package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rickgao/fleetsync/internal/model"
)

// FetchStatus returns the raw status payload. Its shape (one bot or the
// whole fleet) is left to the caller to classify.
func (c *Client) FetchStatus(ctx context.Context) (json.RawMessage, error) {
	body, err := c.doWithRetry(ctx, http.MethodGet, "/api/status", nil)
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, ErrEmptyStatus
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("get status: invalid json")
	}

	return json.RawMessage(body), nil
}

// FetchTrades returns the trade ledger, most recent first. Records with an
// unknown side are kept with an empty Side.
func (c *Client) FetchTrades(ctx context.Context) ([]model.TradeRecord, error) {
	query := url.Values{}
	if c.tradeLimit > 0 {
		query.Set("limit", strconv.Itoa(c.tradeLimit))
	}

	var resp TradesResponse
	if err := c.get(ctx, "/api/trades", query, &resp); err != nil {
		return nil, fmt.Errorf("get trades: %w", err)
	}

	trades := make([]model.TradeRecord, 0, len(resp.Trades))
	for _, t := range resp.Trades {
		rec, ok := t.ToTradeRecord()
		if !ok {
			c.logger.Debug("trade with unknown side", "symbol", t.Symbol, "side", t.Side)
		}
		trades = append(trades, rec)
	}

	return trades, nil
}

// SendChat posts a user message and returns the agent's reply.
func (c *Client) SendChat(ctx context.Context, text string) (model.ChatMessage, error) {
	var resp ChatResponse
	if err := c.post(ctx, "/api/chat", ChatRequest{Message: text}, &resp); err != nil {
		return model.ChatMessage{}, fmt.Errorf("send chat: %w", err)
	}

	if resp.Error != "" {
		return model.ChatMessage{}, fmt.Errorf("%w: %s", ErrChatFailed, resp.Error)
	}
	if resp.Response == "" {
		return model.ChatMessage{}, ErrEmptyReply
	}

	ts := c.now()
	if resp.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339Nano, resp.Timestamp)
		if err != nil {
			return model.ChatMessage{}, fmt.Errorf("send chat: parse timestamp: %w", err)
		}
		ts = parsed
	}

	return model.ChatMessage{
		ID:        resp.ID,
		Origin:    model.OriginAgent,
		Text:      resp.Response,
		Timestamp: ts,
	}, nil
}
