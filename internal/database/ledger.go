package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/rickgao/fleetsync/internal/model"
)

const selectTradesSQL = `
	SELECT executed_at, symbol, side, executed_qty::text, quote_qty::text, status
	FROM trades
	ORDER BY executed_at DESC
`

// A limited ledger moves the series baseline: cumulative profit starts at
// the oldest returned trade, not the first trade ever recorded.
const limitClause = `	LIMIT $1
`

// Querier is the subset of pgxpool.Pool used by LedgerStore.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// LedgerStore reads the most recent trades from the ledger table.
type LedgerStore struct {
	db     Querier
	limit  int
	logger *slog.Logger
}

// NewLedgerStore creates a ledger reader returning at most limit trades per
// fetch. A limit of zero or less reads the whole table.
func NewLedgerStore(db Querier, limit int, logger *slog.Logger) *LedgerStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerStore{
		db:     db,
		limit:  limit,
		logger: logger.With("component", "ledger_store"),
	}
}

// FetchTrades returns the ledger, most recent first.
func (s *LedgerStore) FetchTrades(ctx context.Context) ([]model.TradeRecord, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if s.limit > 0 {
		rows, err = s.db.Query(ctx, selectTradesSQL+limitClause, s.limit)
	} else {
		rows, err = s.db.Query(ctx, selectTradesSQL)
	}
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}

	tradeRows, err := pgx.CollectRows(rows, pgx.RowToStructByPos[tradeRow])
	if err != nil {
		return nil, fmt.Errorf("collect trades: %w", err)
	}

	trades := make([]model.TradeRecord, 0, len(tradeRows))
	for _, row := range tradeRows {
		trade, err := row.toRecord()
		if err != nil {
			s.logger.Warn("skipping malformed ledger row", "symbol", row.Symbol, "executed_at", row.ExecutedAt, "error", err)
			continue
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

type tradeRow struct {
	ExecutedAt  time.Time
	Symbol      string
	Side        string
	ExecutedQty string
	QuoteQty    string
	Status      string
}

// toRecord converts a scanned row. Unknown sides are kept with an empty Side.
func (r tradeRow) toRecord() (model.TradeRecord, error) {
	execQty, err := decimal.NewFromString(r.ExecutedQty)
	if err != nil {
		return model.TradeRecord{}, fmt.Errorf("parse executed_qty %q: %w", r.ExecutedQty, err)
	}
	quoteQty, err := decimal.NewFromString(r.QuoteQty)
	if err != nil {
		return model.TradeRecord{}, fmt.Errorf("parse quote_qty %q: %w", r.QuoteQty, err)
	}

	side, _ := model.ParseSide(r.Side)
	return model.TradeRecord{
		Timestamp:   r.ExecutedAt.UTC(),
		Symbol:      r.Symbol,
		Side:        side,
		ExecutedQty: execQty,
		QuoteQty:    quoteQty,
		Status:      r.Status,
	}, nil
}
