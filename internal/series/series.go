package series

import (
	"github.com/shopspring/decimal"

	"github.com/rickgao/fleetsync/internal/model"
)

// LabelLayout is the time layout used for point labels.
const LabelLayout = "Jan 02 15:04:05"

// Build derives the performance series from a most-recent-first ledger.
// An empty ledger yields an empty (non-nil) series.
func Build(ledger []model.TradeRecord) []model.PerformancePoint {
	points := make([]model.PerformancePoint, 0, len(ledger))

	balance := decimal.Zero
	for i := len(ledger) - 1; i >= 0; i-- {
		rec := ledger[i]

		switch rec.Side {
		case model.SideSell:
			balance = balance.Add(rec.QuoteQty)
		case model.SideBuy:
			balance = balance.Sub(rec.QuoteQty)
		}

		points = append(points, model.PerformancePoint{
			Index:   len(points) + 1,
			Label:   rec.Timestamp.Format(LabelLayout),
			Balance: balance,
			Side:    rec.Side,
		})
	}

	return points
}

// Summary aggregates a performance series.
type Summary struct {
	Trades int             `json:"trades"`
	Buys   int             `json:"buys"`
	Sells  int             `json:"sells"`
	Final  decimal.Decimal `json:"final"`
	Peak   decimal.Decimal `json:"peak"`
	Trough decimal.Decimal `json:"trough"`
}

// Summarize reports counts and balance extremes of a series.
// Peak and Trough include the zero starting balance.
func Summarize(points []model.PerformancePoint) Summary {
	s := Summary{
		Trades: len(points),
		Final:  decimal.Zero,
		Peak:   decimal.Zero,
		Trough: decimal.Zero,
	}

	for _, p := range points {
		switch p.Side {
		case model.SideBuy:
			s.Buys++
		case model.SideSell:
			s.Sells++
		}
		if p.Balance.GreaterThan(s.Peak) {
			s.Peak = p.Balance
		}
		if p.Balance.LessThan(s.Trough) {
			s.Trough = p.Balance
		}
		s.Final = p.Balance
	}

	return s
}
