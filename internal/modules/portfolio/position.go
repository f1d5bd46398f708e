// Package portfolio reconstructs portfolio state from the trade ledger and
// exposes derived views over it.
package portfolio

import (
	"math"
	"time"

	"github.com/mingqiu/abacus/internal/modules/ledger"
)

// Position is derived state, rebuilt on every replay and never persisted.
// Cost accounting is weighted average over buys only: sells shrink the cost
// basis proportionally without moving the average.
type Position struct {
	Code              string    `json:"code"`
	TotalQuantity     int64     `json:"total_quantity"`
	AverageCost       float64   `json:"average_cost"`
	TotalCost         float64   `json:"total_cost"`
	LastTradePrice    float64   `json:"last_trade_price"`
	CurrentPrice      float64   `json:"current_price"`
	MarketValue       float64   `json:"market_value"`
	FirstAcquiredAt   time.Time `json:"first_acquired_at"`
	LastTransactionAt time.Time `json:"last_transaction_at"`
	TodayAcquired     int64     `json:"today_acquired"`
	Closeable         int64     `json:"closeable"`
}

// apply folds one trade into the position. today is the replay's calendar day,
// used for the settlement restriction on same-day buys.
func (p *Position) apply(trade ledger.Record, today time.Time) {
	if p.FirstAcquiredAt.IsZero() && trade.Quantity > 0 {
		p.FirstAcquiredAt = trade.ExecutedAt
	}

	p.TotalQuantity += trade.Quantity
	p.LastTradePrice = trade.Price
	p.LastTransactionAt = trade.ExecutedAt

	if trade.Quantity > 0 {
		p.TotalCost += float64(trade.Quantity)*trade.Price + trade.Commission
		p.AverageCost = p.TotalCost / float64(p.TotalQuantity)
		if sameDay(trade.ExecutedAt, today) {
			p.TodayAcquired += trade.Quantity
		}
	} else {
		sold := -trade.Quantity
		p.TotalCost -= float64(sold) * p.AverageCost
	}

	if p.TotalQuantity > 0 {
		// Recomputed rather than accumulated so repeated trades cannot drift
		p.Closeable = p.TotalQuantity - p.TodayAcquired
		if p.Closeable < 0 {
			p.Closeable = 0
		}
	} else {
		// Position closed: cost basis and settlement counters reset so a
		// re-open starts from a clean slate
		p.TotalCost = 0
		p.AverageCost = 0
		p.TodayAcquired = 0
		p.Closeable = 0
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
