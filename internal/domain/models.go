// Package domain provides core domain models and the error taxonomy shared
// across modules.
package domain

import "time"

// Side represents the direction of an order
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order is the confirmation returned for every accepted order. Quantity is
// always positive; Side carries the direction. The signed quantity written to
// the ledger is Quantity negated for sells.
type Order struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	Side       Side      `json:"side"`
	Quantity   int64     `json:"quantity"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	ExecutedAt time.Time `json:"executed_at"`
}

// SignedQuantity returns the ledger representation of the order quantity
// (negative for sells).
func (o Order) SignedQuantity() int64 {
	if o.Side == SideSell {
		return -o.Quantity
	}
	return o.Quantity
}
