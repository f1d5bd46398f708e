// Package ledger implements the append-only trade ledger: canonical trade
// records, the validator that gatekeeps them, and the durable store.
package ledger

import "time"

// TimeLayout is the canonical timestamp format used in the ledger store.
const TimeLayout = "2006-01-02 15:04:05"

// parseStoredTime parses a timestamp in the canonical store format.
func parseStoredTime(s string) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, s, time.Local)
}

// Record is a canonical, immutable trade. Quantity is signed: positive for
// buys, negative for sells. Records are appended once and never mutated;
// corrections are new offsetting trades.
type Record struct {
	ID         int64     `json:"id"` // assigned by the store on append
	Code       string    `json:"code"`
	Quantity   int64     `json:"quantity"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	ExecutedAt time.Time `json:"executed_at"`
}

// RawTrade is a proposed trade before validation. Fields are pointers so the
// validator can distinguish missing from zero. Timestamp may arrive either as
// a structured time (At) or a string in TimeLayout form (Timestamp); At wins
// when both are set.
type RawTrade struct {
	Code       *string    `json:"code"`
	Quantity   *float64   `json:"quantity"`
	Price      *float64   `json:"price"`
	Commission *float64   `json:"commission"`
	Timestamp  *string    `json:"timestamp"`
	At         *time.Time `json:"-"`
}
