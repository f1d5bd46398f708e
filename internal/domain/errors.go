package domain

import "fmt"

// ValidationError reports a proposed trade that violated a validation rule.
// Rejected before any durable write.
type ValidationError struct {
	Field  string // field that failed validation
	Reason string // human-readable rule description
	Value  string // observed value, formatted for reporting
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s (got %s)", e.Field, e.Reason, e.Value)
}

// InsufficientFundsError reports a buy whose total cost exceeds available cash.
// Enforced at the order-execution boundary, not by the ledger.
type InsufficientFundsError struct {
	Required  float64
	Available float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: order requires %.2f but only %.2f is available", e.Required, e.Available)
}

// InsufficientPositionError reports a sell that exceeds the settlement-eligible
// quantity of a position.
type InsufficientPositionError struct {
	Code      string
	Requested int64
	Closeable int64
}

func (e *InsufficientPositionError) Error() string {
	return fmt.Sprintf("requested sell quantity %d exceeds closeable quantity %d for %s", e.Requested, e.Closeable, e.Code)
}

// PriceUnavailableError reports that the quote oracle could not resolve a
// tradable price. Blocks buys and sells; read-only valuation falls back to the
// last trade price instead.
type PriceUnavailableError struct {
	Code string
	Err  error
}

func (e *PriceUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("no tradable price for %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("no tradable price for %s", e.Code)
}

func (e *PriceUnavailableError) Unwrap() error { return e.Err }

// PersistenceError reports a failed ledger store operation. The operation is
// fail-closed: the trade must not be considered applied.
type PersistenceError struct {
	Op  string // "append" or "read"
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
