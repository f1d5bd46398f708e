package ledger

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mingqiu/abacus/internal/config"
	"github.com/mingqiu/abacus/internal/domain"
)

// Validator is the sole gatekeeper for ledger input. It turns a RawTrade into
// a canonical Record or rejects it with a ValidationError naming the violated
// rule. Rules are checked in a fixed order and short-circuit on the first
// failure.
type Validator struct {
	limits config.Limits
	clock  func() time.Time
	log    zerolog.Logger
}

// NewValidator creates a validator with the given bounds. clock may be nil, in
// which case time.Now is used; it exists so tests can pin "now" for the
// soft timestamp warnings.
func NewValidator(limits config.Limits, clock func() time.Time, log zerolog.Logger) *Validator {
	if clock == nil {
		clock = time.Now
	}
	return &Validator{
		limits: limits,
		clock:  clock,
		log:    log.With().Str("component", "validator").Logger(),
	}
}

// Canonicalize validates a raw trade and returns the canonical record.
func (v *Validator) Canonicalize(raw RawTrade) (Record, error) {
	// Rule 1: all fields present
	if raw.Code == nil {
		return Record{}, &domain.ValidationError{Field: "code", Reason: "field is required"}
	}
	if raw.Quantity == nil {
		return Record{}, &domain.ValidationError{Field: "quantity", Reason: "field is required"}
	}
	if raw.Price == nil {
		return Record{}, &domain.ValidationError{Field: "price", Reason: "field is required"}
	}
	if raw.Commission == nil {
		return Record{}, &domain.ValidationError{Field: "commission", Reason: "field is required"}
	}
	if raw.At == nil && raw.Timestamp == nil {
		return Record{}, &domain.ValidationError{Field: "timestamp", Reason: "field is required"}
	}

	// Rule 2: instrument code is exactly 6 numeric characters
	code := strings.TrimSpace(*raw.Code)
	if !isNumericCode(code) {
		return Record{}, &domain.ValidationError{
			Field:  "code",
			Reason: "must be exactly 6 numeric characters",
			Value:  code,
		}
	}

	// Rule 3: quantity is a non-zero integer within bounds
	qf := *raw.Quantity
	if qf != math.Trunc(qf) {
		return Record{}, &domain.ValidationError{
			Field:  "quantity",
			Reason: "must be a whole number of shares",
			Value:  fmt.Sprintf("%v", qf),
		}
	}
	quantity := int64(qf)
	if quantity == 0 {
		return Record{}, &domain.ValidationError{Field: "quantity", Reason: "must be non-zero"}
	}
	if abs64(quantity) > v.limits.MaxQuantity {
		return Record{}, &domain.ValidationError{
			Field:  "quantity",
			Reason: fmt.Sprintf("absolute value exceeds limit %d", v.limits.MaxQuantity),
			Value:  fmt.Sprintf("%d", quantity),
		}
	}

	// Rule 4: price is positive and within bounds, rounded to 2 decimals
	price := *raw.Price
	if price <= 0 {
		return Record{}, &domain.ValidationError{
			Field:  "price",
			Reason: "must be positive",
			Value:  fmt.Sprintf("%v", price),
		}
	}
	if price > v.limits.MaxPrice {
		return Record{}, &domain.ValidationError{
			Field:  "price",
			Reason: fmt.Sprintf("exceeds limit %.2f", v.limits.MaxPrice),
			Value:  fmt.Sprintf("%v", price),
		}
	}
	price = round2(price)

	// Rule 5: commission is non-negative and within bounds, rounded to 2 decimals
	commission := *raw.Commission
	if commission < 0 {
		return Record{}, &domain.ValidationError{
			Field:  "commission",
			Reason: "must be non-negative",
			Value:  fmt.Sprintf("%v", commission),
		}
	}
	if commission > v.limits.MaxCommission {
		return Record{}, &domain.ValidationError{
			Field:  "commission",
			Reason: fmt.Sprintf("exceeds limit %.2f", v.limits.MaxCommission),
			Value:  fmt.Sprintf("%v", commission),
		}
	}
	commission = round2(commission)

	// Rule 6: timestamp is structured or parseable; implausible values are
	// accepted with a warning, not rejected
	var executedAt time.Time
	if raw.At != nil {
		executedAt = *raw.At
	} else {
		parsed, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(*raw.Timestamp), time.Local)
		if err != nil {
			return Record{}, &domain.ValidationError{
				Field:  "timestamp",
				Reason: "must match format YYYY-MM-DD HH:MM:SS",
				Value:  *raw.Timestamp,
			}
		}
		executedAt = parsed
	}

	now := v.clock()
	if executedAt.After(now) {
		v.log.Warn().
			Str("code", code).
			Time("executed_at", executedAt).
			Msg("Trade timestamp is in the future")
	} else if executedAt.Before(now.AddDate(-10, 0, 0)) {
		v.log.Warn().
			Str("code", code).
			Time("executed_at", executedAt).
			Msg("Trade timestamp is more than 10 years old")
	}

	return Record{
		Code:       code,
		Quantity:   quantity,
		Price:      price,
		Commission: commission,
		ExecutedAt: executedAt,
	}, nil
}

// Validate checks an already-canonical record against the same bounds.
// Used by the store to refuse records that bypassed Canonicalize.
func (v *Validator) Validate(r Record) error {
	if !isNumericCode(r.Code) {
		return &domain.ValidationError{Field: "code", Reason: "must be exactly 6 numeric characters", Value: r.Code}
	}
	if r.Quantity == 0 {
		return &domain.ValidationError{Field: "quantity", Reason: "must be non-zero"}
	}
	if abs64(r.Quantity) > v.limits.MaxQuantity {
		return &domain.ValidationError{
			Field:  "quantity",
			Reason: fmt.Sprintf("absolute value exceeds limit %d", v.limits.MaxQuantity),
			Value:  fmt.Sprintf("%d", r.Quantity),
		}
	}
	if r.Price <= 0 || r.Price > v.limits.MaxPrice {
		return &domain.ValidationError{
			Field:  "price",
			Reason: fmt.Sprintf("must be positive and at most %.2f", v.limits.MaxPrice),
			Value:  fmt.Sprintf("%v", r.Price),
		}
	}
	if r.Commission < 0 || r.Commission > v.limits.MaxCommission {
		return &domain.ValidationError{
			Field:  "commission",
			Reason: fmt.Sprintf("must be non-negative and at most %.2f", v.limits.MaxCommission),
			Value:  fmt.Sprintf("%v", r.Commission),
		}
	}
	if r.ExecutedAt.IsZero() {
		return &domain.ValidationError{Field: "timestamp", Reason: "field is required"}
	}
	return nil
}

func isNumericCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
