// Package trading implements the order executor, the sole mutation surface
// over the trade ledger.
package trading

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mingqiu/abacus/internal/clients/quotes"
	"github.com/mingqiu/abacus/internal/config"
	"github.com/mingqiu/abacus/internal/domain"
	"github.com/mingqiu/abacus/internal/events"
	"github.com/mingqiu/abacus/internal/modules/ledger"
	"github.com/mingqiu/abacus/internal/modules/portfolio"
)

// Executor places orders against reconstructed portfolio state. Every
// operation replays the ledger first so decisions use durable truth, then
// appends exactly one record on success and nothing on failure. A mutex
// serializes order placement: the ledger is single-writer.
type Executor struct {
	mu         sync.Mutex
	repo       *ledger.Repository
	validator  *ledger.Validator
	recon      *portfolio.Reconstructor
	quotes     quotes.Provider
	commission config.CommissionSchedule
	events     *events.Manager
	clock      func() time.Time
	log        zerolog.Logger
}

// NewExecutor creates the order executor. clock may be nil, in which case
// time.Now stamps executions.
func NewExecutor(
	repo *ledger.Repository,
	validator *ledger.Validator,
	recon *portfolio.Reconstructor,
	provider quotes.Provider,
	commission config.CommissionSchedule,
	eventManager *events.Manager,
	clock func() time.Time,
	log zerolog.Logger,
) *Executor {
	if clock == nil {
		clock = time.Now
	}
	return &Executor{
		repo:       repo,
		validator:  validator,
		recon:      recon,
		quotes:     provider,
		commission: commission,
		events:     eventManager,
		clock:      clock,
		log:        log.With().Str("service", "executor").Logger(),
	}
}

// Buy places a market buy for quantity shares. Rejected if the oracle cannot
// price the instrument or the total cost exceeds available cash.
func (e *Executor) Buy(code string, quantity int64) (*domain.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buy(code, quantity)
}

// Sell places a market sell for quantity shares. Rejected, never clamped, if
// quantity exceeds the settlement-eligible holding.
func (e *Executor) Sell(code string, quantity int64) (*domain.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sell(code, quantity)
}

// RebalanceToTarget buys or sells whatever closes the gap between the current
// holding and target shares. Returns (nil, nil) when no trade is needed.
func (e *Executor) RebalanceToTarget(code string, target int64) (*domain.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if target < 0 {
		return nil, &domain.ValidationError{
			Field:  "target",
			Reason: "must be non-negative",
			Value:  formatInt(target),
		}
	}

	snapshot, err := e.recon.Replay()
	if err != nil {
		return nil, err
	}

	var current int64
	if pos, ok := snapshot.Positions[code]; ok {
		current = pos.TotalQuantity
	}

	delta := target - current
	switch {
	case delta > 0:
		return e.buy(code, delta)
	case delta < 0:
		return e.sell(code, -delta)
	default:
		return nil, nil
	}
}

func (e *Executor) buy(code string, quantity int64) (*domain.Order, error) {
	if quantity <= 0 {
		return nil, &domain.ValidationError{
			Field:  "quantity",
			Reason: "must be positive",
			Value:  formatInt(quantity),
		}
	}

	snapshot, err := e.recon.Replay()
	if err != nil {
		return nil, err
	}

	price, err := e.quotes.GetCurrentPrice(code)
	if err != nil {
		e.rejected(code, quantity, domain.SideBuy, err)
		return nil, &domain.PriceUnavailableError{Code: code, Err: err}
	}

	commission := e.commissionFor(quantity, price)
	cost := round2(float64(quantity)*price + commission)
	if cost > snapshot.Cash {
		err := &domain.InsufficientFundsError{Required: cost, Available: snapshot.Cash}
		e.rejected(code, quantity, domain.SideBuy, err)
		return nil, err
	}

	return e.place(code, quantity, price, commission, domain.SideBuy)
}

func (e *Executor) sell(code string, quantity int64) (*domain.Order, error) {
	if quantity <= 0 {
		return nil, &domain.ValidationError{
			Field:  "quantity",
			Reason: "must be positive",
			Value:  formatInt(quantity),
		}
	}

	snapshot, err := e.recon.Replay()
	if err != nil {
		return nil, err
	}

	var closeable int64
	if pos, ok := snapshot.Positions[code]; ok {
		closeable = pos.Closeable
	}
	if quantity > closeable {
		err := &domain.InsufficientPositionError{
			Code:      code,
			Requested: quantity,
			Closeable: closeable,
		}
		e.rejected(code, quantity, domain.SideSell, err)
		return nil, err
	}

	price, err := e.quotes.GetCurrentPrice(code)
	if err != nil {
		e.rejected(code, quantity, domain.SideSell, err)
		return nil, &domain.PriceUnavailableError{Code: code, Err: err}
	}

	commission := e.commissionFor(quantity, price)
	return e.place(code, quantity, price, commission, domain.SideSell)
}

// place validates and durably appends the trade, then emits the confirmation.
func (e *Executor) place(code string, quantity int64, price, commission float64, side domain.Side) (*domain.Order, error) {
	executedAt := e.clock()

	order := &domain.Order{
		ID:         uuid.New().String(),
		Code:       code,
		Side:       side,
		Quantity:   quantity,
		Price:      round2(price),
		Commission: commission,
		ExecutedAt: executedAt,
	}

	record := ledger.Record{
		Code:       code,
		Quantity:   order.SignedQuantity(),
		Price:      order.Price,
		Commission: order.Commission,
		ExecutedAt: executedAt,
	}

	if err := e.validator.Validate(record); err != nil {
		e.rejected(code, quantity, side, err)
		return nil, err
	}

	if _, err := e.repo.Append(record); err != nil {
		e.rejected(code, quantity, side, err)
		return nil, err
	}

	e.log.Info().
		Str("order_id", order.ID).
		Str("code", code).
		Str("side", string(side)).
		Int64("quantity", quantity).
		Float64("price", order.Price).
		Float64("commission", order.Commission).
		Msg("Order executed")

	e.events.Emit(events.EventTradeExecuted, "trading", map[string]interface{}{
		"order_id":   order.ID,
		"code":       code,
		"side":       string(side),
		"quantity":   quantity,
		"price":      order.Price,
		"commission": order.Commission,
	})

	return order, nil
}

// commissionFor applies the proportional rate with a minimum fee per order.
func (e *Executor) commissionFor(quantity int64, price float64) float64 {
	commission := round2(float64(quantity) * price * e.commission.Rate)
	if commission < e.commission.MinFee {
		commission = e.commission.MinFee
	}
	return commission
}

func (e *Executor) rejected(code string, quantity int64, side domain.Side, err error) {
	e.log.Warn().
		Err(err).
		Str("code", code).
		Str("side", string(side)).
		Int64("quantity", quantity).
		Msg("Order rejected")

	e.events.Emit(events.EventOrderRejected, "trading", map[string]interface{}{
		"code":     code,
		"side":     string(side),
		"quantity": quantity,
		"reason":   err.Error(),
	})
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
