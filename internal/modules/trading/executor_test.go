package trading

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/mingqiu/abacus/internal/clients/quotes"
	"github.com/mingqiu/abacus/internal/config"
	"github.com/mingqiu/abacus/internal/domain"
	"github.com/mingqiu/abacus/internal/events"
	"github.com/mingqiu/abacus/internal/modules/ledger"
	"github.com/mingqiu/abacus/internal/modules/portfolio"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

type stubQuotes map[string]float64

func (s stubQuotes) GetCurrentPrice(code string) (float64, error) {
	price, ok := s[code]
	if !ok {
		return 0, fmt.Errorf("%w: unknown code %s", quotes.ErrUnavailable, code)
	}
	return price, nil
}

type fixture struct {
	executor *Executor
	repo     *ledger.Repository
	events   *events.Manager
	now      time.Time
}

func setup(t *testing.T, prices stubQuotes, startingCash float64) *fixture {
	db, err := sql.Open("sqlite", ":memory:")
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	validator := ledger.NewValidator(config.DefaultLimits(), nil, testLogger())
	repo, err := ledger.NewRepository(db, int64(startingCash), validator, testLogger())
	assert.NoError(t, err)

	f := &fixture{
		repo:   repo,
		events: events.NewManager(testLogger()),
		now:    time.Date(2025, 6, 11, 10, 0, 0, 0, time.Local),
	}
	clock := func() time.Time { return f.now }

	recon := portfolio.NewReconstructor(repo, prices, startingCash, clock, testLogger())
	commission := config.CommissionSchedule{Rate: 0.0003, MinFee: 5.0}
	f.executor = NewExecutor(repo, validator, recon, prices, commission, f.events, clock, testLogger())

	return f
}

func (f *fixture) ledgerCount(t *testing.T) int64 {
	count, err := f.repo.Count()
	assert.NoError(t, err)
	return count
}

func TestBuyAppendsTrade(t *testing.T) {
	f := setup(t, stubQuotes{"600519": 1724.50}, 300_000)

	order, err := f.executor.Buy("600519", 100)
	assert.NoError(t, err)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, domain.SideBuy, order.Side)
	assert.Equal(t, int64(100), order.Quantity)
	assert.Equal(t, 1724.50, order.Price)
	// 100 * 1724.50 * 0.0003 = 51.74 (above the minimum fee)
	assert.Equal(t, 51.74, order.Commission)

	records, err := f.repo.All()
	assert.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int64(100), records[0].Quantity)
}

func TestBuyAppliesMinimumCommission(t *testing.T) {
	f := setup(t, stubQuotes{"000001": 11.20}, 100_000)

	order, err := f.executor.Buy("000001", 100)
	assert.NoError(t, err)
	// 100 * 11.20 * 0.0003 = 0.34, floored to the minimum fee
	assert.Equal(t, 5.0, order.Commission)
}

func TestBuyRejectsWithoutPrice(t *testing.T) {
	f := setup(t, stubQuotes{}, 100_000)

	_, err := f.executor.Buy("600519", 100)
	var pErr *domain.PriceUnavailableError
	assert.True(t, errors.As(err, &pErr))
	assert.Equal(t, "600519", pErr.Code)
	assert.Equal(t, int64(0), f.ledgerCount(t))
}

func TestBuyRejectsInsufficientFunds(t *testing.T) {
	f := setup(t, stubQuotes{"600519": 1724.50}, 10_000)

	_, err := f.executor.Buy("600519", 100)
	var fErr *domain.InsufficientFundsError
	assert.True(t, errors.As(err, &fErr))
	assert.Equal(t, 10_000.0, fErr.Available)
	assert.Equal(t, int64(0), f.ledgerCount(t))
}

func TestBuyRejectsNonPositiveQuantity(t *testing.T) {
	f := setup(t, stubQuotes{"600519": 1724.50}, 300_000)

	for _, quantity := range []int64{0, -10} {
		_, err := f.executor.Buy("600519", quantity)
		var vErr *domain.ValidationError
		assert.True(t, errors.As(err, &vErr))
	}
	assert.Equal(t, int64(0), f.ledgerCount(t))
}

func TestSellRejectsSameDayBuy(t *testing.T) {
	f := setup(t, stubQuotes{"600519": 1724.50}, 300_000)

	_, err := f.executor.Buy("600519", 100)
	assert.NoError(t, err)

	// Shares bought today are not closeable today
	_, err = f.executor.Sell("600519", 100)
	var posErr *domain.InsufficientPositionError
	assert.True(t, errors.As(err, &posErr))
	assert.Equal(t, int64(100), posErr.Requested)
	assert.Equal(t, int64(0), posErr.Closeable)
	assert.Equal(t, int64(1), f.ledgerCount(t))
}

func TestSellAfterSettlement(t *testing.T) {
	f := setup(t, stubQuotes{"600519": 1724.50}, 300_000)

	_, err := f.executor.Buy("600519", 100)
	assert.NoError(t, err)

	// Next trading day: the holding has settled
	f.now = f.now.AddDate(0, 0, 1)

	order, err := f.executor.Sell("600519", 60)
	assert.NoError(t, err)
	assert.Equal(t, domain.SideSell, order.Side)
	assert.Equal(t, int64(60), order.Quantity)

	records, err := f.repo.All()
	assert.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, int64(-60), records[1].Quantity)
}

func TestSellRejectsBeyondCloseable(t *testing.T) {
	f := setup(t, stubQuotes{"600519": 1724.50}, 300_000)

	_, err := f.executor.Buy("600519", 100)
	assert.NoError(t, err)
	f.now = f.now.AddDate(0, 0, 1)

	// Fully settled holding of 100; a sell of 150 is rejected, not clamped
	_, err = f.executor.Sell("600519", 150)
	var posErr *domain.InsufficientPositionError
	assert.True(t, errors.As(err, &posErr))
	assert.Equal(t, int64(150), posErr.Requested)
	assert.Equal(t, int64(100), posErr.Closeable)
	assert.Equal(t, int64(1), f.ledgerCount(t))
}

func TestSellRejectsWithoutPrice(t *testing.T) {
	prices := stubQuotes{"600519": 1724.50}
	f := setup(t, prices, 300_000)

	_, err := f.executor.Buy("600519", 100)
	assert.NoError(t, err)
	f.now = f.now.AddDate(0, 0, 1)

	// Oracle loses the instrument: valuation falls back but trading must not
	delete(prices, "600519")

	_, err = f.executor.Sell("600519", 50)
	var pErr *domain.PriceUnavailableError
	assert.True(t, errors.As(err, &pErr))
	assert.Equal(t, int64(1), f.ledgerCount(t))
}

func TestRebalanceBuysUpToTarget(t *testing.T) {
	f := setup(t, stubQuotes{"000001": 11.20}, 100_000)

	order, err := f.executor.RebalanceToTarget("000001", 500)
	assert.NoError(t, err)
	assert.Equal(t, domain.SideBuy, order.Side)
	assert.Equal(t, int64(500), order.Quantity)
}

func TestRebalanceSellsDownToTarget(t *testing.T) {
	f := setup(t, stubQuotes{"000001": 11.20}, 100_000)

	_, err := f.executor.Buy("000001", 500)
	assert.NoError(t, err)
	f.now = f.now.AddDate(0, 0, 1)

	order, err := f.executor.RebalanceToTarget("000001", 200)
	assert.NoError(t, err)
	assert.Equal(t, domain.SideSell, order.Side)
	assert.Equal(t, int64(300), order.Quantity)
}

func TestRebalanceNoOpAtTarget(t *testing.T) {
	f := setup(t, stubQuotes{"000001": 11.20}, 100_000)

	_, err := f.executor.Buy("000001", 500)
	assert.NoError(t, err)

	order, err := f.executor.RebalanceToTarget("000001", 500)
	assert.NoError(t, err)
	assert.Nil(t, order)
	assert.Equal(t, int64(1), f.ledgerCount(t))
}

func TestRebalanceRejectsNegativeTarget(t *testing.T) {
	f := setup(t, stubQuotes{"000001": 11.20}, 100_000)

	_, err := f.executor.RebalanceToTarget("000001", -10)
	var vErr *domain.ValidationError
	assert.True(t, errors.As(err, &vErr))
}

func TestExecutionEmitsEvents(t *testing.T) {
	f := setup(t, stubQuotes{"000001": 11.20}, 100_000)

	ch, cancel := f.events.Subscribe()
	defer cancel()

	_, err := f.executor.Buy("000001", 100)
	assert.NoError(t, err)

	ev := <-ch
	assert.Equal(t, events.EventTradeExecuted, ev.Type)
	assert.Equal(t, "000001", ev.Data["code"])

	_, err = f.executor.Sell("000001", 100)
	assert.Error(t, err)

	ev = <-ch
	assert.Equal(t, events.EventOrderRejected, ev.Type)
}

func TestBuyUsesCashAfterPriorTrades(t *testing.T) {
	f := setup(t, stubQuotes{"600519": 1724.50}, 300_000)

	_, err := f.executor.Buy("600519", 100)
	assert.NoError(t, err)

	// Remaining cash is about 127,400; a second 100-share buy must fail
	_, err = f.executor.Buy("600519", 100)
	var fErr *domain.InsufficientFundsError
	assert.True(t, errors.As(err, &fErr))
	assert.Equal(t, int64(1), f.ledgerCount(t))
}
