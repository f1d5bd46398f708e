package snapshots

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/mingqiu/abacus/internal/clients/calendar"
	"github.com/mingqiu/abacus/internal/clients/quotes"
	"github.com/mingqiu/abacus/internal/config"
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
	svc   *Service
	repo  *Repository
	lrepo *ledger.Repository
	now   time.Time
}

func setup(t *testing.T, prices stubQuotes) *fixture {
	db, err := sql.Open("sqlite", ":memory:")
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	validator := ledger.NewValidator(config.DefaultLimits(), nil, testLogger())
	lrepo, err := ledger.NewRepository(db, 100_000, validator, testLogger())
	assert.NoError(t, err)

	f := &fixture{
		lrepo: lrepo,
		now:   time.Date(2025, 6, 11, 15, 30, 0, 0, time.Local),
	}
	clock := func() time.Time { return f.now }

	recon := portfolio.NewReconstructor(lrepo, prices, 100_000, clock, testLogger())
	portfolioSvc := portfolio.NewService(recon, calendar.NewClient("", testLogger()), testLogger())

	repo, err := NewRepository(db, testLogger())
	assert.NoError(t, err)
	f.repo = repo
	f.svc = NewService(repo, portfolioSvc, events.NewManager(testLogger()), testLogger())

	return f
}

func (f *fixture) trade(t *testing.T, code string, quantity int64, price float64, at string) {
	ts, err := time.ParseInLocation(ledger.TimeLayout, at, time.Local)
	assert.NoError(t, err)
	_, err = f.lrepo.Append(ledger.Record{
		Code:       code,
		Quantity:   quantity,
		Price:      price,
		Commission: 5.00,
		ExecutedAt: ts,
	})
	assert.NoError(t, err)
}

func TestTakePersistsSnapshot(t *testing.T) {
	f := setup(t, stubQuotes{"000001": 12.00})
	f.trade(t, "000001", 500, 11.20, "2025-06-10 10:00:00")

	snapshot, err := f.svc.Take()
	assert.NoError(t, err)
	assert.Equal(t, int64(1), snapshot.ID)

	expectedCash := 100_000.0 - (500*11.20 + 5.00)
	assert.Equal(t, expectedCash, snapshot.Cash)
	assert.Equal(t, 6000.0, snapshot.MarketValue)
	assert.Equal(t, expectedCash+6000.0, snapshot.TotalEquity)
}

func TestHistoryDecodesPositions(t *testing.T) {
	f := setup(t, stubQuotes{"000001": 12.00})
	f.trade(t, "000001", 500, 11.20, "2025-06-10 10:00:00")

	_, err := f.svc.Take()
	assert.NoError(t, err)

	history, err := f.svc.History(0)
	assert.NoError(t, err)
	assert.Len(t, history, 1)

	pos := history[0].Positions["000001"]
	assert.NotNil(t, pos)
	assert.Equal(t, int64(500), pos.TotalQuantity)
	assert.Equal(t, 12.00, pos.CurrentPrice)
}

func TestHistoryLimitKeepsMostRecent(t *testing.T) {
	f := setup(t, stubQuotes{})

	for i := 0; i < 5; i++ {
		_, err := f.repo.Save(Snapshot{
			TakenAt:     f.now.AddDate(0, 0, i),
			Cash:        100_000,
			TotalEquity: 100_000 + float64(i),
		})
		assert.NoError(t, err)
	}

	history, err := f.svc.History(2)
	assert.NoError(t, err)
	assert.Len(t, history, 2)
	// Most recent two, still oldest first
	assert.Equal(t, 100_003.0, history[0].TotalEquity)
	assert.Equal(t, 100_004.0, history[1].TotalEquity)
}

func TestComputePerformance(t *testing.T) {
	f := setup(t, stubQuotes{})

	equities := []float64{100_000, 110_000, 99_000}
	for i, e := range equities {
		_, err := f.repo.Save(Snapshot{
			TakenAt:     f.now.AddDate(0, 0, i),
			Cash:        e,
			TotalEquity: e,
		})
		assert.NoError(t, err)
	}

	perf, err := f.svc.ComputePerformance()
	assert.NoError(t, err)
	assert.Equal(t, 3, perf.Samples)
	assert.Equal(t, 100_000.0, perf.StartEquity)
	assert.Equal(t, 99_000.0, perf.EndEquity)
	assert.Equal(t, -1.0, perf.TotalReturnPct)
	// Returns are +10% then -10%
	assert.InDelta(t, 0, perf.MeanReturn, 1e-9)
	assert.InDelta(t, 0.1414, perf.ReturnStdDev, 0.001)
	// Peak 110000 to trough 99000
	assert.Equal(t, 10.0, perf.MaxDrawdownPct)
}

func TestComputePerformanceNeedsTwoSnapshots(t *testing.T) {
	f := setup(t, stubQuotes{})

	_, err := f.svc.ComputePerformance()
	assert.Error(t, err)

	_, err = f.repo.Save(Snapshot{TakenAt: f.now, TotalEquity: 100_000})
	assert.NoError(t, err)

	_, err = f.svc.ComputePerformance()
	assert.Error(t, err)
}
