package portfolio

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/mingqiu/abacus/internal/clients/quotes"
	"github.com/mingqiu/abacus/internal/modules/ledger"
)

// Snapshot is the result of one full replay: derived cash and open positions.
// Closed positions are absent; their trades remain in the ledger.
type Snapshot struct {
	Cash      float64              `json:"cash"`
	Positions map[string]*Position `json:"positions"`
	TakenAt   time.Time            `json:"taken_at"`
}

// Reconstructor replays the ledger into portfolio state. Replay is a pure
// function of ledger contents: the same ledger replayed twice yields identical
// results. Nothing is cached between calls; the ledger is the only truth.
type Reconstructor struct {
	repo         *ledger.Repository
	quotes       quotes.Provider
	startingCash float64
	clock        func() time.Time
	log          zerolog.Logger
}

// NewReconstructor creates a reconstructor over one ledger bucket. clock may
// be nil, in which case time.Now defines "today" for settlement tracking.
func NewReconstructor(repo *ledger.Repository, provider quotes.Provider, startingCash float64, clock func() time.Time, log zerolog.Logger) *Reconstructor {
	if clock == nil {
		clock = time.Now
	}
	return &Reconstructor{
		repo:         repo,
		quotes:       provider,
		startingCash: startingCash,
		clock:        clock,
		log:          log.With().Str("component", "reconstructor").Logger(),
	}
}

// StartingCash returns the capital this ledger bucket started with.
func (r *Reconstructor) StartingCash() float64 {
	return r.startingCash
}

// Replay rebuilds cash and positions from the full ledger.
func (r *Reconstructor) Replay() (*Snapshot, error) {
	records, err := r.repo.All()
	if err != nil {
		return nil, err
	}

	// Re-sort even though the store orders its scan; determinism must not
	// depend on the store's claim. The sort is stable so insertion order
	// still breaks timestamp ties.
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ExecutedAt.Before(records[j].ExecutedAt)
	})

	now := r.clock()
	cash := r.startingCash
	positions := make(map[string]*Position)

	for _, trade := range records {
		cash -= float64(trade.Quantity)*trade.Price + trade.Commission

		pos, ok := positions[trade.Code]
		if !ok {
			pos = &Position{Code: trade.Code}
			positions[trade.Code] = pos
		}
		pos.apply(trade, now)
	}

	// Closed positions are dropped; open ones get a market valuation
	for code, pos := range positions {
		if pos.TotalQuantity <= 0 {
			delete(positions, code)
			continue
		}

		price, err := r.quotes.GetCurrentPrice(code)
		if err != nil {
			// Valuation degrades to the last trade price, never fails
			r.log.Warn().
				Err(err).
				Str("code", code).
				Float64("fallback_price", pos.LastTradePrice).
				Msg("No current price, valuing at last trade price")
			price = pos.LastTradePrice
		}

		pos.CurrentPrice = price
		pos.MarketValue = round2(float64(pos.TotalQuantity) * price)
		pos.AverageCost = round2(pos.AverageCost)
		pos.TotalCost = round2(pos.TotalCost)
	}

	return &Snapshot{
		Cash:      round2(cash),
		Positions: positions,
		TakenAt:   now,
	}, nil
}
