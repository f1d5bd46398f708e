package snapshots

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/mingqiu/abacus/internal/events"
	"github.com/mingqiu/abacus/internal/modules/portfolio"
)

// Performance summarizes the equity curve built from stored snapshots.
// Returns are per-snapshot-interval (daily when snapshots are taken daily).
type Performance struct {
	Samples        int     `json:"samples"`
	StartEquity    float64 `json:"start_equity"`
	EndEquity      float64 `json:"end_equity"`
	TotalReturnPct float64 `json:"total_return_pct"`
	MeanReturn     float64 `json:"mean_return"`
	ReturnStdDev   float64 `json:"return_std_dev"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
}

// Service takes portfolio snapshots and computes performance over them.
type Service struct {
	repo      *Repository
	portfolio *portfolio.Service
	events    *events.Manager
	log       zerolog.Logger
}

// NewService creates a new snapshot service
func NewService(repo *Repository, portfolioSvc *portfolio.Service, eventManager *events.Manager, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		portfolio: portfolioSvc,
		events:    eventManager,
		log:       log.With().Str("service", "snapshots").Logger(),
	}
}

// Take replays the ledger, values the portfolio, and persists the result.
func (s *Service) Take() (*Snapshot, error) {
	state, err := s.portfolio.GetSnapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct portfolio: %w", err)
	}

	var marketValue float64
	for _, pos := range state.Positions {
		marketValue += pos.MarketValue
	}
	marketValue = round2(marketValue)

	saved, err := s.repo.Save(Snapshot{
		TakenAt:     state.TakenAt,
		Cash:        state.Cash,
		MarketValue: marketValue,
		TotalEquity: round2(state.Cash + marketValue),
		Positions:   state.Positions,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("id", saved.ID).
		Float64("total_equity", saved.TotalEquity).
		Int("positions", len(saved.Positions)).
		Msg("Portfolio snapshot taken")

	s.events.Emit(events.EventSnapshotTaken, "snapshots", map[string]interface{}{
		"id":           saved.ID,
		"total_equity": saved.TotalEquity,
		"positions":    len(saved.Positions),
	})

	return &saved, nil
}

// History returns stored snapshots, most recent limit entries, oldest first.
func (s *Service) History(limit int) ([]Snapshot, error) {
	return s.repo.History(limit)
}

// ComputePerformance derives return statistics from the stored equity curve.
// Needs at least two snapshots.
func (s *Service) ComputePerformance() (*Performance, error) {
	_, equities, err := s.repo.EquitySeries()
	if err != nil {
		return nil, err
	}
	if len(equities) < 2 {
		return nil, fmt.Errorf("need at least 2 snapshots for performance, have %d", len(equities))
	}

	returns := make([]float64, 0, len(equities)-1)
	for i := 1; i < len(equities); i++ {
		if equities[i-1] == 0 {
			continue
		}
		returns = append(returns, equities[i]/equities[i-1]-1)
	}
	if len(returns) == 0 {
		return nil, fmt.Errorf("no computable returns in equity series")
	}

	perf := &Performance{
		Samples:     len(equities),
		StartEquity: equities[0],
		EndEquity:   equities[len(equities)-1],
		MeanReturn:  stat.Mean(returns, nil),
	}
	if len(returns) > 1 {
		perf.ReturnStdDev = stat.StdDev(returns, nil)
	}
	if perf.StartEquity != 0 {
		perf.TotalReturnPct = round2((perf.EndEquity/perf.StartEquity - 1) * 100)
	}
	perf.MaxDrawdownPct = round2(maxDrawdown(equities) * 100)

	return perf, nil
}

// maxDrawdown returns the largest peak-to-trough decline as a fraction.
func maxDrawdown(equities []float64) float64 {
	peak := equities[0]
	var worst float64
	for _, e := range equities[1:] {
		if e > peak {
			peak = e
			continue
		}
		if peak > 0 {
			dd := (peak - e) / peak
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
