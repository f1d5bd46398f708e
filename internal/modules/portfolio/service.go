package portfolio

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/mingqiu/abacus/internal/clients/calendar"
)

// PnL is the per-position profit-and-loss view.
type PnL struct {
	Code          string  `json:"code"`
	Quantity      int64   `json:"quantity"`
	AverageCost   float64 `json:"average_cost"`
	CurrentPrice  float64 `json:"current_price"`
	CostBasis     float64 `json:"cost_basis"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	UnrealizedPct float64 `json:"unrealized_pct"`
	HoldingDays   int     `json:"holding_days"`
}

// Equity is the portfolio-level valuation.
type Equity struct {
	Cash        float64 `json:"cash"`
	MarketValue float64 `json:"market_value"`
	TotalEquity float64 `json:"total_equity"`
	Positions   int     `json:"positions"`
}

// Service answers portfolio queries. Every query replays the ledger first so
// answers always reflect durable state, never a stale in-memory cache.
type Service struct {
	recon    *Reconstructor
	calendar *calendar.Client
	log      zerolog.Logger
}

// NewService creates a new portfolio service
func NewService(recon *Reconstructor, cal *calendar.Client, log zerolog.Logger) *Service {
	return &Service{
		recon:    recon,
		calendar: cal,
		log:      log.With().Str("service", "portfolio").Logger(),
	}
}

// GetSnapshot replays the ledger and returns the full derived state.
func (s *Service) GetSnapshot() (*Snapshot, error) {
	return s.recon.Replay()
}

// GetTotalEquity returns cash plus the market value of all open positions.
// Positions are summed in code order so the result is deterministic.
func (s *Service) GetTotalEquity() (*Equity, error) {
	snapshot, err := s.recon.Replay()
	if err != nil {
		return nil, err
	}

	codes := sortedCodes(snapshot.Positions)

	var marketValue float64
	for _, code := range codes {
		marketValue += snapshot.Positions[code].MarketValue
	}
	marketValue = round2(marketValue)

	return &Equity{
		Cash:        snapshot.Cash,
		MarketValue: marketValue,
		TotalEquity: round2(snapshot.Cash + marketValue),
		Positions:   len(codes),
	}, nil
}

// GetPositionPnL returns the profit-and-loss view for one open position.
func (s *Service) GetPositionPnL(code string) (*PnL, error) {
	snapshot, err := s.recon.Replay()
	if err != nil {
		return nil, err
	}

	pos, ok := snapshot.Positions[code]
	if !ok {
		return nil, fmt.Errorf("no open position for %s", code)
	}

	pnl := &PnL{
		Code:          pos.Code,
		Quantity:      pos.TotalQuantity,
		AverageCost:   pos.AverageCost,
		CurrentPrice:  pos.CurrentPrice,
		CostBasis:     pos.TotalCost,
		MarketValue:   pos.MarketValue,
		UnrealizedPnL: round2(pos.MarketValue - pos.TotalCost),
	}
	if pos.TotalCost != 0 {
		pnl.UnrealizedPct = round2(pnl.UnrealizedPnL / pos.TotalCost * 100)
	}
	if !pos.FirstAcquiredAt.IsZero() {
		pnl.HoldingDays = s.calendar.TradingDaysBetween(pos.FirstAcquiredAt, snapshot.TakenAt)
	}

	return pnl, nil
}

// GetCloseableQuantity returns the settlement-eligible quantity for an
// instrument. A code with no open position is closeable zero, not an error.
func (s *Service) GetCloseableQuantity(code string) (int64, error) {
	snapshot, err := s.recon.Replay()
	if err != nil {
		return 0, err
	}

	pos, ok := snapshot.Positions[code]
	if !ok {
		return 0, nil
	}
	return pos.Closeable, nil
}

func sortedCodes(positions map[string]*Position) []string {
	codes := make([]string, 0, len(positions))
	for code := range positions {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
