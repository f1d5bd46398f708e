// Package snapshots persists periodic portfolio valuations and derives
// performance statistics from them.
package snapshots

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mingqiu/abacus/internal/modules/portfolio"
)

const timeLayout = "2006-01-02 15:04:05"

// Snapshot is one persisted portfolio valuation. Positions are stored as a
// msgpack blob; the scalar columns exist so performance queries never need to
// decode the payload.
type Snapshot struct {
	ID          int64                          `json:"id"`
	TakenAt     time.Time                      `json:"taken_at"`
	Cash        float64                        `json:"cash"`
	MarketValue float64                        `json:"market_value"`
	TotalEquity float64                        `json:"total_equity"`
	Positions   map[string]*portfolio.Position `json:"positions,omitempty"`
}

// Repository stores snapshots in the cache database. Snapshots are derived
// data: losing them costs history granularity, never correctness, because the
// ledger can always be replayed.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates the snapshot repository and ensures its table exists.
func NewRepository(db *sql.DB, log zerolog.Logger) (*Repository, error) {
	r := &Repository{
		db:  db,
		log: log.With().Str("repo", "snapshots").Logger(),
	}

	query := `
		CREATE TABLE IF NOT EXISTS portfolio_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			taken_at TEXT NOT NULL,
			cash REAL NOT NULL,
			market_value REAL NOT NULL,
			total_equity REAL NOT NULL,
			positions BLOB
		)`
	if _, err := db.Exec(query); err != nil {
		return nil, fmt.Errorf("failed to create snapshots table: %w", err)
	}

	return r, nil
}

// Save persists one snapshot and returns it with its assigned id.
func (r *Repository) Save(s Snapshot) (Snapshot, error) {
	payload, err := msgpack.Marshal(s.Positions)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to encode snapshot positions: %w", err)
	}

	result, err := r.db.Exec(`
		INSERT INTO portfolio_snapshots (taken_at, cash, market_value, total_equity, positions)
		VALUES (?, ?, ?, ?, ?)`,
		s.TakenAt.Format(timeLayout),
		s.Cash,
		s.MarketValue,
		s.TotalEquity,
		payload,
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to save snapshot: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to get snapshot id: %w", err)
	}
	s.ID = id

	r.log.Debug().
		Int64("id", id).
		Float64("total_equity", s.TotalEquity).
		Msg("Snapshot saved")

	return s, nil
}

// History returns snapshots in chronological order, limited to the most
// recent limit entries when limit > 0. Position payloads are decoded.
func (r *Repository) History(limit int) ([]Snapshot, error) {
	query := `
		SELECT id, taken_at, cash, market_value, total_equity, positions
		FROM portfolio_snapshots
		ORDER BY taken_at ASC, id ASC`
	var args []interface{}
	if limit > 0 {
		// Most recent N, still returned oldest first
		query = `
			SELECT id, taken_at, cash, market_value, total_equity, positions
			FROM (
				SELECT id, taken_at, cash, market_value, total_equity, positions
				FROM portfolio_snapshots
				ORDER BY taken_at DESC, id DESC
				LIMIT ?
			)
			ORDER BY taken_at ASC, id ASC`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var s Snapshot
		var takenAt string
		var payload []byte

		if err := rows.Scan(&s.ID, &takenAt, &s.Cash, &s.MarketValue, &s.TotalEquity, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}

		parsed, err := time.ParseInLocation(timeLayout, takenAt, time.Local)
		if err != nil {
			return nil, fmt.Errorf("failed to parse snapshot timestamp %q: %w", takenAt, err)
		}
		s.TakenAt = parsed

		if len(payload) > 0 {
			if err := msgpack.Unmarshal(payload, &s.Positions); err != nil {
				return nil, fmt.Errorf("failed to decode snapshot positions: %w", err)
			}
		}

		snapshots = append(snapshots, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}

	return snapshots, nil
}

// EquitySeries returns (taken_at, total_equity) pairs in chronological order
// without decoding position payloads.
func (r *Repository) EquitySeries() ([]time.Time, []float64, error) {
	rows, err := r.db.Query(`
		SELECT taken_at, total_equity
		FROM portfolio_snapshots
		ORDER BY taken_at ASC, id ASC`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query equity series: %w", err)
	}
	defer rows.Close()

	var times []time.Time
	var equities []float64
	for rows.Next() {
		var takenAt string
		var equity float64
		if err := rows.Scan(&takenAt, &equity); err != nil {
			return nil, nil, fmt.Errorf("failed to scan equity point: %w", err)
		}
		parsed, err := time.ParseInLocation(timeLayout, takenAt, time.Local)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse equity timestamp %q: %w", takenAt, err)
		}
		times = append(times, parsed)
		equities = append(equities, equity)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate equity series: %w", err)
	}

	return times, equities, nil
}
