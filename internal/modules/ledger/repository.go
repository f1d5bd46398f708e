package ledger

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mingqiu/abacus/internal/domain"
)

// Repository is the durable append-only trade store. Ledgers are partitioned
// per starting-capital bucket: a 100000 bucket lives in table trades_100000,
// so distinct capital allocations under one account identity never mix.
type Repository struct {
	db        *sql.DB
	validator *Validator
	table     string
	log       zerolog.Logger
}

// NewRepository creates the ledger repository for one capital bucket and
// ensures its table exists.
func NewRepository(db *sql.DB, bucket int64, validator *Validator, log zerolog.Logger) (*Repository, error) {
	if bucket <= 0 {
		return nil, fmt.Errorf("ledger bucket must be positive, got %d", bucket)
	}

	r := &Repository{
		db:        db,
		validator: validator,
		table:     fmt.Sprintf("trades_%d", bucket),
		log:       log.With().Str("repo", "ledger").Int64("bucket", bucket).Logger(),
	}

	if err := r.ensureTable(); err != nil {
		return nil, err
	}

	return r, nil
}

// Table returns the partition table name for this bucket.
func (r *Repository) Table() string {
	return r.table
}

func (r *Repository) ensureTable() error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			code TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			price REAL NOT NULL,
			commission REAL NOT NULL,
			executed_at TEXT NOT NULL
		)`, r.table)

	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create ledger table %s: %w", r.table, err)
	}

	indexQuery := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_%s_code_time ON %s(code, executed_at)",
		r.table, r.table)
	if _, err := r.db.Exec(indexQuery); err != nil {
		return fmt.Errorf("failed to create ledger index on %s: %w", r.table, err)
	}

	return nil
}

// Append durably writes one canonical record and returns it with its assigned
// id. The record is re-validated first; the ledger never accepts unvalidated
// input. Append is fail-closed: on error the trade must not be considered
// applied.
func (r *Repository) Append(record Record) (Record, error) {
	if err := r.validator.Validate(record); err != nil {
		return Record{}, err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (code, quantity, price, commission, executed_at)
		VALUES (?, ?, ?, ?, ?)`, r.table)

	result, err := r.db.Exec(query,
		record.Code,
		record.Quantity,
		record.Price,
		record.Commission,
		record.ExecutedAt.Format(TimeLayout),
	)
	if err != nil {
		return Record{}, &domain.PersistenceError{Op: "append", Err: err}
	}

	id, err := result.LastInsertId()
	if err != nil {
		return Record{}, &domain.PersistenceError{Op: "append", Err: err}
	}
	record.ID = id

	r.log.Debug().
		Int64("id", id).
		Str("code", record.Code).
		Int64("quantity", record.Quantity).
		Float64("price", record.Price).
		Msg("Trade appended")

	return record, nil
}

// All returns every record ordered by execution time ascending, ties broken
// by insertion order.
func (r *Repository) All() ([]Record, error) {
	query := fmt.Sprintf(`
		SELECT id, code, quantity, price, commission, executed_at
		FROM %s
		ORDER BY executed_at ASC, id ASC`, r.table)

	return r.query(query)
}

// ByCode returns every record for one instrument in chronological order.
func (r *Repository) ByCode(code string) ([]Record, error) {
	query := fmt.Sprintf(`
		SELECT id, code, quantity, price, commission, executed_at
		FROM %s
		WHERE code = ?
		ORDER BY executed_at ASC, id ASC`, r.table)

	return r.query(query, code)
}

// Count returns the number of records in the ledger.
func (r *Repository) Count() (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", r.table)
	if err := r.db.QueryRow(query).Scan(&count); err != nil {
		return 0, &domain.PersistenceError{Op: "read", Err: err}
	}
	return count, nil
}

func (r *Repository) query(query string, args ...interface{}) ([]Record, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "read", Err: err}
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := r.scanRecord(rows)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "read", Err: err}
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "read", Err: err}
	}

	return records, nil
}

func (r *Repository) scanRecord(rows *sql.Rows) (Record, error) {
	var record Record
	var executedAt string

	if err := rows.Scan(
		&record.ID,
		&record.Code,
		&record.Quantity,
		&record.Price,
		&record.Commission,
		&executedAt,
	); err != nil {
		return Record{}, fmt.Errorf("failed to scan trade record: %w", err)
	}

	parsed, err := parseStoredTime(executedAt)
	if err != nil {
		return Record{}, fmt.Errorf("failed to parse stored timestamp %q: %w", executedAt, err)
	}
	record.ExecutedAt = parsed

	return record, nil
}
