package ledger

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/stretchr/testify/assert"

	"github.com/mingqiu/abacus/internal/domain"
)

func setupTestRepo(t *testing.T) (*Repository, *sql.DB) {
	db, err := sql.Open("sqlite", ":memory:")
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := NewRepository(db, 100_000, testValidator(), testLogger())
	assert.NoError(t, err)

	return repo, db
}

func record(code string, quantity int64, price float64, at string) Record {
	ts, _ := time.ParseInLocation(TimeLayout, at, time.Local)
	return Record{
		Code:       code,
		Quantity:   quantity,
		Price:      price,
		Commission: 5.00,
		ExecutedAt: ts,
	}
}

func TestRepositoryTablePerBucket(t *testing.T) {
	repo, db := setupTestRepo(t)
	assert.Equal(t, "trades_100000", repo.Table())

	// A second bucket gets its own partition in the same database
	other, err := NewRepository(db, 50_000, testValidator(), testLogger())
	assert.NoError(t, err)
	assert.Equal(t, "trades_50000", other.Table())

	_, err = repo.Append(record("600519", 100, 1724.50, "2025-06-10 10:15:00"))
	assert.NoError(t, err)

	records, err := other.All()
	assert.NoError(t, err)
	assert.Empty(t, records)
}

func TestRepositoryRejectsNonPositiveBucket(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	assert.NoError(t, err)
	defer db.Close()

	_, err = NewRepository(db, 0, testValidator(), testLogger())
	assert.Error(t, err)
}

func TestAppendAssignsID(t *testing.T) {
	repo, _ := setupTestRepo(t)

	first, err := repo.Append(record("600519", 100, 1724.50, "2025-06-10 10:15:00"))
	assert.NoError(t, err)
	assert.Equal(t, int64(1), first.ID)

	second, err := repo.Append(record("000001", 200, 11.20, "2025-06-10 10:16:00"))
	assert.NoError(t, err)
	assert.Equal(t, int64(2), second.ID)

	count, err := repo.Count()
	assert.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestAppendRejectsInvalidRecord(t *testing.T) {
	repo, _ := setupTestRepo(t)

	bad := record("600519", 0, 1724.50, "2025-06-10 10:15:00")
	_, err := repo.Append(bad)

	var vErr *domain.ValidationError
	assert.True(t, errors.As(err, &vErr))

	// Nothing was written
	count, err := repo.Count()
	assert.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestAppendFailClosed(t *testing.T) {
	repo, db := setupTestRepo(t)

	// Closing the underlying store makes the append fail with a
	// PersistenceError rather than a silent success.
	db.Close()

	_, err := repo.Append(record("600519", 100, 1724.50, "2025-06-10 10:15:00"))
	var pErr *domain.PersistenceError
	assert.True(t, errors.As(err, &pErr))
	assert.Equal(t, "append", pErr.Op)
}

func TestAllOrdersByTimeThenInsertion(t *testing.T) {
	repo, _ := setupTestRepo(t)

	// Insert out of chronological order, with two records sharing a timestamp
	_, err := repo.Append(record("600519", 100, 1724.50, "2025-06-10 11:00:00"))
	assert.NoError(t, err)
	_, err = repo.Append(record("000001", 200, 11.20, "2025-06-10 09:30:00"))
	assert.NoError(t, err)
	_, err = repo.Append(record("600036", 300, 35.80, "2025-06-10 09:30:00"))
	assert.NoError(t, err)

	records, err := repo.All()
	assert.NoError(t, err)
	assert.Len(t, records, 3)

	// Chronological, with the tie broken by insertion order
	assert.Equal(t, "000001", records[0].Code)
	assert.Equal(t, "600036", records[1].Code)
	assert.Equal(t, "600519", records[2].Code)
}

func TestByCode(t *testing.T) {
	repo, _ := setupTestRepo(t)

	_, err := repo.Append(record("600519", 100, 1724.50, "2025-06-10 10:15:00"))
	assert.NoError(t, err)
	_, err = repo.Append(record("000001", 200, 11.20, "2025-06-10 10:16:00"))
	assert.NoError(t, err)
	_, err = repo.Append(record("600519", -50, 1730.00, "2025-06-11 10:00:00"))
	assert.NoError(t, err)

	records, err := repo.ByCode("600519")
	assert.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, int64(100), records[0].Quantity)
	assert.Equal(t, int64(-50), records[1].Quantity)
}

func TestRoundTripPreservesFields(t *testing.T) {
	repo, _ := setupTestRepo(t)

	in := record("600519", -150, 1730.55, "2025-06-11 14:45:30")
	in.Commission = 7.78

	appended, err := repo.Append(in)
	assert.NoError(t, err)

	records, err := repo.All()
	assert.NoError(t, err)
	assert.Len(t, records, 1)

	out := records[0]
	assert.Equal(t, appended.ID, out.ID)
	assert.Equal(t, in.Code, out.Code)
	assert.Equal(t, in.Quantity, out.Quantity)
	assert.Equal(t, in.Price, out.Price)
	assert.Equal(t, in.Commission, out.Commission)
	assert.Equal(t, in.ExecutedAt, out.ExecutedAt)
}
