// Package testing provides shared test helpers.
package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mingqiu/abacus/internal/database"
)

// Logger returns a silenced logger for tests.
func Logger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

// MemoryDB opens an in-memory SQLite database that is closed with the test.
func MemoryDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

// FileDB opens a database.DB on a temp file with the given profile, closed
// with the test. Used where the wrapper itself (profiles, checkpoints,
// stats) is under test.
func FileDB(t *testing.T, name string, profile database.Profile) *database.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}
