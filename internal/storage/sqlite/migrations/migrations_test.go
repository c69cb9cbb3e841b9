package migrations_test

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/slok/rctl/internal/log"
	"github.com/slok/rctl/internal/storage/sqlite/migrations"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB) bool {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, migrations.JournalTable).Scan(&n)
	require.NoError(t, err)
	return n == 1
}

func TestApplyIsIdempotent(t *testing.T) {
	db := openDB(t)

	v1, err := migrations.Apply(db, log.Noop)
	require.NoError(t, err)
	v2, err := migrations.Apply(db, nil)
	require.NoError(t, err)

	assert.Equal(t, uint(1), v1)
	assert.Equal(t, v1, v2)
	assert.True(t, tableExists(t, db))
}

func TestRevert(t *testing.T) {
	db := openDB(t)

	_, err := migrations.Apply(db, log.Noop)
	require.NoError(t, err)
	require.NoError(t, migrations.Revert(db, log.Noop))

	assert.False(t, tableExists(t, db))
}

func TestApplyWithoutDB(t *testing.T) {
	_, err := migrations.Apply(nil, log.Noop)
	assert.Error(t, err)
}
