package migrations

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestRunIsIdempotent(t *testing.T) {
	dbx, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "skim.db"))
	require.NoError(t, err)
	defer dbx.Close()

	require.NoError(t, Run(dbx))
	require.NoError(t, Run(dbx))

	var tables []string
	require.NoError(t, dbx.Select(&tables, `SELECT name FROM sqlite_master WHERE type = 'table' AND name IN ('feeds', 'items') ORDER BY name;`))
	assert.Equal(t, []string{"feeds", "items"}, tables)
}

func TestReset(t *testing.T) {
	dbx, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "skim.db"))
	require.NoError(t, err)
	defer dbx.Close()

	require.NoError(t, Run(dbx))
	_, err = dbx.Exec(`INSERT INTO feeds (feed_url, last_load_time, last_fetch_time) VALUES ('https://example.com', '2024-01-01', '2024-01-01');`)
	require.NoError(t, err)

	require.NoError(t, Reset(dbx))

	var count int
	require.NoError(t, dbx.Get(&count, `SELECT COUNT(*) FROM feeds;`))
	assert.Zero(t, count)
}
