package warehouse

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/toronto-mobility/ingestor/internal/config"
)

func writeSubwayCSV(t *testing.T, dir, name string, rows ...string) string {
	t.Helper()

	content := "Date,Time,Day,Station,Code,Min Delay,Min Gap,Bound,Line\n"
	for _, row := range rows {
		content += row + "\n"
	}

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))

	return n
}

func TestLoadDataset(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	newLoader := func(t *testing.T) *Loader {
		t.Helper()

		store := NewLocalStore(t.TempDir())

		return NewLoader(store, "staging", slog.New(slog.NewTextHandler(io.Discard, nil)))
	}

	t.Run("loads rows and is idempotent on reload", func(t *testing.T) {
		loader := newLoader(t)
		dir := t.TempDir()
		csvPath := writeSubwayCSV(t, dir, "delays-2023.csv",
			"2023-01-01,02:15,Sunday,Bloor,MUIS,5,10,N,BD",
			"2023-01-01,06:40,Sunday,Union,PUOPO,3,6,S,YU",
		)

		tx, err := testDB.Connection.BeginTx(ctx, nil)
		require.NoError(t, err)

		result, err := loader.LoadDataset(ctx, tx, "ttc_subway_delays", []string{csvPath})
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		assert.Equal(t, int64(2), result.RowsCopied)
		assert.Equal(t, int64(2), result.RowsInserted)
		assert.Equal(t, int64(0), result.RowsUpdated)
		assert.Equal(t, 2, countRows(t, testDB.Connection, "raw.ttc_subway_delays"))

		// Same files again: natural keys match, nothing new inserted.
		tx, err = testDB.Connection.BeginTx(ctx, nil)
		require.NoError(t, err)

		again, err := loader.LoadDataset(ctx, tx, "ttc_subway_delays", []string{csvPath})
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		assert.Equal(t, int64(0), again.RowsInserted)
		assert.Equal(t, int64(2), again.RowsUpdated)
		assert.Equal(t, 2, countRows(t, testDB.Connection, "raw.ttc_subway_delays"))
	})

	t.Run("updates non-key columns on merge", func(t *testing.T) {
		loader := newLoader(t)
		dir := t.TempDir()

		first := writeSubwayCSV(t, dir, "delays-a.csv",
			"2023-02-01,08:00,Wednesday,Kennedy,MUIS,5,10,E,BD",
		)

		tx, err := testDB.Connection.BeginTx(ctx, nil)
		require.NoError(t, err)
		_, err = loader.LoadDataset(ctx, tx, "ttc_subway_delays", []string{first})
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		// Same natural key, revised gap value.
		require.NoError(t, os.WriteFile(first,
			[]byte("Date,Time,Day,Station,Code,Min Delay,Min Gap,Bound,Line\n"+
				"2023-02-01,08:00,Wednesday,Kennedy,MUIS,5,12,E,BD\n"), 0o644))

		tx, err = testDB.Connection.BeginTx(ctx, nil)
		require.NoError(t, err)
		result, err := loader.LoadDataset(ctx, tx, "ttc_subway_delays", []string{first})
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		assert.Equal(t, int64(1), result.RowsUpdated)

		var gap string
		require.NoError(t, testDB.Connection.QueryRow(
			"SELECT min_gap FROM raw.ttc_subway_delays WHERE station = 'Kennedy'").Scan(&gap))
		assert.Equal(t, "12", gap)
	})

	t.Run("rollback leaves target untouched", func(t *testing.T) {
		loader := newLoader(t)
		dir := t.TempDir()
		csvPath := writeSubwayCSV(t, dir, "delays-rollback.csv",
			"2023-03-01,04:30,Wednesday,Finch,EUDO,7,14,S,YU",
		)

		before := countRows(t, testDB.Connection, "raw.ttc_subway_delays")

		tx, err := testDB.Connection.BeginTx(ctx, nil)
		require.NoError(t, err)

		_, err = loader.LoadDataset(ctx, tx, "ttc_subway_delays", []string{csvPath})
		require.NoError(t, err)
		require.NoError(t, tx.Rollback())

		assert.Equal(t, before, countRows(t, testDB.Connection, "raw.ttc_subway_delays"))
	})

	t.Run("malformed staged row aborts the load", func(t *testing.T) {
		loader := newLoader(t)
		dir := t.TempDir()

		path := filepath.Join(dir, "bad.csv")
		require.NoError(t, os.WriteFile(path,
			[]byte("Date,Time,Day,Station,Code,Min Delay,Min Gap,Bound,Line\n"+
				"2023-04-01,02:15,Saturday\n"), 0o644))

		tx, err := testDB.Connection.BeginTx(ctx, nil)
		require.NoError(t, err)

		defer func() {
			_ = tx.Rollback()
		}()

		_, err = loader.LoadDataset(ctx, tx, "ttc_subway_delays", []string{path})
		require.Error(t, err)

		var loadErr *LoadError
		require.ErrorAs(t, err, &loadErr)
		assert.Equal(t, "raw.ttc_subway_delays", loadErr.Table)
	})

	t.Run("empty string cells load as NULL", func(t *testing.T) {
		loader := newLoader(t)
		dir := t.TempDir()
		csvPath := writeSubwayCSV(t, dir, "delays-null.csv",
			"2023-05-01,03:45,Monday,,MUIS,4,8,N,BD",
		)

		tx, err := testDB.Connection.BeginTx(ctx, nil)
		require.NoError(t, err)
		_, err = loader.LoadDataset(ctx, tx, "ttc_subway_delays", []string{csvPath})
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		var n int
		require.NoError(t, testDB.Connection.QueryRow(
			"SELECT COUNT(*) FROM raw.ttc_subway_delays WHERE date = '2023-05-01' AND station IS NULL").Scan(&n))
		assert.Equal(t, 1, n)
	})
}
