package astropix

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	config := DefaultConfiguration()
	config.DBSource = filepath.Join(t.TempDir(), "runs.db")
	catalog, err := OpenCatalog(config)
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })
	return catalog
}

func TestCatalogRuns(t *testing.T) {
	catalog := testCatalog(t)
	ctx := context.Background()

	first := RunRecord{
		RunID: "run-b", Source: "b.log", Output: "b.apx", Format: "apx",
		SchemaUID: AstroPix4.UID, SchemaName: AstroPix4.Name,
		Readouts: 10, Hits: 17, CreatedAt: "2024-03-01T10:00:00Z",
	}
	second := first
	second.RunID = "run-a"
	second.Source = "a.log"
	second.CreatedAt = "2024-03-01T09:00:00Z"
	require.NoError(t, catalog.RegisterRun(ctx, first))
	require.NoError(t, catalog.RegisterRun(ctx, second))

	run, err := catalog.GetRun(ctx, "run-b")
	require.NoError(t, err)
	assert.Equal(t, first, run)

	runs, err := catalog.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-a", runs[0].RunID)
	assert.Equal(t, "run-b", runs[1].RunID)

	// registering again replaces the row
	first.Hits = 20
	require.NoError(t, catalog.RegisterRun(ctx, first))
	run, err = catalog.GetRun(ctx, "run-b")
	require.NoError(t, err)
	assert.Equal(t, 20, run.Hits)
	runs, err = catalog.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestCatalogDefaults(t *testing.T) {
	catalog := testCatalog(t)
	ctx := context.Background()
	require.NoError(t, catalog.RegisterRun(ctx, RunRecord{RunID: "x", Format: "csv"}))
	run, err := catalog.GetRun(ctx, "x")
	require.NoError(t, err)
	assert.NotEmpty(t, run.CreatedAt)

	_, err = catalog.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCatalogMigrateTwice(t *testing.T) {
	catalog := testCatalog(t)
	assert.NoError(t, catalog.Migrate())
}

func TestConnectUnsupportedDriver(t *testing.T) {
	_, err := ConnectToDatabase("postgres", "")
	assert.Error(t, err)

	config := DefaultConfiguration()
	config.DBDriver = "oracle"
	_, err = OpenCatalog(config)
	assert.Error(t, err)
}

func TestMySQLSource(t *testing.T) {
	assert.Equal(t, "user:pw@(db:3306)/astropix?parseTime=true", MySQLSource("user", "pw", "db", "astropix"))
}
