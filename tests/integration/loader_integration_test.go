package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/gapminder/ddf-server/internal/catalog/mysqlcat"
	"github.com/gapminder/ddf-server/internal/loader"
	"github.com/gapminder/ddf-server/internal/table"
)

// TestLoaderIngestsPackageEndToEnd loads a tiny DDF package against a real
// MySQL container and verifies the resulting catalog record and physical
// table contents, exercising the full discover -> infer -> create -> bulk
// load -> catalog-register pipeline spec.md §8 describes end to end.
func TestLoaderIngestsPackageEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := setupMySQLCatalog(t, ctx)

	dir := writeDDFPackage(t)

	l := &loader.Loader{
		Catalog: store,
		Tables:  table.NewLoader(store.DB()),
	}

	result, err := l.Load(ctx, loader.Options{
		Dir:     dir,
		Name:    "population",
		Version: "2026-01-01",
		Publish: true,
	}, time.Now())
	require.NoError(t, err, "expected load to succeed")
	require.Equal(t, "population", result.Name)
	require.Equal(t, "2026-01-01", result.Version)
	require.Greater(t, result.TableCount, 0)

	rec, err := store.Lookup(ctx, "population", "2026-01-01")
	require.NoError(t, err)
	require.True(t, rec.IsDefault, "expected the published version to be marked default")
}

func TestLoaderRejectsDuplicateVersion(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := setupMySQLCatalog(t, ctx)
	dir := writeDDFPackage(t)

	l := &loader.Loader{Catalog: store, Tables: table.NewLoader(store.DB())}

	_, err := l.Load(ctx, loader.Options{Dir: dir, Name: "population", Version: "v1"}, time.Now())
	require.NoError(t, err)

	_, err = l.Load(ctx, loader.Options{Dir: dir, Name: "population", Version: "v1"}, time.Now())
	require.Error(t, err, "expected re-loading the same name/version to conflict")
}

// writeDDFPackage writes a minimal DDF directory: one concept and one
// geo-entity file, enough to exercise discovery, grouping, and table
// creation without a datapoints table.
func writeDDFPackage(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	concepts := "concept,concept_type,name\n" +
		"geo,entity_domain,Geographic location\n" +
		"name,string,Name\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ddf--concepts.csv"), []byte(concepts), 0o644))

	entities := "geo,name\n" +
		"usa,United States\n" +
		"can,Canada\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ddf--entities--geo.csv"), []byte(entities), 0o644))

	return dir
}

// setupMySQLCatalog starts a MySQL testcontainer and returns a connected
// mysqlcat.Store, cleaning up both the store and the container on test end.
func setupMySQLCatalog(t *testing.T, ctx context.Context) *mysqlcat.Store {
	t.Helper()

	mysqlContainer, err := mysql.Run(ctx, "mysql:8.0",
		mysql.WithDatabase("ddf_test"),
		mysql.WithUsername("root"),
		mysql.WithPassword("testpass"),
	)
	require.NoError(t, err, "failed to start MySQL container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(mysqlContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := mysqlContainer.Host(ctx)
	require.NoError(t, err)
	port, err := mysqlContainer.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	cfg := mysqlcat.DefaultConfig()
	cfg.Host = host
	cfg.Port = port.Int()
	cfg.Database = "ddf_test"
	cfg.Username = "root"
	cfg.Password = "testpass"

	store, err := mysqlcat.NewStore(cfg)
	require.NoError(t, err, "failed to connect catalog store to container")
	t.Cleanup(func() { _ = store.Close() })

	return store
}
