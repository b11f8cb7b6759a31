package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-cube/internal/config"
	"duck-cube/internal/query"
	"duck-cube/internal/testutil"
)

func testConfig(t *testing.T, source string) *config.Config {
	t.Helper()
	return &config.Config{
		MetaDBPath:        filepath.Join(t.TempDir(), "meta.sqlite"),
		DataDriver:        config.DriverDuckDB,
		DataSource:        source,
		CacheTTL:          time.Minute,
		CacheMaxKeyLength: 4096,
		CacheMaxBytes:     1 << 20,
		PrefetchLimit:     500,
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestOpen_SeedAndQuery(t *testing.T) {
	ctx := context.Background()
	for _, source := range []string{"native", "relational"} {
		t.Run(source, func(t *testing.T) {
			a, err := Open(ctx, testConfig(t, source), slog.Default())
			require.NoError(t, err)
			t.Cleanup(func() { _ = a.Close() })

			initSQL := ""
			for _, stmt := range testutil.ClinicalSQL {
				initSQL += stmt + ";\n"
			}
			require.NoError(t, RunInitSQL(ctx, a.FactDB, writeFile(t, "init.sql", initSQL), slog.Default()))

			defPath := writeFile(t, "clinical.yaml", testutil.ClinicalYAML)
			assert.Equal(t, "clinical", SchemaName(defPath))
			sc, err := SeedSchema(ctx, a.Cubes, "t1", "clinical", defPath, slog.Default())
			require.NoError(t, err)
			assert.Equal(t, int64(1), sc.Version)

			again, err := SeedSchema(ctx, a.Cubes, "t1", "clinical", defPath, slog.Default())
			require.NoError(t, err)
			assert.Equal(t, sc.ID, again.ID)
			assert.Equal(t, int64(1), again.Version, "unchanged definition is not re-registered")

			cs, err := a.Cubes.Query(ctx, "t1", "clinical", &query.Request{Columns: query.LevelMembers("[Study].[Study]")})
			require.NoError(t, err)
			defer func() { _ = cs.Close() }()
			assert.Equal(t, []int64{2, 2}, cs.Values())
		})
	}
}

func TestSeedSchema_UpdatesChangedDefinition(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, testConfig(t, "relational"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	dir := t.TempDir()
	path := filepath.Join(dir, "clinical.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testutil.ClinicalYAML), 0o600))
	_, err = SeedSchema(ctx, a.Cubes, "t1", "clinical", path, slog.Default())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(testutil.ClinicalYAML+"\n# edited\n"), 0o600))
	sc, err := SeedSchema(ctx, a.Cubes, "t1", "clinical", path, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, int64(2), sc.Version)

	_, err = SeedSchema(ctx, a.Cubes, "t1", "clinical", filepath.Join(dir, "missing.yaml"), slog.Default())
	require.Error(t, err)
}

func TestNew_UnknownDataSource(t *testing.T) {
	_, err := Open(context.Background(), testConfig(t, "olap"), slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CUBE_DATA_SOURCE")
}
