package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupBootstrapDB opens an in-memory engine with every bootstrap group
// created.
func setupBootstrapDB(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()

	e, err := OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	for _, g := range BootstrapGroups() {
		for _, s := range g.Statements {
			_, err := e.Exec(ctx, s.SQL)
			require.NoError(t, err, s.Name)
		}
	}
	return e
}

func TestSeedBaseline(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"seeds settings", "SELECT COUNT(*) FROM app_settings", len(baselineSettings)},
		{"seeds currencies", "SELECT COUNT(*) FROM currencies", len(baselineCurrencies)},
		{"seeds tax rates", "SELECT COUNT(*) FROM tax_rates", len(baselineTaxRates)},
		{"seeds units", "SELECT COUNT(*) FROM units", len(baselineUnits)},
		{"seeds one document series", "SELECT COUNT(*) FROM document_series", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			e := setupBootstrapDB(t)

			seeded, err := e.SeedBaseline(ctx)
			require.NoError(t, err)
			assert.True(t, seeded)

			var n int
			require.NoError(t, e.QueryRow(ctx, tt.query).Scan(&n))
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestSeedBaselineIdempotent(t *testing.T) {
	ctx := context.Background()
	e := setupBootstrapDB(t)

	first, err := e.IsFirstRun(ctx)
	require.NoError(t, err)
	assert.True(t, first)

	seeded, err := e.SeedBaseline(ctx)
	require.NoError(t, err)
	require.True(t, seeded)

	seeded, err = e.SeedBaseline(ctx)
	require.NoError(t, err)
	assert.False(t, seeded, "second seed must be a no-op")

	var version string
	require.NoError(t, e.QueryRow(ctx, "SELECT value FROM app_settings WHERE key = 'schema_version'").Scan(&version))
	assert.Equal(t, SchemaVersion, version)
}

func TestSeedBaselineWithoutSettingsTable(t *testing.T) {
	ctx := context.Background()
	e, err := OpenMemory(ctx)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.SeedBaseline(ctx)
	assert.Error(t, err)
}
