package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is written to app_settings on first run.
const SchemaVersion = "1"

// baselineSetting is an app_settings row seeded on first run.
type baselineSetting struct {
	key   string
	value string
}

type baselineCurrency struct {
	code     string
	name     string
	symbol   string
	decimals int
}

type baselineTaxRate struct {
	code string
	name string
	rate float64
}

var baselineSettings = []baselineSetting{
	{"schema_version", SchemaVersion},
	{"default_currency", "EUR"},
	{"locale", "en"},
	{"fiscal_year_start", "01-01"},
}

var baselineCurrencies = []baselineCurrency{
	{"EUR", "Euro", "€", 2},
	{"USD", "US Dollar", "$", 2},
	{"GBP", "Pound Sterling", "£", 2},
}

var baselineTaxRates = []baselineTaxRate{
	{"standard", "Standard rate", 21},
	{"reduced", "Reduced rate", 10},
	{"super_reduced", "Super-reduced rate", 4},
	{"exempt", "Exempt", 0},
}

var baselineUnits = [][2]string{
	{"unit", "Unit"},
	{"hour", "Hour"},
	{"kg", "Kilogram"},
}

// IsFirstRun reports whether app_settings holds no rows.
func (e *Engine) IsFirstRun(ctx context.Context) (bool, error) {
	var count int
	if err := e.QueryRow(ctx, "SELECT COUNT(*) FROM app_settings").Scan(&count); err != nil {
		return false, fmt.Errorf("counting app_settings: %w", err)
	}
	return count == 0, nil
}

// SeedBaseline inserts the baseline configuration in one transaction. It is
// a no-op returning false when app_settings already has rows.
func (e *Engine) SeedBaseline(ctx context.Context) (bool, error) {
	first, err := e.IsFirstRun(ctx)
	if err != nil {
		return false, err
	}
	if !first {
		return false, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)

	err = e.InTx(ctx, func(tx *Tx) error {
		for _, s := range baselineSettings {
			if _, err := tx.Exec(ctx,
				"INSERT INTO app_settings (key, value, updated_at) VALUES (?, ?, ?)",
				s.key, s.value, now,
			); err != nil {
				return fmt.Errorf("seeding setting %s: %w", s.key, err)
			}
		}
		for _, c := range baselineCurrencies {
			if _, err := tx.Exec(ctx,
				"INSERT OR IGNORE INTO currencies (code, name, symbol, decimals) VALUES (?, ?, ?, ?)",
				c.code, c.name, c.symbol, c.decimals,
			); err != nil {
				return fmt.Errorf("seeding currency %s: %w", c.code, err)
			}
		}
		for _, r := range baselineTaxRates {
			if _, err := tx.Exec(ctx,
				"INSERT OR IGNORE INTO tax_rates (tax_rate_id, code, name, rate) VALUES (?, ?, ?, ?)",
				newUUID(), r.code, r.name, r.rate,
			); err != nil {
				return fmt.Errorf("seeding tax rate %s: %w", r.code, err)
			}
		}
		for _, u := range baselineUnits {
			if _, err := tx.Exec(ctx,
				"INSERT OR IGNORE INTO units (code, name) VALUES (?, ?)", u[0], u[1],
			); err != nil {
				return fmt.Errorf("seeding unit %s: %w", u[0], err)
			}
		}
		if _, err := tx.Exec(ctx,
			"INSERT OR IGNORE INTO document_series (series_id, prefix, next_number) VALUES (?, ?, ?)",
			newUUID(), "INV", 1,
		); err != nil {
			return fmt.Errorf("seeding document series: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// newUUID generates a UUID v7 string, falling back to v4.
func newUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
