// Package sqlitetest provides engine fixtures for tests in other packages.
package sqlitetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/ledgerkeep/internal/sqlite"
)

// NewMemory opens an in-memory engine closed at test cleanup.
func NewMemory(t testing.TB) *sqlite.Engine {
	t.Helper()
	e, err := sqlite.OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

// NewFile opens a file-backed engine in a temporary directory.
func NewFile(t testing.TB) *sqlite.Engine {
	t.Helper()
	e, err := sqlite.OpenDataDir(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

// CreateGuaranteedSchema creates the rebuild schema with enforcement on.
func CreateGuaranteedSchema(t testing.TB, e *sqlite.Engine) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.SetForeignKeys(ctx, true))
	for _, s := range sqlite.GuaranteedSchema() {
		_, err := e.Exec(ctx, s.SQL)
		require.NoError(t, err, s.Name)
	}
}

// InsertCustomer inserts a customer row.
func InsertCustomer(t testing.TB, e *sqlite.Engine, id, name string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := e.Exec(context.Background(),
		"INSERT INTO customers (customer_id, name, created_at, updated_at) VALUES (?, ?, ?, ?)",
		id, name, now, now,
	)
	require.NoError(t, err)
}

// InsertInvoice inserts an invoice for customerID.
func InsertInvoice(t testing.TB, e *sqlite.Engine, id, number, customerID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := e.Exec(context.Background(),
		`INSERT INTO invoices (invoice_id, number, customer_id, issued_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, number, customerID, now, now, now,
	)
	require.NoError(t, err)
}

// InsertOrphanInvoice inserts an invoice pointing at a customer that does not
// exist, with enforcement temporarily off. Enforcement is left on.
func InsertOrphanInvoice(t testing.TB, e *sqlite.Engine, id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.SetForeignKeys(ctx, false))
	InsertInvoice(t, e, id, "ORPHAN-"+id, "no-such-customer")
	require.NoError(t, e.SetForeignKeys(ctx, true))
}

// Recorder collects every statement an engine sends.
type Recorder struct {
	ch chan string
}

// Record installs a Recorder on e.
func Record(e *sqlite.Engine) *Recorder {
	r := &Recorder{ch: make(chan string, 4096)}
	e.SetTracer(func(q string) {
		select {
		case r.ch <- q:
		default:
		}
	})
	return r
}

// Statements drains and returns the statements recorded so far.
func (r *Recorder) Statements() []string {
	var out []string
	for {
		select {
		case q := <-r.ch:
			out = append(out, q)
		default:
			return out
		}
	}
}
