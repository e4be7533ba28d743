package sqlite

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

func newMemory(t *testing.T) *Engine {
	t.Helper()
	e, err := OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func createGuaranteed(t *testing.T, e *Engine) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.SetForeignKeys(ctx, true))
	for _, s := range GuaranteedSchema() {
		_, err := e.Exec(ctx, s.SQL)
		require.NoError(t, err, s.Name)
	}
}

func insertOrphan(t *testing.T, e *Engine) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Format(time.RFC3339)
	require.NoError(t, e.SetForeignKeys(ctx, false))
	_, err := e.Exec(ctx,
		`INSERT INTO invoices (invoice_id, number, customer_id, issued_at, created_at, updated_at)
		 VALUES ('inv-1', 'INV-1', 'ghost', ?, ?, ?)`, now, now, now)
	require.NoError(t, err)
	require.NoError(t, e.SetForeignKeys(ctx, true))
}

func TestEngine_OpenFileCreatesDirectory(t *testing.T) {
	dir := t.TempDir() + "/nested/data"
	e, err := OpenDataDir(context.Background(), dir)
	require.NoError(t, err)
	defer e.Close()

	assert.False(t, e.InMemory())
	assert.True(t, strings.HasSuffix(e.Path(), DatabaseFile))

	require.NoError(t, e.Close())
	require.NoError(t, e.Close(), "Close must be idempotent")
}

func TestEngine_StatementsAfterCloseFail(t *testing.T) {
	ctx := context.Background()
	e, err := OpenMemory(ctx)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	var n int
	assert.Error(t, e.QueryRow(ctx, "SELECT 1").Scan(&n))
	_, err = e.Checkpoint(ctx, CheckpointPassive)
	assert.Error(t, err)
	_, err = e.Exec(ctx, "SELECT 1")
	assert.Error(t, err)
}

func TestEngine_ForeignKeysToggle(t *testing.T) {
	ctx := context.Background()
	e := newMemory(t)

	require.NoError(t, e.SetForeignKeys(ctx, true))
	on, err := e.ForeignKeys(ctx)
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, e.SetForeignKeys(ctx, false))
	on, err = e.ForeignKeys(ctx)
	require.NoError(t, err)
	assert.False(t, on)
}

func TestEngine_ForeignKeyCheck(t *testing.T) {
	ctx := context.Background()
	e := newMemory(t)
	createGuaranteed(t, e)

	v, err := e.ForeignKeyCheck(ctx)
	require.NoError(t, err)
	assert.Empty(t, v)

	insertOrphan(t, e)

	v, err = e.ForeignKeyCheck(ctx)
	require.NoError(t, err)
	require.Len(t, v, 1)
	assert.Equal(t, "invoices", v[0].Table)
	assert.Equal(t, "customers", v[0].Parent)
	assert.NotZero(t, v[0].RowID)
}

func TestEngine_IntegrityCheck(t *testing.T) {
	ctx := context.Background()
	e := newMemory(t)
	createGuaranteed(t, e)

	msgs, err := e.IntegrityCheck(ctx)
	require.NoError(t, err)
	assert.True(t, IntegrityOK(msgs), "got %v", msgs)

	assert.False(t, IntegrityOK(nil))
	assert.False(t, IntegrityOK([]string{"ok", "ok"}))
	assert.False(t, IntegrityOK([]string{"row 3 missing from index"}))
}

func TestEngine_JournalModeFile(t *testing.T) {
	ctx := context.Background()
	e, err := OpenDataDir(ctx, t.TempDir())
	require.NoError(t, err)
	defer e.Close()

	mode, err := e.JournalMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, JournalDelete, mode)

	got, err := e.SetJournalMode(ctx, JournalWAL)
	require.NoError(t, err)
	assert.Equal(t, JournalWAL, got)

	_, err = e.Exec(ctx, "CREATE TABLE t (x INTEGER)")
	require.NoError(t, err)
	_, err = e.Checkpoint(ctx, CheckpointPassive)
	require.NoError(t, err)
}

func TestEngine_JournalModeMemoryStaysMemory(t *testing.T) {
	ctx := context.Background()
	e := newMemory(t)

	got, err := e.SetJournalMode(ctx, JournalWAL)
	require.NoError(t, err)
	assert.Equal(t, JournalMemory, got)
}

func TestEngine_TuningPragmas(t *testing.T) {
	ctx := context.Background()
	e := newMemory(t)

	require.NoError(t, e.SetCacheSize(ctx, 2048))
	require.NoError(t, e.SetTempStore(ctx, TempStoreMemory))
	require.NoError(t, e.SetSynchronous(ctx, SynchronousFull))
	require.NoError(t, e.SetBusyTimeout(ctx, 3*time.Second))
	require.NoError(t, e.SetAutoCheckpoint(ctx, 500))

	var cache int
	require.NoError(t, e.QueryRow(ctx, "PRAGMA cache_size").Scan(&cache))
	assert.Equal(t, -2048, cache)
}

func TestEngine_ListAndDropUserObjects(t *testing.T) {
	ctx := context.Background()
	e := newMemory(t)
	createGuaranteed(t, e)
	_, err := e.Exec(ctx, "CREATE VIEW open_invoices AS SELECT * FROM invoices WHERE status = 'open'")
	require.NoError(t, err)

	objs, err := e.ListObjects(ctx)
	require.NoError(t, err)
	for _, o := range objs {
		assert.False(t, strings.HasPrefix(o.Name, "sqlite_"), "reserved object listed: %s", o.Name)
	}

	tables, err := e.TableNames(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, GuaranteedTables(), tables)

	n, err := e.CountTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, e.SetForeignKeys(ctx, false))
	dropped, err := e.DropUserObjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(objs), dropped)

	n, err = e.CountTables(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, e.Vacuum(ctx))
}

func TestEngine_InTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	e := newMemory(t)

	err := e.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.Exec(ctx, createCustomers); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, "CREATE TABLE broken (")
		return err
	})
	require.Error(t, err)

	n, err := e.CountTables(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "failed transaction must leave no tables")
}

func TestEngine_TracerSeesStatements(t *testing.T) {
	ctx := context.Background()
	e := newMemory(t)

	var seen []string
	e.SetTracer(func(q string) { seen = append(seen, q) })
	_, err := e.JournalMode(ctx)
	require.NoError(t, err)
	e.SetTracer(nil)
	_, err = e.JournalMode(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"PRAGMA journal_mode"}, seen)
}

func TestEngine_ExportAndOpenImage(t *testing.T) {
	ctx := context.Background()
	e := newMemory(t)
	createGuaranteed(t, e)
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := e.Exec(ctx, "INSERT INTO customers (customer_id, name, created_at, updated_at) VALUES ('c1', 'Acme', ?, ?)", now, now)
	require.NoError(t, err)

	image, err := e.Export(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, image)

	copyEngine, err := OpenImage(ctx, image)
	require.NoError(t, err)
	defer copyEngine.Close()

	var name string
	require.NoError(t, copyEngine.QueryRow(ctx, "SELECT name FROM customers WHERE customer_id = 'c1'").Scan(&name))
	assert.Equal(t, "Acme", name)

	msgs, err := copyEngine.IntegrityCheck(ctx)
	require.NoError(t, err)
	assert.True(t, IntegrityOK(msgs))
}

func TestEngine_OpenImageRejectsGarbage(t *testing.T) {
	_, err := OpenImage(context.Background(), []byte(strings.Repeat("not a database ", 512)))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrBackupInvalid)
}

func TestEngine_RestoreImage(t *testing.T) {
	ctx := context.Background()
	src := newMemory(t)
	createGuaranteed(t, src)
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := src.Exec(ctx, "INSERT INTO customers (customer_id, name, created_at, updated_at) VALUES ('c1', 'Acme', ?, ?)", now, now)
	require.NoError(t, err)
	image, err := src.Export(ctx)
	require.NoError(t, err)

	dst := newMemory(t)
	_, err = dst.Exec(ctx, "CREATE TABLE scratch (x INTEGER)")
	require.NoError(t, err)

	verified := false
	err = dst.RestoreImage(ctx, image, func(ctx context.Context, tx *Tx) error {
		v, err := tx.ForeignKeyCheck(ctx)
		if err != nil {
			return err
		}
		msgs, err := tx.IntegrityCheck(ctx)
		if err != nil {
			return err
		}
		verified = len(v) == 0 && IntegrityOK(msgs)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, verified)

	tables, err := dst.TableNames(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, GuaranteedTables(), tables)

	var n int
	require.NoError(t, dst.QueryRow(ctx, "SELECT COUNT(*) FROM customers").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestEngine_RestoreImageRollsBackWhenVerifyFails(t *testing.T) {
	ctx := context.Background()
	src := newMemory(t)
	createGuaranteed(t, src)
	image, err := src.Export(ctx)
	require.NoError(t, err)

	dst := newMemory(t)
	_, err = dst.Exec(ctx, "CREATE TABLE keep_me (x INTEGER)")
	require.NoError(t, err)
	require.NoError(t, dst.SetForeignKeys(ctx, true))

	err = dst.RestoreImage(ctx, image, func(ctx context.Context, tx *Tx) error {
		return types.ErrRestoreVerification
	})
	require.ErrorIs(t, err, types.ErrRestoreVerification)

	tables, err := dst.TableNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep_me"}, tables)

	on, err := dst.ForeignKeys(ctx)
	require.NoError(t, err)
	assert.True(t, on, "enforcement must be restored after the copy")
}

func TestSchemaGroups(t *testing.T) {
	groups := BootstrapGroups()
	require.Len(t, groups, 5)
	assert.Equal(t, []string{"lookup", "catalog", "transactional", "accounting", "auxiliary"},
		[]string{groups[0].Name, groups[1].Name, groups[2].Name, groups[3].Name, groups[4].Name})

	for _, s := range groups[0].Statements {
		assert.NotContains(t, s.SQL, "REFERENCES", "lookup table %s must not have foreign keys", s.Name)
	}

	groups[0].Statements[0].Name = "mutated"
	assert.Equal(t, "app_settings", BootstrapGroups()[0].Statements[0].Name, "BootstrapGroups must return a copy")
}

func TestBootstrapTables(t *testing.T) {
	tables := BootstrapTables()
	assert.Len(t, tables, 16)
	assert.Equal(t, "app_settings", tables[0])
	assert.Subset(t, tables, GuaranteedTables())
	for _, name := range tables {
		assert.False(t, strings.HasPrefix(name, "idx_"), name)
	}
}
