package restore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/ledgerkeep/internal/backup"
	"github.com/mesh-intelligence/ledgerkeep/internal/events"
	"github.com/mesh-intelligence/ledgerkeep/internal/sqlite"
	"github.com/mesh-intelligence/ledgerkeep/internal/sqlite/sqlitetest"
	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

type fixture struct {
	engine    *sqlite.Engine
	validator *backup.Validator
	store     *backup.MemoryStore
	orch      *Orchestrator
	bus       *events.Bus
	progress  []types.ProgressEvent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	e := sqlitetest.NewMemory(t)
	sqlitetest.CreateGuaranteedSchema(t, e)
	sqlitetest.InsertCustomer(t, e, "c-1", "Acme")
	sqlitetest.InsertInvoice(t, e, "inv-1", "INV-1", "c-1")

	store := backup.NewMemoryStore()
	v := backup.NewValidator(e, store)
	bus := events.NewBus()
	f := &fixture{
		engine:    e,
		validator: v,
		store:     store,
		bus:       bus,
		orch:      New(e, v, bus, types.RestoreConfig{StageDelay: time.Millisecond}),
	}
	f.orch.Subscribe(func(ev types.ProgressEvent) { f.progress = append(f.progress, ev) })
	return f
}

func (f *fixture) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, f.engine.QueryRow(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestRestoreBackup_ValidBackup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	meta, err := f.validator.CreateValidatedBackup(ctx)
	require.NoError(t, err)

	sqlitetest.InsertCustomer(t, f.engine, "c-2", "Globex")
	require.Equal(t, 2, f.count(t, "customers"))

	var uiEvents []events.Name
	f.bus.SubscribeAll(func(ev events.Event) { uiEvents = append(uiEvents, ev.Name) })

	res, err := f.orch.RestoreBackup(ctx, meta.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Error)
	require.NotEmpty(t, res.EmergencyBackupID)
	assert.NotEqual(t, meta.ID, res.EmergencyBackupID)

	assert.Equal(t, 1, f.count(t, "customers"), "store matches the backup")
	assert.Equal(t, 1, f.count(t, "invoices"))

	require.NotEmpty(t, f.progress)
	for i := 1; i < len(f.progress); i++ {
		assert.Greater(t, f.progress[i].Percentage, f.progress[i-1].Percentage,
			"progress must strictly increase: %v then %v", f.progress[i-1], f.progress[i])
	}
	var stages []types.Stage
	for _, ev := range f.progress {
		stages = append(stages, ev.Stage)
	}
	assert.Equal(t, []types.Stage{
		types.StageValidate, types.StageSnapshot, types.StageRestore,
		types.StageVerify, types.StageUIUpdate, types.StageComplete,
	}, stages)

	last := f.progress[len(f.progress)-1]
	assert.Equal(t, 100, last.Percentage)
	assert.Equal(t, res.EmergencyBackupID, last.BackupID)

	assert.Equal(t, []events.Name{events.ForceRefresh, events.DatabaseReady}, uiEvents)

	// The emergency backup holds the pre-restore state and can undo.
	undo, err := f.orch.RestoreBackup(ctx, res.EmergencyBackupID)
	require.NoError(t, err)
	assert.True(t, undo.Success)
	assert.Equal(t, 2, f.count(t, "customers"))
}

func TestRestoreBackup_UnknownID(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.RestoreBackup(context.Background(), "missing")
	require.ErrorIs(t, err, types.ErrBackupNotFound)
	assert.False(t, res.Success)
	assert.Empty(t, res.EmergencyBackupID)
	assert.NotEmpty(t, res.Error)

	require.Len(t, f.progress, 2)
	assert.Equal(t, types.StageFailed, f.progress[1].Stage)

	list, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list, "no snapshot is taken for an invalid backup")
}

func TestRestoreBackup_VerificationFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// A snapshot of a store with an orphan skips the pre-flight check.
	sqlitetest.InsertOrphanInvoice(t, f.engine, "inv-orphan")
	bad, err := f.validator.CreateEmergencyBackup(ctx)
	require.NoError(t, err)
	_, err = f.engine.Exec(ctx, "DELETE FROM invoices WHERE invoice_id = 'inv-orphan'")
	require.NoError(t, err)
	sqlitetest.InsertCustomer(t, f.engine, "c-2", "Globex")

	res, err := f.orch.RestoreBackup(ctx, bad.ID)
	require.ErrorIs(t, err, types.ErrRestoreVerification)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.EmergencyBackupID)

	assert.Equal(t, 2, f.count(t, "customers"), "store keeps its pre-restore contents")
	assert.Equal(t, 1, f.count(t, "invoices"))

	last := f.progress[len(f.progress)-1]
	assert.Equal(t, types.StageFailed, last.Stage)

	on, err := f.engine.ForeignKeys(ctx)
	require.NoError(t, err)
	assert.True(t, on)
}

func TestRestoreBackup_ChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	meta, err := f.validator.CreateValidatedBackup(ctx)
	require.NoError(t, err)
	image, _, err := f.store.Load(ctx, meta.ID)
	require.NoError(t, err)
	require.NoError(t, f.store.Save(ctx, meta, image[:len(image)/2]))

	_, err = f.orch.RestoreBackup(ctx, meta.ID)
	require.ErrorIs(t, err, types.ErrChecksumMismatch)
}

func TestRestoreBackup_CancelledBeforeRestore(t *testing.T) {
	f := newFixture(t)
	meta, err := f.validator.CreateValidatedBackup(context.Background())
	require.NoError(t, err)
	sqlitetest.InsertCustomer(t, f.engine, "c-2", "Globex")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = f.orch.RestoreBackup(ctx, meta.ID)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, f.count(t, "customers"))
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	meta, err := f.validator.CreateValidatedBackup(ctx)
	require.NoError(t, err)

	calls := 0
	unsub := f.orch.Subscribe(func(types.ProgressEvent) { calls++ })
	unsub()

	_, err = f.orch.RestoreBackup(ctx, meta.ID)
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestRestoreBackup_ObserverReadsStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	meta, err := f.validator.CreateValidatedBackup(ctx)
	require.NoError(t, err)

	var reads []int
	f.orch.Subscribe(func(ev types.ProgressEvent) {
		var n int
		if err := f.engine.QueryRow(ctx, "SELECT COUNT(*) FROM customers").Scan(&n); err != nil {
			t.Errorf("stage %s: %v", ev.Stage, err)
			return
		}
		reads = append(reads, n)
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.RestoreBackup(ctx, meta.ID)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("restore blocked on an observer reading the store")
	}
	assert.Len(t, reads, len(f.progress))
}
