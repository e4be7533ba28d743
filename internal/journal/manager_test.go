package journal

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/ledgerkeep/internal/sqlite"
	"github.com/mesh-intelligence/ledgerkeep/internal/sqlite/sqlitetest"
	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

func testConfig() types.JournalConfig {
	return types.JournalConfig{
		PreferWAL:           true,
		CacheSizeKiB:        4096,
		AutoCheckpointPages: 500,
		CheckpointInterval:  time.Hour,
		BusyTimeout:         time.Second,
	}
}

func countMatching(stmts []string, substr string) int {
	n := 0
	for _, s := range stmts {
		if strings.Contains(s, substr) {
			n++
		}
	}
	return n
}

func TestManager_SwitchesFileStoreToWAL(t *testing.T) {
	ctx := context.Background()
	e := sqlitetest.NewFile(t)
	rec := sqlitetest.Record(e)

	m := NewManager(e, testConfig())
	require.NoError(t, m.Initialize(ctx))
	defer m.Close(ctx)

	assert.Equal(t, sqlite.JournalWAL, m.Mode())
	mode, err := e.JournalMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, sqlite.JournalWAL, mode)

	stmts := rec.Statements()
	assert.Equal(t, 1, countMatching(stmts, "wal_checkpoint(FULL)"), "full checkpoint before switch")
	assert.Equal(t, 1, countMatching(stmts, "journal_mode = WAL"))
	assert.Equal(t, 1, countMatching(stmts, "wal_autocheckpoint"))
}

func TestManager_AlreadyWALIssuesNoSwitchCommands(t *testing.T) {
	ctx := context.Background()
	e := sqlitetest.NewFile(t)
	_, err := e.SetJournalMode(ctx, sqlite.JournalWAL)
	require.NoError(t, err)

	m := NewManager(e, testConfig())
	assert.False(t, m.ShouldSwitchToWAL(sqlite.JournalWAL))

	rec := sqlitetest.Record(e)
	require.NoError(t, m.Initialize(ctx))
	defer m.Close(ctx)

	stmts := rec.Statements()
	assert.Zero(t, countMatching(stmts, "wal_checkpoint("), "no checkpoint expected: %v", stmts)
	assert.Zero(t, countMatching(stmts, "journal_mode ="), "no mode switch expected: %v", stmts)
	assert.Equal(t, sqlite.JournalWAL, m.Mode())
}

func TestManager_InMemoryFallsBackWithoutError(t *testing.T) {
	ctx := context.Background()
	e := sqlitetest.NewMemory(t)
	rec := sqlitetest.Record(e)

	m := NewManager(e, testConfig())
	require.NoError(t, m.Initialize(ctx))
	defer m.Close(ctx)

	assert.Equal(t, sqlite.JournalMemory, m.Mode())
	stmts := rec.Statements()
	assert.Equal(t, 1, countMatching(stmts, "journal_mode = DELETE"))
	assert.Equal(t, 1, countMatching(stmts, "synchronous = FULL"))
	assert.Zero(t, countMatching(stmts, "wal_autocheckpoint"), "no autocheckpoint outside WAL")
}

func TestManager_WALNotPreferred(t *testing.T) {
	ctx := context.Background()
	e := sqlitetest.NewFile(t)
	cfg := testConfig()
	cfg.PreferWAL = false

	m := NewManager(e, cfg)
	assert.False(t, m.ShouldSwitchToWAL(sqlite.JournalDelete))
	require.NoError(t, m.Initialize(ctx))
	defer m.Close(ctx)

	assert.Equal(t, sqlite.JournalDelete, m.Mode())
}

func TestManager_InitializeTwiceIsNoOp(t *testing.T) {
	ctx := context.Background()
	e := sqlitetest.NewFile(t)
	m := NewManager(e, testConfig())
	require.NoError(t, m.Initialize(ctx))
	defer m.Close(ctx)

	rec := sqlitetest.Record(e)
	require.NoError(t, m.Initialize(ctx))
	assert.Empty(t, rec.Statements(), "second Initialize must not reconfigure")
}

// refusingEngine wraps an engine and reports that the WAL switch did not
// take effect.
type refusingEngine struct {
	*sqlite.Engine
}

func (r refusingEngine) SetJournalMode(ctx context.Context, mode string) (string, error) {
	if mode == sqlite.JournalWAL {
		return sqlite.JournalDelete, nil
	}
	return r.Engine.SetJournalMode(ctx, mode)
}

func TestManager_SwitchVerificationFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	e := sqlitetest.NewFile(t)
	m := NewManager(refusingEngine{e}, testConfig())

	require.ErrorIs(t, m.switchToWAL(ctx), types.ErrNotWAL)
	require.NoError(t, m.Initialize(ctx))
	defer m.Close(ctx)
	assert.Equal(t, sqlite.JournalDelete, m.Mode())
}

func TestManager_PeriodicCheckpoint(t *testing.T) {
	ctx := context.Background()
	e := sqlitetest.NewFile(t)

	var mu sync.Mutex
	var checkpoints int
	e.SetTracer(func(q string) {
		if strings.Contains(q, "wal_checkpoint(PASSIVE)") {
			mu.Lock()
			checkpoints++
			mu.Unlock()
		}
	})

	cfg := testConfig()
	cfg.CheckpointInterval = 10 * time.Millisecond
	m := NewManager(e, cfg)
	require.NoError(t, m.Initialize(ctx))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return checkpoints >= 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Close(ctx))
	require.NoError(t, m.Close(ctx), "Close must be idempotent")
}

func TestManager_CloseWaitsForRunningCheckpoint(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		e, err := sqlite.OpenDataDir(ctx, t.TempDir())
		require.NoError(t, err)

		cfg := testConfig()
		cfg.CheckpointInterval = time.Microsecond
		m := NewManager(e, cfg)
		require.NoError(t, m.Initialize(ctx))
		time.Sleep(time.Millisecond)

		require.NoError(t, m.Close(ctx))
		require.NoError(t, e.Close())
	}
}
