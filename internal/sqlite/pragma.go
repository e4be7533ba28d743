package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

// Journal modes understood by the engine.
const (
	JournalWAL    = "wal"
	JournalDelete = "delete"
	JournalMemory = "memory"
)

// CheckpointMode selects the wal_checkpoint variant.
type CheckpointMode string

// Checkpoint modes.
const (
	CheckpointPassive  CheckpointMode = "PASSIVE"
	CheckpointFull     CheckpointMode = "FULL"
	CheckpointRestart  CheckpointMode = "RESTART"
	CheckpointTruncate CheckpointMode = "TRUNCATE"
)

// Synchronous is the durability level of the synchronous pragma.
type Synchronous string

// Synchronous levels.
const (
	SynchronousOff    Synchronous = "OFF"
	SynchronousNormal Synchronous = "NORMAL"
	SynchronousFull   Synchronous = "FULL"
)

// TempStore selects where temporary tables and indices live.
type TempStore string

// Temp store locations.
const (
	TempStoreDefault TempStore = "DEFAULT"
	TempStoreFile    TempStore = "FILE"
	TempStoreMemory  TempStore = "MEMORY"
)

// CheckpointResult holds the three counters returned by wal_checkpoint.
type CheckpointResult struct {
	Busy         bool
	LogFrames    int
	Checkpointed int
}

// SetForeignKeys toggles referential-integrity enforcement. The engine
// ignores the toggle inside an open transaction.
func (e *Engine) SetForeignKeys(ctx context.Context, on bool) error {
	v := "OFF"
	if on {
		v = "ON"
	}
	if _, err := e.Exec(ctx, "PRAGMA foreign_keys = "+v); err != nil {
		return fmt.Errorf("setting foreign_keys %s: %w", v, err)
	}
	return nil
}

// ForeignKeys reports whether enforcement is on.
func (e *Engine) ForeignKeys(ctx context.Context) (bool, error) {
	var on int
	if err := e.QueryRow(ctx, "PRAGMA foreign_keys").Scan(&on); err != nil {
		return false, fmt.Errorf("reading foreign_keys: %w", err)
	}
	return on == 1, nil
}

// JournalMode returns the current journaling mode in lower case.
func (e *Engine) JournalMode(ctx context.Context) (string, error) {
	var mode string
	if err := e.QueryRow(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		return "", fmt.Errorf("reading journal_mode: %w", err)
	}
	return strings.ToLower(mode), nil
}

// SetJournalMode asks for mode and returns the mode the engine reports
// afterwards, which may differ (in-memory stores stay in "memory").
func (e *Engine) SetJournalMode(ctx context.Context, mode string) (string, error) {
	var got string
	if err := e.QueryRow(ctx, "PRAGMA journal_mode = "+strings.ToUpper(mode)).Scan(&got); err != nil {
		return "", fmt.Errorf("setting journal_mode %s: %w", mode, err)
	}
	return strings.ToLower(got), nil
}

// Checkpoint folds the write-ahead log back into the main file.
func (e *Engine) Checkpoint(ctx context.Context, mode CheckpointMode) (CheckpointResult, error) {
	var busy, logFrames, checkpointed int
	err := e.QueryRow(ctx, fmt.Sprintf("PRAGMA wal_checkpoint(%s)", mode)).Scan(&busy, &logFrames, &checkpointed)
	if err != nil {
		return CheckpointResult{}, fmt.Errorf("wal_checkpoint(%s): %w", mode, err)
	}
	return CheckpointResult{Busy: busy != 0, LogFrames: logFrames, Checkpointed: checkpointed}, nil
}

// SetCacheSize sets the page cache size in KiB.
func (e *Engine) SetCacheSize(ctx context.Context, kib int) error {
	// A negative value is interpreted by the engine as KiB rather than pages.
	if _, err := e.Exec(ctx, fmt.Sprintf("PRAGMA cache_size = %d", -kib)); err != nil {
		return fmt.Errorf("setting cache_size: %w", err)
	}
	return nil
}

// SetTempStore sets the temp_store location.
func (e *Engine) SetTempStore(ctx context.Context, ts TempStore) error {
	if _, err := e.Exec(ctx, "PRAGMA temp_store = "+string(ts)); err != nil {
		return fmt.Errorf("setting temp_store: %w", err)
	}
	return nil
}

// SetAutoCheckpoint sets the WAL auto-checkpoint threshold in pages.
func (e *Engine) SetAutoCheckpoint(ctx context.Context, pages int) error {
	if _, err := e.Exec(ctx, fmt.Sprintf("PRAGMA wal_autocheckpoint = %d", pages)); err != nil {
		return fmt.Errorf("setting wal_autocheckpoint: %w", err)
	}
	return nil
}

// SetSynchronous sets the synchronous durability level.
func (e *Engine) SetSynchronous(ctx context.Context, level Synchronous) error {
	if _, err := e.Exec(ctx, "PRAGMA synchronous = "+string(level)); err != nil {
		return fmt.Errorf("setting synchronous: %w", err)
	}
	return nil
}

// SetBusyTimeout sets how long the engine retries a locked database.
func (e *Engine) SetBusyTimeout(ctx context.Context, d time.Duration) error {
	if _, err := e.Exec(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", d.Milliseconds())); err != nil {
		return fmt.Errorf("setting busy_timeout: %w", err)
	}
	return nil
}

// ForeignKeyCheck runs the foreign-key violation scan over the main schema.
func (e *Engine) ForeignKeyCheck(ctx context.Context) ([]types.FKViolation, error) {
	return foreignKeyCheck(ctx, e)
}

// ForeignKeyCheck runs the foreign-key violation scan inside the transaction.
func (t *Tx) ForeignKeyCheck(ctx context.Context) ([]types.FKViolation, error) {
	return foreignKeyCheck(ctx, t)
}

func foreignKeyCheck(ctx context.Context, r runner) ([]types.FKViolation, error) {
	rows, err := r.Query(ctx, "PRAGMA main.foreign_key_check")
	if err != nil {
		return nil, fmt.Errorf("foreign_key_check: %w", err)
	}
	defer rows.Close()

	var out []types.FKViolation
	for rows.Next() {
		var (
			v     types.FKViolation
			rowID sql.NullInt64
		)
		if err := rows.Scan(&v.Table, &rowID, &v.Parent, &v.FKIndex); err != nil {
			return nil, fmt.Errorf("scanning foreign_key_check row: %w", err)
		}
		v.RowID = rowID.Int64
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating foreign_key_check: %w", err)
	}
	return out, nil
}

// IntegrityCheck runs the physical integrity scan. A healthy store returns
// exactly one message, types.IntegrityOK.
func (e *Engine) IntegrityCheck(ctx context.Context) ([]string, error) {
	return integrityCheck(ctx, e)
}

// IntegrityCheck runs the physical integrity scan inside the transaction.
func (t *Tx) IntegrityCheck(ctx context.Context) ([]string, error) {
	return integrityCheck(ctx, t)
}

func integrityCheck(ctx context.Context, r runner) ([]string, error) {
	rows, err := r.Query(ctx, "PRAGMA main.integrity_check")
	if err != nil {
		return nil, fmt.Errorf("integrity_check: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return nil, fmt.Errorf("scanning integrity_check row: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating integrity_check: %w", err)
	}
	return out, nil
}

// IntegrityOK reports whether msgs is the single "ok" sentinel.
func IntegrityOK(msgs []string) bool {
	return len(msgs) == 1 && strings.EqualFold(msgs[0], types.IntegrityOK)
}
