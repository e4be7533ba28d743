// Package journal selects and tunes the engine's journaling mode and runs
// the periodic write-ahead log checkpoint.
package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/ledgerkeep/internal/metrics"
	"github.com/mesh-intelligence/ledgerkeep/internal/sqlite"
	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

// Engine is the subset of the storage engine the manager drives.
type Engine interface {
	JournalMode(ctx context.Context) (string, error)
	SetJournalMode(ctx context.Context, mode string) (string, error)
	Checkpoint(ctx context.Context, mode sqlite.CheckpointMode) (sqlite.CheckpointResult, error)
	SetCacheSize(ctx context.Context, kib int) error
	SetTempStore(ctx context.Context, ts sqlite.TempStore) error
	SetAutoCheckpoint(ctx context.Context, pages int) error
	SetSynchronous(ctx context.Context, level sqlite.Synchronous) error
	SetBusyTimeout(ctx context.Context, d time.Duration) error
}

// Manager owns the durability/performance trade-off of one engine.
type Manager struct {
	engine Engine
	cfg    types.JournalConfig

	mu          sync.Mutex
	initialized bool
	mode        string

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a manager. Call Initialize to apply the configuration.
func NewManager(engine Engine, cfg types.JournalConfig) *Manager {
	return &Manager{engine: engine, cfg: cfg}
}

// ShouldSwitchToWAL reports whether a switch is needed from current.
func (m *Manager) ShouldSwitchToWAL(current string) bool {
	return m.cfg.PreferWAL && current != sqlite.JournalWAL
}

// Mode returns the journaling mode chosen by Initialize.
func (m *Manager) Mode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Initialize decides the journaling mode, applies the tuning pragmas and
// starts the checkpoint loop. A failed WAL switch falls back to a
// rollback journal with full synchronous durability and is not an error.
// A second call logs a warning and does nothing.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		log.WithField("mode", m.mode).Warn("journal manager already initialized")
		return nil
	}

	current, err := m.engine.JournalMode(ctx)
	if err != nil {
		return err
	}

	mode := current
	switch {
	case m.ShouldSwitchToWAL(current):
		if err := m.switchToWAL(ctx); err != nil {
			log.WithFields(log.Fields{"err": err, "from": current}).
				Warn("write-ahead logging unavailable, falling back to rollback journal")
			if mode, err = m.fallback(ctx); err != nil {
				return err
			}
		} else {
			mode = sqlite.JournalWAL
		}
	case !m.cfg.PreferWAL:
		if mode, err = m.fallback(ctx); err != nil {
			return err
		}
	}

	if err := m.applyTuning(ctx, mode); err != nil {
		return err
	}

	m.mode = mode
	m.initialized = true

	if mode == sqlite.JournalWAL && m.cfg.CheckpointInterval > 0 {
		m.startCheckpointLoop()
	}

	log.WithFields(log.Fields{"mode": mode, "previous": current}).Info("journal initialized")
	return nil
}

// switchToWAL forces a full checkpoint, switches the mode and verifies the
// engine reports write-ahead logging afterwards.
func (m *Manager) switchToWAL(ctx context.Context) error {
	if _, err := m.Checkpoint(ctx, sqlite.CheckpointFull); err != nil {
		return err
	}
	got, err := m.engine.SetJournalMode(ctx, sqlite.JournalWAL)
	if err != nil {
		return err
	}
	if got != sqlite.JournalWAL {
		return fmt.Errorf("%w: engine reports %q", types.ErrNotWAL, got)
	}
	return nil
}

// fallback selects a rollback journal with synchronous durability. The
// engine may keep its own mode (in-memory stores); that is logged only.
func (m *Manager) fallback(ctx context.Context) (string, error) {
	got, err := m.engine.SetJournalMode(ctx, sqlite.JournalDelete)
	if err != nil {
		return "", err
	}
	if got != sqlite.JournalDelete {
		log.WithField("mode", got).Warn("engine kept its journal mode")
	}
	if err := m.engine.SetSynchronous(ctx, sqlite.SynchronousFull); err != nil {
		return "", err
	}
	return got, nil
}

func (m *Manager) applyTuning(ctx context.Context, mode string) error {
	if m.cfg.CacheSizeKiB > 0 {
		if err := m.engine.SetCacheSize(ctx, m.cfg.CacheSizeKiB); err != nil {
			return err
		}
	}
	if err := m.engine.SetTempStore(ctx, sqlite.TempStoreMemory); err != nil {
		return err
	}
	if m.cfg.BusyTimeout > 0 {
		if err := m.engine.SetBusyTimeout(ctx, m.cfg.BusyTimeout); err != nil {
			return err
		}
	}
	if mode == sqlite.JournalWAL {
		if m.cfg.AutoCheckpointPages > 0 {
			if err := m.engine.SetAutoCheckpoint(ctx, m.cfg.AutoCheckpointPages); err != nil {
				return err
			}
		}
		if err := m.engine.SetSynchronous(ctx, sqlite.SynchronousFull); err != nil {
			return err
		}
	}
	return nil
}

// Checkpoint runs one write-ahead log checkpoint.
func (m *Manager) Checkpoint(ctx context.Context, mode sqlite.CheckpointMode) (sqlite.CheckpointResult, error) {
	res, err := m.engine.Checkpoint(ctx, mode)
	metrics.CheckpointsTotal.WithLabelValues(string(mode), metrics.Status(err)).Inc()
	if err != nil {
		return res, err
	}
	if res.Busy {
		log.WithFields(log.Fields{"mode": mode, "log": res.LogFrames, "checkpointed": res.Checkpointed}).
			Debug("checkpoint could not complete, readers busy")
	}
	return res, nil
}

// Close stops the checkpoint loop, waiting for a running checkpoint to
// finish, and in write-ahead mode truncates the log. Close is safe to call
// more than once.
func (m *Manager) Close(ctx context.Context) error {
	m.stopCheckpointLoop()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil
	}
	m.initialized = false
	if m.mode != sqlite.JournalWAL {
		return nil
	}
	_, err := m.Checkpoint(ctx, sqlite.CheckpointTruncate)
	return err
}

// startCheckpointLoop starts the periodic checkpoint goroutine.
func (m *Manager) startCheckpointLoop() {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()

	if m.cancel != nil {
		return // already running
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	go m.checkpointLoop(ctx, done)
}

// stopCheckpointLoop cancels the checkpoint goroutine and waits for it.
func (m *Manager) stopCheckpointLoop() {
	m.loopMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) checkpointLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Checkpoint(ctx, sqlite.CheckpointPassive); err != nil && ctx.Err() == nil {
				log.WithField("err", err).Warn("periodic checkpoint failed")
			}
		}
	}
}
