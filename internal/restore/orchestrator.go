// Package restore replaces the live store with a backup, reporting staged
// progress to observers.
package restore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/ledgerkeep/internal/events"
	"github.com/mesh-intelligence/ledgerkeep/internal/metrics"
	"github.com/mesh-intelligence/ledgerkeep/internal/sqlite"
	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

// Stage percentages.
const (
	percentValidate = 10
	percentSnapshot = 30
	percentRestore  = 55
	percentVerify   = 80
	percentUIUpdate = 90
	percentComplete = 100
)

// Engine replaces the store's content with an image inside one
// transaction, running verify before commit.
type Engine interface {
	RestoreImage(ctx context.Context, image []byte, verify func(ctx context.Context, tx *sqlite.Tx) error) error
}

// Backups loads backups and takes safety snapshots.
type Backups interface {
	Load(ctx context.Context, id string) ([]byte, types.BackupMetadata, error)
	CreateEmergencyBackup(ctx context.Context) (types.BackupMetadata, error)
}

// Observer receives progress events. Observers run on the restoring
// goroutine and are never called while the restore transaction is open.
type Observer func(types.ProgressEvent)

// Orchestrator runs restores against one engine.
type Orchestrator struct {
	engine     Engine
	backups    Backups
	bus        events.Publisher
	stageDelay time.Duration

	mu        sync.RWMutex
	nextID    uint64
	observers map[uint64]Observer
}

// New returns an Orchestrator. bus may be nil.
func New(engine Engine, backups Backups, bus events.Publisher, cfg types.RestoreConfig) *Orchestrator {
	return &Orchestrator{
		engine:     engine,
		backups:    backups,
		bus:        bus,
		stageDelay: cfg.StageDelay,
		observers:  make(map[uint64]Observer),
	}
}

// Subscribe registers obs for progress events and returns a function that
// unregisters it.
func (o *Orchestrator) Subscribe(obs Observer) (unsubscribe func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	o.observers[id] = obs
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.observers, id)
	}
}

func (o *Orchestrator) emit(ev types.ProgressEvent) {
	ev.Timestamp = time.Now().UTC()

	o.mu.RLock()
	obs := make([]Observer, 0, len(o.observers))
	for _, fn := range o.observers {
		obs = append(obs, fn)
	}
	o.mu.RUnlock()

	log.WithFields(log.Fields{"stage": ev.Stage, "percent": ev.Percentage}).Debug(ev.Message)
	for _, fn := range obs {
		fn(ev)
	}
}

// pause is the cosmetic delay between stages.
func (o *Orchestrator) pause(ctx context.Context) error {
	if err := ctx.Err(); err != nil || o.stageDelay <= 0 {
		return err
	}
	t := time.NewTimer(o.stageDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RestoreBackup validates backup id, snapshots the current store as an
// emergency backup, and replaces the store with the backup inside one
// transaction. The transaction commits only if the restored data passes
// the foreign-key and integrity scans; otherwise it rolls back and an
// error wrapping types.ErrRestoreVerification is returned. On success the
// result carries the emergency backup id, which can be restored to undo.
func (o *Orchestrator) RestoreBackup(ctx context.Context, id string) (types.RestoreResult, error) {
	res, err := o.restore(ctx, id)
	metrics.RestoresTotal.WithLabelValues(metrics.Status(err)).Inc()
	return res, err
}

func (o *Orchestrator) restore(ctx context.Context, id string) (types.RestoreResult, error) {
	var (
		snapshotID string
		percent    int
	)
	fail := func(err error) (types.RestoreResult, error) {
		log.WithFields(log.Fields{"backup": id, "err": err}).Error("restore failed")
		o.emit(types.ProgressEvent{
			Stage:      types.StageFailed,
			Percentage: percent,
			Message:    fmt.Sprintf("Restore failed: %v", err),
			BackupID:   snapshotID,
		})
		return types.RestoreResult{
			Message:           "restore failed",
			Timestamp:         time.Now().UTC(),
			EmergencyBackupID: snapshotID,
			Error:             err.Error(),
		}, err
	}
	stage := func(s types.Stage, p int, msg string) {
		percent = p
		o.emit(types.ProgressEvent{Stage: s, Percentage: p, Message: msg})
	}

	stage(types.StageValidate, percentValidate, "Validating backup "+id)
	image, meta, err := o.backups.Load(ctx, id)
	if err != nil {
		return fail(err)
	}
	if !meta.Validated {
		log.WithField("backup", id).Warn("restoring a backup that was not post-validated")
	}
	if err := o.pause(ctx); err != nil {
		return fail(err)
	}

	stage(types.StageSnapshot, percentSnapshot, "Saving current data as an emergency backup")
	snap, err := o.backups.CreateEmergencyBackup(ctx)
	if err != nil {
		return fail(fmt.Errorf("taking emergency backup: %w", err))
	}
	snapshotID = snap.ID
	if err := o.pause(ctx); err != nil {
		return fail(err)
	}

	stage(types.StageRestore, percentRestore, "Restoring backup "+id)
	// The restore transaction is not cancellable once started.
	ctx = context.WithoutCancel(ctx)
	// Announced before the restore transaction holds the only connection.
	stage(types.StageVerify, percentVerify, "Verifying restored data")
	err = o.engine.RestoreImage(ctx, image, verify)
	if err != nil {
		return fail(err)
	}
	_ = o.pause(ctx)

	stage(types.StageUIUpdate, percentUIUpdate, "Refreshing views")
	if o.bus != nil {
		o.bus.Publish(events.ForceRefresh, nil)
		o.bus.Publish(events.DatabaseReady, nil)
	}
	_ = o.pause(ctx)

	o.emit(types.ProgressEvent{
		Stage:      types.StageComplete,
		Percentage: percentComplete,
		Message:    "Restore complete",
		BackupID:   snapshotID,
	})

	log.WithFields(log.Fields{
		"backup":    id,
		"emergency": snapshotID,
		"size":      meta.Size,
	}).Info("backup restored")

	return types.RestoreResult{
		Success:           true,
		Message:           fmt.Sprintf("restored backup %s", id),
		Timestamp:         time.Now().UTC(),
		EmergencyBackupID: snapshotID,
	}, nil
}

// verify runs inside the restore transaction.
func verify(ctx context.Context, tx *sqlite.Tx) error {
	violations, err := tx.ForeignKeyCheck(ctx)
	if err != nil {
		return err
	}
	if len(violations) > 0 {
		return fmt.Errorf("%w: %d foreign key violation(s), first in %s",
			types.ErrRestoreVerification, len(violations), violations[0].Table)
	}
	msgs, err := tx.IntegrityCheck(ctx)
	if err != nil {
		return err
	}
	if !sqlite.IntegrityOK(msgs) {
		return fmt.Errorf("%w: %s", types.ErrRestoreVerification, strings.Join(msgs, "; "))
	}
	return nil
}
