// Package forensic inspects the store in depth and, when in-place repair
// is not possible, rebuilds it to the guaranteed schema.
package forensic

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/ledgerkeep/internal/metrics"
	"github.com/mesh-intelligence/ledgerkeep/internal/sqlite"
	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

// maxPurgePasses bounds PurgeOrphans. Each pass can orphan the children of
// rows deleted by the previous one.
const maxPurgePasses = 16

// Engine is the subset of the storage engine the diagnostic drives.
type Engine interface {
	ListObjects(ctx context.Context) ([]types.SchemaObject, error)
	CountTables(ctx context.Context) (int, error)
	ForeignKeyCheck(ctx context.Context) ([]types.FKViolation, error)
	IntegrityCheck(ctx context.Context) ([]string, error)
	SetForeignKeys(ctx context.Context, on bool) error
	DropUserObjects(ctx context.Context) (int, error)
	Vacuum(ctx context.Context) error
	InTx(ctx context.Context, fn func(tx *sqlite.Tx) error) error
}

// RepairRecorder persists when the schema was last rebuilt.
type RepairRecorder interface {
	MarkSchemaRepair(at time.Time) error
}

// Diagnostic runs deep analyses and definitive fixes against one engine.
type Diagnostic struct {
	engine  Engine
	repairs RepairRecorder
	now     func() time.Time
}

// New returns a Diagnostic. repairs may be nil.
func New(engine Engine, repairs RepairRecorder) *Diagnostic {
	return &Diagnostic{engine: engine, repairs: repairs, now: time.Now}
}

// PerformDeepAnalysis lists every structural object, scans for foreign-key
// violations and runs the physical integrity scan. It issues no mutating
// statements. A scan that cannot run is reported as an error in the
// report; the returned error is reserved for cancellation.
func (d *Diagnostic) PerformDeepAnalysis(ctx context.Context) (types.DiagnosticReport, error) {
	report := types.DiagnosticReport{
		Timestamp:       d.now().UTC(),
		Recommendations: map[types.Recommendation]bool{},
	}

	objs, err := d.engine.ListObjects(ctx)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("listing schema objects: %v", err))
	}
	report.RawState.Objects = objs
	for _, o := range objs {
		if o.Type == types.ObjectTable {
			report.RawState.TableCount++
		}
	}
	if err == nil && report.RawState.TableCount == 0 {
		report.Warnings = append(report.Warnings, "store has no tables")
	}

	violations, err := d.engine.ForeignKeyCheck(ctx)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("foreign key scan: %v", err))
	}
	report.RawState.ForeignKeyViolations = violations
	for _, v := range violations {
		report.Errors = append(report.Errors, fmt.Sprintf(
			"foreign key violation: %s row %d references missing %s row", v.Table, v.RowID, v.Parent))
	}

	msgs, err := d.engine.IntegrityCheck(ctx)
	switch {
	case err != nil:
		report.Errors = append(report.Errors, fmt.Sprintf("integrity scan: %v", err))
	case !sqlite.IntegrityOK(msgs):
		for _, m := range msgs {
			report.Errors = append(report.Errors, "integrity: "+m)
		}
	}
	report.RawState.IntegrityMessages = msgs

	if err := ctx.Err(); err != nil {
		return report, err
	}

	rebuild := len(report.Errors) > 0
	report.Recommendations[types.NuclearRebuildRequired] = rebuild
	report.Recommendations[types.SystemStable] = !rebuild

	fields := log.Fields{
		"tables":     report.RawState.TableCount,
		"objects":    len(objs),
		"violations": len(violations),
		"errors":     len(report.Errors),
	}
	if rebuild {
		log.WithFields(fields).WithField("first", report.Errors[0]).Warn("deep analysis recommends rebuild")
	} else {
		log.WithFields(fields).Debug("deep analysis found a stable store")
	}
	return report, nil
}

// ExecuteDefinitiveFix drops every non-reserved object, compacts the file
// and recreates the guaranteed schema in one transaction, then verifies the
// result structurally, relationally and physically. Rows of the previous
// schema are discarded. The returned checksum fingerprints the rebuilt
// catalog.
func (d *Diagnostic) ExecuteDefinitiveFix(ctx context.Context) (types.FixResult, error) {
	// The rebuild is not cancellable once started.
	ctx = context.WithoutCancel(ctx)

	res, err := d.executeDefinitiveFix(ctx)
	metrics.RebuildsTotal.WithLabelValues(metrics.Status(err)).Inc()
	if err != nil {
		log.WithField("err", err).Error("nuclear rebuild failed")
		return types.FixResult{Timestamp: d.now().UTC()}, err
	}

	if d.repairs != nil {
		if err := d.repairs.MarkSchemaRepair(res.Timestamp); err != nil {
			log.WithField("err", err).Warn("could not record schema repair")
		}
	}
	log.WithField("checksum", res.Checksum).Warn("store rebuilt to guaranteed schema")
	return res, nil
}

func (d *Diagnostic) executeDefinitiveFix(ctx context.Context) (types.FixResult, error) {
	if err := d.rebuild(ctx); err != nil {
		return types.FixResult{}, err
	}
	if err := d.verifyRebuild(ctx); err != nil {
		return types.FixResult{}, err
	}
	objs, err := d.engine.ListObjects(ctx)
	if err != nil {
		return types.FixResult{}, err
	}
	return types.FixResult{
		Success:   true,
		Timestamp: d.now().UTC(),
		Checksum:  CatalogChecksum(objs),
	}, nil
}

func (d *Diagnostic) rebuild(ctx context.Context) error {
	if err := d.engine.SetForeignKeys(ctx, false); err != nil {
		return err
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		// Enforcement is never left off after a failed rebuild.
		if fkErr := d.engine.SetForeignKeys(ctx, true); fkErr != nil {
			log.WithField("err", fkErr).Error("re-enabling foreign keys after failed rebuild")
		}
	}()

	dropped, err := d.engine.DropUserObjects(ctx)
	if err != nil {
		return fmt.Errorf("dropping objects: %w", err)
	}
	if err := d.engine.Vacuum(ctx); err != nil {
		return err
	}

	err = d.engine.InTx(ctx, func(tx *sqlite.Tx) error {
		for _, s := range sqlite.GuaranteedSchema() {
			if _, err := tx.Exec(ctx, s.SQL); err != nil {
				return fmt.Errorf("creating %s: %w", s.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("creating guaranteed schema: %w", err)
	}
	committed = true

	if err := d.engine.SetForeignKeys(ctx, true); err != nil {
		return err
	}
	log.WithField("dropped", dropped).Info("guaranteed schema created")
	return nil
}

func (d *Diagnostic) verifyRebuild(ctx context.Context) error {
	want := len(sqlite.GuaranteedTables())
	n, err := d.engine.CountTables(ctx)
	if err != nil {
		return err
	}
	if n < want {
		return fmt.Errorf("%w: structural: %d table(s), want at least %d", types.ErrVerificationFailed, n, want)
	}

	violations, err := d.engine.ForeignKeyCheck(ctx)
	if err != nil {
		return err
	}
	if len(violations) > 0 {
		return fmt.Errorf("%w: relational: %d foreign key violation(s)", types.ErrVerificationFailed, len(violations))
	}

	msgs, err := d.engine.IntegrityCheck(ctx)
	if err != nil {
		return err
	}
	if !sqlite.IntegrityOK(msgs) {
		return fmt.Errorf("%w: physical: %s", types.ErrVerificationFailed, strings.Join(msgs, "; "))
	}
	return nil
}

// PurgeOrphans deletes every row reported by the foreign-key scan inside
// one transaction and returns how many rows were removed. Enforcement is
// off during the purge so deleting a parent does not cascade.
func (d *Diagnostic) PurgeOrphans(ctx context.Context) (int, error) {
	if err := d.engine.SetForeignKeys(ctx, false); err != nil {
		return 0, err
	}
	defer func() {
		if err := d.engine.SetForeignKeys(context.WithoutCancel(ctx), true); err != nil {
			log.WithField("err", err).Error("re-enabling foreign keys after purge")
		}
	}()

	deleted := 0
	err := d.engine.InTx(ctx, func(tx *sqlite.Tx) error {
		for pass := 0; pass < maxPurgePasses; pass++ {
			violations, err := tx.ForeignKeyCheck(ctx)
			if err != nil {
				return err
			}
			progressed := false
			for _, v := range violations {
				if v.RowID == 0 {
					continue // WITHOUT ROWID tables cannot be purged by rowid
				}
				n, err := tx.DeleteRow(ctx, v.Table, v.RowID)
				if err != nil {
					return err
				}
				if n > 0 {
					deleted += int(n)
					progressed = true
				}
			}
			if !progressed {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purging orphaned rows: %w", err)
	}

	if deleted > 0 {
		log.WithField("rows", deleted).Warn("purged rows violating foreign keys")
	}
	return deleted, nil
}

// CatalogChecksum fingerprints the structural catalog, independent of
// creation order. Row content is not covered.
func CatalogChecksum(objs []types.SchemaObject) string {
	lines := make([]string, 0, len(objs))
	for _, o := range objs {
		lines = append(lines, strings.Join([]string{o.Type, o.Name, o.TableName, o.SQL}, "\x1f"))
	}
	sort.Strings(lines)

	h := xxhash.New()
	for _, l := range lines {
		_, _ = h.WriteString(l)
		_, _ = h.WriteString("\n")
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
