// Package backup produces, validates and loads point-in-time byte images
// of the store, and runs the integrity test suite the other recovery
// components rely on.
package backup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/ledgerkeep/internal/metrics"
	"github.com/mesh-intelligence/ledgerkeep/internal/sqlite"
	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

// MinSchemaObjects is the structural object count below which the schema
// is considered incomplete.
const MinSchemaObjects = 3

// Backup kinds, used as a metrics label.
const (
	kindValidated = "validated"
	kindEmergency = "emergency"
)

// Engine is the subset of the storage engine the validator reads.
type Engine interface {
	ForeignKeyCheck(ctx context.Context) ([]types.FKViolation, error)
	IntegrityCheck(ctx context.Context) ([]string, error)
	ListObjects(ctx context.Context) ([]types.SchemaObject, error)
	Export(ctx context.Context) ([]byte, error)
}

// ImageChecker is a throwaway engine opened over an exported image.
type ImageChecker interface {
	IntegrityCheck(ctx context.Context) ([]string, error)
	Close() error
}

// ImageOpener opens an exported image for post-validation.
type ImageOpener func(ctx context.Context, image []byte) (ImageChecker, error)

// OpenSQLiteImage is the default ImageOpener.
func OpenSQLiteImage(ctx context.Context, image []byte) (ImageChecker, error) {
	e, err := sqlite.OpenImage(ctx, image)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Validator creates validated backups of one engine.
type Validator struct {
	engine    Engine
	store     Store
	openImage ImageOpener
	now       func() time.Time
}

// NewValidator returns a Validator persisting into store.
func NewValidator(engine Engine, store Store) *Validator {
	return &Validator{
		engine:    engine,
		store:     store,
		openImage: OpenSQLiteImage,
		now:       time.Now,
	}
}

// WithImageOpener replaces the opener used for post-validation.
func (v *Validator) WithImageOpener(fn ImageOpener) *Validator {
	v.openImage = fn
	return v
}

// Store returns the backing store.
func (v *Validator) Store() Store {
	return v.store
}

// RunIntegrityTestSuite runs the foreign-key scan, the physical integrity
// scan and the schema-completeness check. All three always run. A check
// that cannot execute counts as failed.
func (v *Validator) RunIntegrityTestSuite(ctx context.Context) (types.IntegrityResult, error) {
	var res types.IntegrityResult

	record := func(name string, passed bool, value any, failure string) {
		res.Results = append(res.Results, types.CheckOutcome{Name: name, Passed: passed, Value: value})
		if !passed {
			res.Failures = append(res.Failures, failure)
		}
	}

	violations, err := v.engine.ForeignKeyCheck(ctx)
	switch {
	case err != nil:
		record(types.CheckForeignKeys, false, nil, fmt.Sprintf("foreign key check failed: %v", err))
	default:
		record(types.CheckForeignKeys, len(violations) == 0, len(violations),
			fmt.Sprintf("%d foreign key violation(s)%s", len(violations), describeViolations(violations)))
	}

	msgs, err := v.engine.IntegrityCheck(ctx)
	switch {
	case err != nil:
		record(types.CheckPhysicalIntegrity, false, nil, fmt.Sprintf("integrity check failed: %v", err))
	default:
		record(types.CheckPhysicalIntegrity, sqlite.IntegrityOK(msgs), msgs,
			"integrity check: "+strings.Join(msgs, "; "))
	}

	objs, err := v.engine.ListObjects(ctx)
	switch {
	case err != nil:
		record(types.CheckSchemaCompleteness, false, nil, fmt.Sprintf("schema listing failed: %v", err))
	default:
		record(types.CheckSchemaCompleteness, len(objs) >= MinSchemaObjects, len(objs),
			fmt.Sprintf("schema incomplete: %d object(s), want at least %d", len(objs), MinSchemaObjects))
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	res.Passed = len(res.Failures) == 0
	metrics.IntegritySuitesTotal.WithLabelValues(statusLabel(res.Passed)).Inc()
	return res, nil
}

// CreateValidatedBackup refuses an unhealthy store, then exports,
// fingerprints, post-validates and persists an image.
func (v *Validator) CreateValidatedBackup(ctx context.Context) (types.BackupMetadata, error) {
	suite, err := v.RunIntegrityTestSuite(ctx)
	if err != nil {
		return types.BackupMetadata{}, err
	}
	if !suite.Passed {
		metrics.BackupsTotal.WithLabelValues(kindValidated, metrics.Fail).Inc()
		log.WithField("failures", suite.Failures).Error("refusing backup of unhealthy store")
		return types.BackupMetadata{}, fmt.Errorf("%w: %s", types.ErrStoreUnhealthy, strings.Join(suite.Failures, "; "))
	}

	meta, image, err := v.export(ctx, false)
	if err == nil && !meta.Validated {
		err = fmt.Errorf("%w: exported image failed integrity scan", types.ErrBackupInvalid)
	}
	if err != nil {
		metrics.BackupsTotal.WithLabelValues(kindValidated, metrics.Fail).Inc()
		return types.BackupMetadata{}, err
	}
	if err := v.persist(ctx, meta, image, kindValidated); err != nil {
		return types.BackupMetadata{}, err
	}
	return meta, nil
}

// CreateEmergencyBackup snapshots the store without the pre-flight check.
// A snapshot whose image fails post-validation is still kept, with
// Validated false.
func (v *Validator) CreateEmergencyBackup(ctx context.Context) (types.BackupMetadata, error) {
	meta, image, err := v.export(ctx, true)
	if err != nil {
		metrics.BackupsTotal.WithLabelValues(kindEmergency, metrics.Fail).Inc()
		return types.BackupMetadata{}, err
	}
	if !meta.Validated {
		log.WithField("id", meta.ID).Warn("emergency backup did not pass post-validation")
	}
	if err := v.persist(ctx, meta, image, kindEmergency); err != nil {
		return types.BackupMetadata{}, err
	}
	return meta, nil
}

// Load fetches a backup and re-verifies its checksum.
func (v *Validator) Load(ctx context.Context, id string) ([]byte, types.BackupMetadata, error) {
	image, meta, err := v.store.Load(ctx, id)
	if err != nil {
		return nil, types.BackupMetadata{}, err
	}
	if sum := Checksum(image); sum != meta.Checksum {
		return nil, meta, fmt.Errorf("%w: backup %s has %s, recorded %s", types.ErrChecksumMismatch, id, sum, meta.Checksum)
	}
	return image, meta, nil
}

// export produces the image and its metadata. Validated reports whether
// the throwaway engine accepted the image.
func (v *Validator) export(ctx context.Context, emergency bool) (types.BackupMetadata, []byte, error) {
	image, err := v.engine.Export(ctx)
	if err != nil {
		return types.BackupMetadata{}, nil, fmt.Errorf("exporting image: %w", err)
	}

	meta := types.BackupMetadata{
		ID:        newID(),
		Checksum:  Checksum(image),
		Timestamp: v.now().UTC(),
		Size:      int64(len(image)),
		Emergency: emergency,
	}

	if err := v.postValidate(ctx, image); err != nil {
		log.WithFields(log.Fields{"id": meta.ID, "err": err}).Warn("backup post-validation failed")
		return meta, image, nil
	}
	meta.Validated = true
	return meta, image, nil
}

func (v *Validator) postValidate(ctx context.Context, image []byte) error {
	chk, err := v.openImage(ctx, image)
	if err != nil {
		return err
	}
	defer chk.Close()

	msgs, err := chk.IntegrityCheck(ctx)
	if err != nil {
		return err
	}
	if !sqlite.IntegrityOK(msgs) {
		return fmt.Errorf("%w: %s", types.ErrBackupInvalid, strings.Join(msgs, "; "))
	}
	return nil
}

func (v *Validator) persist(ctx context.Context, meta types.BackupMetadata, image []byte, kind string) error {
	if err := v.store.Save(ctx, meta, image); err != nil {
		metrics.BackupsTotal.WithLabelValues(kind, metrics.Fail).Inc()
		return fmt.Errorf("saving backup %s: %w", meta.ID, err)
	}
	metrics.BackupsTotal.WithLabelValues(kind, metrics.Ok).Inc()
	metrics.BackupBytesTotal.Add(float64(meta.Size))

	log.WithFields(log.Fields{
		"id":        meta.ID,
		"kind":      kind,
		"size":      humanize.IBytes(uint64(meta.Size)),
		"checksum":  meta.Checksum,
		"validated": meta.Validated,
	}).Info("backup created")
	return nil
}

func describeViolations(vs []types.FKViolation) string {
	if len(vs) == 0 {
		return ""
	}
	seen := map[string]bool{}
	var tables []string
	for _, v := range vs {
		key := v.Table + "->" + v.Parent
		if !seen[key] {
			seen[key] = true
			tables = append(tables, key)
		}
	}
	return " in " + strings.Join(tables, ", ")
}

func statusLabel(ok bool) string {
	if ok {
		return metrics.Ok
	}
	return metrics.Fail
}

// newID generates a time-ordered backup id.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
