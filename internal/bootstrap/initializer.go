// Package bootstrap builds the full schema at first boot, or after a
// session that ended in a foreign-key failure, favoring partial
// availability over an all-or-nothing start.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/ledgerkeep/internal/metrics"
	"github.com/mesh-intelligence/ledgerkeep/internal/sqlite"
	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

// MinTables is the table count the final validation requires.
const MinTables = 3

// Engine is the subset of the storage engine the initializer drives.
type Engine interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	SetForeignKeys(ctx context.Context, on bool) error
	CountTables(ctx context.Context) (int, error)
	ForeignKeyCheck(ctx context.Context) ([]types.FKViolation, error)
	IntegrityCheck(ctx context.Context) ([]string, error)
	SeedBaseline(ctx context.Context) (bool, error)
}

// Analyzer captures the pre-initialization state.
type Analyzer interface {
	PerformDeepAnalysis(ctx context.Context) (types.DiagnosticReport, error)
}

// Initializer creates the bootstrap schema group by group.
type Initializer struct {
	engine   Engine
	analyzer Analyzer
	groups   []sqlite.TableGroup
	running  atomic.Bool
}

// New returns an Initializer over the standard bootstrap groups.
func New(engine Engine, analyzer Analyzer) *Initializer {
	return &Initializer{
		engine:   engine,
		analyzer: analyzer,
		groups:   sqlite.BootstrapGroups(),
	}
}

// WithGroups replaces the table groups.
func (i *Initializer) WithGroups(groups []sqlite.TableGroup) *Initializer {
	i.groups = groups
	return i
}

// InitializeWithEmergencyFix diagnoses the store, creates every group with
// enforcement off, re-enables enforcement, seeds the baseline on first run
// and validates the result. A create statement that fails is logged,
// recorded in the report and skipped. A call made while another is in
// flight returns types.ErrInitInProgress at once.
func (i *Initializer) InitializeWithEmergencyFix(ctx context.Context) (types.InitReport, error) {
	if !i.running.CompareAndSwap(false, true) {
		return types.InitReport{}, types.ErrInitInProgress
	}
	defer i.running.Store(false)

	report, err := i.initialize(context.WithoutCancel(ctx))
	metrics.InitializationsTotal.WithLabelValues(metrics.Status(err)).Inc()
	if err != nil {
		log.WithFields(log.Fields{
			"err":     err,
			"skipped": report.SkippedTables(),
		}).Error("emergency initialization failed")
		return report, err
	}

	log.WithFields(log.Fields{
		"tables":  report.TableCount,
		"seeded":  report.Seeded,
		"skipped": len(report.SkippedTables()),
	}).Info("emergency initialization complete")
	return report, nil
}

func (i *Initializer) initialize(ctx context.Context) (types.InitReport, error) {
	var report types.InitReport

	pre, err := i.analyzer.PerformDeepAnalysis(ctx)
	if err != nil {
		return report, fmt.Errorf("diagnosing store: %w", err)
	}
	report.PreState = pre

	if err := i.engine.SetForeignKeys(ctx, false); err != nil {
		return report, err
	}
	for _, g := range i.groups {
		report.Groups = append(report.Groups, i.createGroup(ctx, g))
	}
	if err := i.engine.SetForeignKeys(ctx, true); err != nil {
		return report, err
	}

	seeded, err := i.engine.SeedBaseline(ctx)
	if err != nil {
		// Validation below decides whether the store is usable.
		log.WithField("err", err).Error("seeding baseline configuration")
	}
	report.Seeded = seeded

	n, err := i.validate(ctx)
	report.TableCount = n
	return report, err
}

func (i *Initializer) createGroup(ctx context.Context, g sqlite.TableGroup) types.GroupReport {
	gr := types.GroupReport{Name: g.Name}
	for _, s := range g.Statements {
		if _, err := i.engine.Exec(ctx, s.SQL); err != nil {
			log.WithFields(log.Fields{
				"group":     g.Name,
				"statement": s.Name,
				"err":       err,
			}).Warn("skipping failed create statement")
			gr.Skipped = append(gr.Skipped, types.SkippedStatement{Table: s.Name, Err: err.Error()})
			continue
		}
		gr.Created = append(gr.Created, s.Name)
	}
	return gr
}

func (i *Initializer) validate(ctx context.Context) (int, error) {
	var problems []string

	n, err := i.engine.CountTables(ctx)
	switch {
	case err != nil:
		problems = append(problems, err.Error())
	case n < MinTables:
		problems = append(problems, fmt.Sprintf("%d table(s), want at least %d", n, MinTables))
	}

	violations, err := i.engine.ForeignKeyCheck(ctx)
	switch {
	case err != nil:
		problems = append(problems, err.Error())
	case len(violations) > 0:
		problems = append(problems, fmt.Sprintf("%d foreign key violation(s)", len(violations)))
	}

	msgs, err := i.engine.IntegrityCheck(ctx)
	switch {
	case err != nil:
		problems = append(problems, err.Error())
	case !sqlite.IntegrityOK(msgs):
		problems = append(problems, "integrity: "+strings.Join(msgs, "; "))
	}

	if len(problems) > 0 {
		return n, fmt.Errorf("%w: %s", types.ErrValidationFailed, strings.Join(problems, "; "))
	}
	return n, nil
}
