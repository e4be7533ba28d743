// Package health answers whether the store is healthy and drives the
// automatic repair ladder. It never writes to the store itself.
package health

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

// Suite runs the integrity test suite.
type Suite interface {
	RunIntegrityTestSuite(ctx context.Context) (types.IntegrityResult, error)
}

// Repairer analyses and repairs the store.
type Repairer interface {
	PerformDeepAnalysis(ctx context.Context) (types.DiagnosticReport, error)
	ExecuteDefinitiveFix(ctx context.Context) (types.FixResult, error)
	PurgeOrphans(ctx context.Context) (int, error)
}

// Checker delegates every check and repair to a Suite and a Repairer.
type Checker struct {
	suite    Suite
	repairer Repairer
}

// NewChecker returns a Checker.
func NewChecker(suite Suite, repairer Repairer) *Checker {
	return &Checker{suite: suite, repairer: repairer}
}

// CheckHealth runs the integrity test suite and republishes its verdict.
// A suite that cannot run yields an unhealthy verdict.
func (c *Checker) CheckHealth(ctx context.Context) types.HealthVerdict {
	res, err := c.suite.RunIntegrityTestSuite(ctx)
	if err != nil {
		log.WithField("err", err).Error("integrity test suite failed to run")
		return types.HealthVerdict{Issues: []string{err.Error()}}
	}
	return res.Verdict()
}

// RepairInPlace deletes rows that violate foreign keys and reports whether
// the store is healthy afterwards. Rows are lost on success too.
func (c *Checker) RepairInPlace(ctx context.Context) bool {
	n, err := c.repairer.PurgeOrphans(ctx)
	if err != nil {
		log.WithField("err", err).Error("in-place repair failed")
		return false
	}
	verdict := c.CheckHealth(ctx)
	log.WithFields(log.Fields{"purged": n, "healthy": verdict.Healthy}).Warn("in-place repair attempted")
	return verdict.Healthy
}

// AttemptAutoRepair runs the deep analysis and, only when it recommends a
// rebuild, the definitive fix. It returns whether a fix ran and succeeded.
// A false return does not imply the store was left untouched.
func (c *Checker) AttemptAutoRepair(ctx context.Context) bool {
	report, err := c.repairer.PerformDeepAnalysis(ctx)
	if err != nil {
		log.WithField("err", err).Error("deep analysis failed")
		return false
	}
	if !report.Recommends(types.NuclearRebuildRequired) {
		log.Info("deep analysis did not recommend a rebuild, nothing to repair")
		return false
	}

	log.WithFields(log.Fields{
		"errors":   len(report.Errors),
		"warnings": len(report.Warnings),
		"tables":   report.RawState.TableCount,
	}).Warn("running nuclear rebuild")

	res, err := c.repairer.ExecuteDefinitiveFix(ctx)
	if err != nil {
		log.WithFields(log.Fields{"err": err, "errors": report.Errors}).Error("auto-repair failed")
		return false
	}
	return res.Success
}
