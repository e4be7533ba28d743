// Package uisync recovers from a live foreign-key error surfaced by the
// UI: it verifies the store, repairs it if needed, resynchronizes UI
// observers, and escalates to a reload when automated recovery fails.
package uisync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/ledgerkeep/internal/events"
	"github.com/mesh-intelligence/ledgerkeep/internal/metrics"
	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

// sqliteConstraintForeignKey is the extended result code of a foreign-key
// constraint failure.
const sqliteConstraintForeignKey = 787

// HealthChecker is the recovery ladder the manager climbs.
type HealthChecker interface {
	CheckHealth(ctx context.Context) types.HealthVerdict
	RepairInPlace(ctx context.Context) bool
	AttemptAutoRepair(ctx context.Context) bool
}

// FlagStore persists the markers that survive a reload.
type FlagStore interface {
	SetFKFailure(on bool) error
	MarkRecoveryAttempt(at time.Time, reason string) error
	RecoveryAttempt() (at time.Time, reason string, ok bool, err error)
	ClearRecoveryAttempt() error
}

// Reloader forces a full application reload. query is a cache-bypassing
// parameter of the form "recovery=<unix-ms>".
type Reloader interface {
	Reload(ctx context.Context, query string) error
}

// ReloaderFunc adapts a function to Reloader.
type ReloaderFunc func(ctx context.Context, query string) error

// Reload implements Reloader.
func (f ReloaderFunc) Reload(ctx context.Context, query string) error { return f(ctx, query) }

// Manager owns the recovery guard. At most one recovery runs at a time.
type Manager struct {
	health   HealthChecker
	bus      events.Publisher
	flags    FlagStore
	reloader Reloader
	cfg      types.RecoveryConfig

	// guard is a one-slot token; holding it means a recovery is in flight.
	guard chan struct{}
	now   func() time.Time
}

// NewManager returns a Manager. reloader may be nil, in which case
// escalation stops after persisting the recovery marker.
func NewManager(health HealthChecker, bus events.Publisher, flags FlagStore, reloader Reloader, cfg types.RecoveryConfig) *Manager {
	return &Manager{
		health:   health,
		bus:      bus,
		flags:    flags,
		reloader: reloader,
		cfg:      cfg,
		guard:    make(chan struct{}, 1),
		now:      time.Now,
	}
}

// IsForeignKeyViolation reports whether err carries the referential
// integrity violation signature.
func IsForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, types.ErrForeignKeyViolation) {
		return true
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) && coded.Code() == sqliteConstraintForeignKey {
		return true
	}
	return strings.Contains(err.Error(), types.ErrForeignKeyViolation.Error())
}

// InterceptAndRecover handles one live error. It returns OutcomeSkipped at
// once when another recovery holds the guard, and OutcomeUnhandled for
// errors that are not foreign-key violations.
func (m *Manager) InterceptAndRecover(ctx context.Context, cause error) types.Outcome {
	select {
	case m.guard <- struct{}{}:
	default:
		log.Debug("recovery already in flight, skipping")
		return types.OutcomeSkipped
	}
	defer func() { <-m.guard }()

	outcome := m.runLadder(ctx, cause)
	metrics.RecoveriesTotal.WithLabelValues(outcome.String()).Inc()
	return outcome
}

func (m *Manager) runLadder(ctx context.Context, cause error) types.Outcome {
	if !IsForeignKeyViolation(cause) {
		return types.OutcomeUnhandled
	}

	// Set before any repair so a crash mid-recovery is seen at next boot.
	if err := m.flags.SetFKFailure(true); err != nil {
		log.WithField("err", err).Warn("could not persist foreign key failure marker")
	}
	m.bus.Publish(events.RecoveryStarted, cause.Error())

	verdict := m.health.CheckHealth(ctx)
	if verdict.Healthy {
		log.WithField("cause", cause).Info("store healthy, resynchronizing UI")
		m.syncUI()
		return types.OutcomeStable
	}

	log.WithFields(log.Fields{"cause": cause, "issues": verdict.Issues}).Warn("store unhealthy, repairing")

	if m.health.RepairInPlace(ctx) {
		m.syncUI()
		return types.OutcomeRepaired
	}
	if m.health.AttemptAutoRepair(ctx) {
		m.syncUI()
		return types.OutcomeRebuilt
	}

	m.escalate(ctx, cause, verdict)
	return types.OutcomeEscalated
}

// syncUI clears cached error markers and tells observers to refresh.
func (m *Manager) syncUI() {
	if err := m.flags.SetFKFailure(false); err != nil {
		log.WithField("err", err).Warn("could not clear foreign key failure marker")
	}
	if err := m.flags.ClearRecoveryAttempt(); err != nil {
		log.WithField("err", err).Warn("could not clear recovery attempt marker")
	}
	m.bus.Publish(events.ForceRefresh, nil)
	m.bus.Publish(events.HideErrorBanner, nil)
	m.bus.Publish(events.DatabaseReady, nil)
}

// escalate surfaces the failure and forces a reload unless a recent attempt
// already did.
func (m *Manager) escalate(ctx context.Context, cause error, verdict types.HealthVerdict) {
	msg := fmt.Sprintf("automatic recovery failed: %v", cause)
	log.WithFields(log.Fields{"cause": cause, "issues": verdict.Issues}).Error("automated recovery exhausted")
	m.bus.Publish(events.EmergencyRecoveryRequired, events.NewEmergencyRecovery(msg))

	now := m.now()
	if at, reason, ok, err := m.flags.RecoveryAttempt(); err == nil && ok && now.Sub(at) < m.cfg.RetryCooldown {
		log.WithFields(log.Fields{"previous": at, "reason": reason}).
			Error("recent recovery attempt already reloaded, awaiting manual recovery")
		return
	}

	if err := m.flags.MarkRecoveryAttempt(now, cause.Error()); err != nil {
		log.WithField("err", err).Warn("could not persist recovery attempt marker")
	}

	if m.cfg.FlushDelay > 0 {
		t := time.NewTimer(m.cfg.FlushDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}

	if m.reloader == nil {
		return
	}
	query := fmt.Sprintf("recovery=%d", now.UnixMilli())
	if err := m.reloader.Reload(context.WithoutCancel(ctx), query); err != nil {
		log.WithFields(log.Fields{"err": err, "query": query}).Error("forced reload failed")
	}
}
