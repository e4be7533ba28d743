// Package ledgerkeep opens an embedded business store and wires its
// integrity and recovery components together.
//
// Example:
//
//	store, err := ledgerkeep.Open(ctx, types.DefaultConfig(), ledgerkeep.Options{})
//	if err != nil {
//	    return err
//	}
//	defer store.Close(ctx)
package ledgerkeep

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/mesh-intelligence/ledgerkeep/internal/backup"
	"github.com/mesh-intelligence/ledgerkeep/internal/bootstrap"
	"github.com/mesh-intelligence/ledgerkeep/internal/events"
	"github.com/mesh-intelligence/ledgerkeep/internal/flags"
	"github.com/mesh-intelligence/ledgerkeep/internal/forensic"
	"github.com/mesh-intelligence/ledgerkeep/internal/health"
	"github.com/mesh-intelligence/ledgerkeep/internal/journal"
	"github.com/mesh-intelligence/ledgerkeep/internal/monitor"
	"github.com/mesh-intelligence/ledgerkeep/internal/restore"
	"github.com/mesh-intelligence/ledgerkeep/internal/sqlite"
	"github.com/mesh-intelligence/ledgerkeep/internal/uisync"
	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

// Version is the release of this module.
const Version = "0.1.0"

// BackupDirName is the subdirectory of the data directory holding backups.
const BackupDirName = "backups"

// Boot reasons.
const (
	BootNormal       = "normal"
	BootFirstRun     = "first-run"
	BootFKFailure    = "fk-failure-last-session"
	BootMissingTable = "incomplete-schema"
)

// Options carries host-supplied collaborators. The zero value is usable.
type Options struct {
	// Fs holds the flag file and backups. Defaults to the OS filesystem.
	Fs afero.Fs
	// Reloader forces a host reload when recovery escalates. May be nil.
	Reloader uisync.Reloader
	// Bus receives domain events. A new bus is created when nil.
	Bus *events.Bus
	// SkipBoot opens the store without running the boot decision or
	// journal initialization.
	SkipBoot bool
}

// BootReport records what Open did before handing the store over.
type BootReport struct {
	Reason      string            `json:"reason"`
	Emergency   bool              `json:"emergency"`
	Init        *types.InitReport `json:"init,omitempty"`
	Recovered   bool              `json:"recovered,omitempty"`
	JournalMode string            `json:"journal_mode"`
}

// Store is an open store with every component wired to it.
type Store struct {
	cfg types.Config

	Engine      *sqlite.Engine
	Bus         *events.Bus
	Flags       *flags.Store
	Backups     *backup.Validator
	Forensic    *forensic.Diagnostic
	Initializer *bootstrap.Initializer
	Health      *health.Checker
	Journal     *journal.Manager
	Monitor     *monitor.Monitor
	Recovery    *uisync.Manager
	Restore     *restore.Orchestrator

	boot BootReport

	closeOnce sync.Once
	closeErr  error
}

// Open validates cfg, opens the engine and wires the components. Unless
// opts.SkipBoot is set it then runs the boot decision: the emergency
// initializer when the previous session ended in a foreign-key failure or
// the schema is incomplete, a normal boot otherwise. Journal tuning runs
// last.
func Open(ctx context.Context, cfg types.Config, opts Options) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var (
		engine *sqlite.Engine
		err    error
	)
	if cfg.InMemory() {
		engine, err = sqlite.OpenMemory(ctx)
	} else {
		engine, err = sqlite.OpenDataDir(ctx, cfg.DataDir)
	}
	if err != nil {
		return nil, err
	}

	s := wire(engine, cfg, opts)
	if opts.SkipBoot {
		return s, nil
	}
	if err := s.bootstrap(ctx); err != nil {
		engine.Close()
		return nil, err
	}
	return s, nil
}

func wire(engine *sqlite.Engine, cfg types.Config, opts Options) *Store {
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}

	var (
		flagStore   *flags.Store
		backupStore backup.Store
	)
	if cfg.InMemory() {
		flagStore = flags.NewMemoryStore()
		backupStore = backup.NewMemoryStore()
	} else {
		flagStore = flags.NewStore(fs, cfg.DataDir)
		backupStore = backup.NewFileStore(fs, filepath.Join(cfg.DataDir, BackupDirName))
	}

	validator := backup.NewValidator(engine, backupStore)
	diag := forensic.New(engine, flagStore)
	checker := health.NewChecker(validator, diag)

	return &Store{
		cfg:         cfg,
		Engine:      engine,
		Bus:         bus,
		Flags:       flagStore,
		Backups:     validator,
		Forensic:    diag,
		Initializer: bootstrap.New(engine, diag),
		Health:      checker,
		Journal:     journal.NewManager(engine, cfg.Journal),
		Monitor:     monitor.New(validator, cfg.DataDir, cfg.Monitor),
		Recovery:    uisync.NewManager(checker, bus, flagStore, opts.Reloader, cfg.Recovery),
		Restore:     restore.New(engine, validator, bus, cfg.Restore),
	}
}

// Config returns the configuration the store was opened with.
func (s *Store) Config() types.Config {
	return s.cfg
}

// Boot returns what the boot decision did.
func (s *Store) Boot() BootReport {
	return s.boot
}

// bootReason decides between a normal and an emergency boot. Any missing
// bootstrap table, such as after a nuclear rebuild, forces the initializer.
func (s *Store) bootReason(ctx context.Context) (string, error) {
	failed, err := s.Flags.FKFailureLastSession()
	if err != nil {
		log.WithField("err", err).Warn("reading persisted flags failed, assuming clean session")
	}
	if failed {
		return BootFKFailure, nil
	}

	names, err := s.Engine.TableNames(ctx)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return BootFirstRun, nil
	}
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}
	for _, t := range sqlite.BootstrapTables() {
		if !present[t] {
			return BootMissingTable, nil
		}
	}
	return BootNormal, nil
}

func (s *Store) bootstrap(ctx context.Context) error {
	reason, err := s.bootReason(ctx)
	if err != nil {
		return fmt.Errorf("boot decision: %w", err)
	}
	s.boot.Reason = reason

	if reason != BootNormal {
		s.boot.Emergency = true
		if err := s.emergencyBoot(ctx); err != nil {
			return err
		}
	}

	if err := s.Journal.Initialize(ctx); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	s.boot.JournalMode = s.Journal.Mode()

	log.WithFields(log.Fields{
		"reason":  s.boot.Reason,
		"journal": s.boot.JournalMode,
		"dataDir": s.cfg.DataDir,
	}).Info("store ready")
	s.Bus.Publish(events.DatabaseReady, s.boot)
	return nil
}

// emergencyBoot runs the initializer. When its validation fails the store
// climbs the repair ladder before giving up.
func (s *Store) emergencyBoot(ctx context.Context) error {
	report, err := s.Initializer.InitializeWithEmergencyFix(ctx)
	s.boot.Init = &report
	if err != nil {
		if !errors.Is(err, types.ErrValidationFailed) {
			return fmt.Errorf("emergency initialization: %w", err)
		}
		log.WithFields(log.Fields{"err": err, "reason": s.boot.Reason}).
			Warn("emergency initialization failed validation, attempting repair")
		if !s.Health.RepairInPlace(ctx) && !s.Health.AttemptAutoRepair(ctx) {
			return fmt.Errorf("%w: %w", types.ErrRepairFailed, err)
		}
		s.boot.Recovered = true
	}

	if err := s.Flags.SetFKFailure(false); err != nil {
		log.WithField("err", err).Warn("clearing foreign-key failure flag failed")
	}
	return nil
}

// Close stops the monitor, flushes the journal and closes the engine.
// Close is safe to call more than once.
func (s *Store) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.Monitor.StopMonitoring()
		jerr := s.Journal.Close(ctx)
		eerr := s.Engine.Close()
		s.closeErr = errors.Join(jerr, eerr)
	})
	return s.closeErr
}
