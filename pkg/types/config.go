package types

import (
	"errors"
	"time"
)

// Config holds backend selection and tuning parameters for the subsystem.
type Config struct {
	Backend  string         `json:"backend" yaml:"backend"`
	DataDir  string         `json:"data_dir" yaml:"data_dir"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
	Monitor  MonitorConfig  `json:"monitor" yaml:"monitor"`
	Recovery RecoveryConfig `json:"recovery" yaml:"recovery"`
	Restore  RestoreConfig  `json:"restore" yaml:"restore"`
}

// JournalConfig tunes the engine's journaling mode and checkpoint cadence.
type JournalConfig struct {
	PreferWAL           bool          `json:"prefer_wal" yaml:"prefer_wal"`
	CacheSizeKiB        int           `json:"cache_size_kib" yaml:"cache_size_kib"`
	AutoCheckpointPages int           `json:"autocheckpoint_pages" yaml:"autocheckpoint_pages"`
	CheckpointInterval  time.Duration `json:"checkpoint_interval" yaml:"checkpoint_interval"`
	BusyTimeout         time.Duration `json:"busy_timeout" yaml:"busy_timeout"`
}

// MonitorConfig controls the background pulse loop.
type MonitorConfig struct {
	Interval       time.Duration `json:"interval" yaml:"interval"`
	QuotaWarnRatio float64       `json:"quota_warn_ratio" yaml:"quota_warn_ratio"`
}

// RecoveryConfig controls the escalation ladder.
type RecoveryConfig struct {
	// FlushDelay is how long escalation waits before forcing a reload.
	FlushDelay time.Duration `json:"flush_delay" yaml:"flush_delay"`
	// RetryCooldown suppresses a second forced reload while a previous
	// recovery attempt marker is younger than this.
	RetryCooldown time.Duration `json:"retry_cooldown" yaml:"retry_cooldown"`
}

// RestoreConfig controls the restore progress flow.
type RestoreConfig struct {
	// StageDelay is a cosmetic pause between progress stages.
	StageDelay time.Duration `json:"stage_delay" yaml:"stage_delay"`
}

// Supported backend names.
const (
	BackendSQLite = "sqlite"
)

// MemoryDataDir selects an in-memory store instead of a data directory.
const MemoryDataDir = ":memory:"

// Config validation errors.
var (
	ErrBackendEmpty          = errors.New("backend must not be empty")
	ErrBackendUnknown        = errors.New("unknown backend")
	ErrCacheSizeInvalid      = errors.New("cache size must not be negative")
	ErrAutoCheckpointInvalid = errors.New("autocheckpoint pages must not be negative")
	ErrIntervalInvalid       = errors.New("interval must be positive")
	ErrQuotaRatioInvalid     = errors.New("quota warn ratio must be in (0, 1]")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite: true,
}

// DefaultConfig returns a Config populated with production defaults.
func DefaultConfig() Config {
	return Config{
		Backend: BackendSQLite,
		Journal: JournalConfig{
			PreferWAL:           true,
			CacheSizeKiB:        16384,
			AutoCheckpointPages: 1000,
			CheckpointInterval:  30 * time.Second,
			BusyTimeout:         5 * time.Second,
		},
		Monitor: MonitorConfig{
			Interval:       5 * time.Minute,
			QuotaWarnRatio: 0.9,
		},
		Recovery: RecoveryConfig{
			FlushDelay:    500 * time.Millisecond,
			RetryCooldown: 2 * time.Minute,
		},
		Restore: RestoreConfig{
			StageDelay: 250 * time.Millisecond,
		},
	}
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if c.Journal.CacheSizeKiB < 0 {
		return ErrCacheSizeInvalid
	}
	if c.Journal.AutoCheckpointPages < 0 {
		return ErrAutoCheckpointInvalid
	}
	if c.Journal.CheckpointInterval <= 0 || c.Monitor.Interval <= 0 {
		return ErrIntervalInvalid
	}
	if c.Monitor.QuotaWarnRatio <= 0 || c.Monitor.QuotaWarnRatio > 1 {
		return ErrQuotaRatioInvalid
	}
	return nil
}

// InMemory reports whether the config selects an in-memory store.
func (c Config) InMemory() bool {
	return c.DataDir == MemoryDataDir
}
