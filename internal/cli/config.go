package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/mesh-intelligence/ledgerkeep/internal/paths"
	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"
)

// Config keys.
const (
	cfgKeyBackend            = "backend"
	cfgKeyDataDir            = "data_dir"
	cfgKeyPreferWAL          = "journal.prefer_wal"
	cfgKeyCacheSizeKiB       = "journal.cache_size_kib"
	cfgKeyAutoCheckpoint     = "journal.autocheckpoint_pages"
	cfgKeyCheckpointInterval = "journal.checkpoint_interval"
	cfgKeyBusyTimeout        = "journal.busy_timeout"
	cfgKeyMonitorInterval    = "monitor.interval"
	cfgKeyQuotaWarnRatio     = "monitor.quota_warn_ratio"
	cfgKeyFlushDelay         = "recovery.flush_delay"
	cfgKeyRetryCooldown      = "recovery.retry_cooldown"
	cfgKeyRestoreStageDelay  = "restore.stage_delay"
)

// defaultConfigYAML is the content written to config.yaml on first run.
const defaultConfigYAML = `# ledgerkeep configuration

# Backend selection
backend: sqlite

# Data directory (optional; overridable by --data-dir flag).
# Use ":memory:" for a throwaway in-memory store.
# data_dir:

journal:
  prefer_wal: true
  cache_size_kib: 16384
  autocheckpoint_pages: 1000
  checkpoint_interval: 30s
  busy_timeout: 5s

monitor:
  interval: 5m
  quota_warn_ratio: 0.9

recovery:
  flush_delay: 500ms
  retry_cooldown: 2m

restore:
  stage_delay: 250ms
`

// configDir resolves the configuration directory from the global flags.
func configDir() (string, error) {
	return paths.ResolveConfigDir(flags.configDir)
}

// loadConfig reads config.yaml from the resolved config directory using
// Viper, creating the directory and a default file on first run, and
// resolves the data directory. A missing config.yaml is not an error.
func loadConfig() (types.Config, error) {
	dir, err := configDir()
	if err != nil {
		return types.Config{}, fmt.Errorf("resolve config dir: %w", err)
	}
	v, err := readConfig(dir)
	if err != nil {
		return types.Config{}, err
	}

	c := decodeConfig(v)
	c.DataDir, err = paths.ResolveDataDir(flags.dataDir, v.GetString(cfgKeyDataDir))
	if err != nil {
		return types.Config{}, fmt.Errorf("resolve data dir: %w", err)
	}
	if err := c.Validate(); err != nil {
		return types.Config{}, fmt.Errorf("config %s: %w", filepath.Join(dir, configFileExt), err)
	}
	return c, nil
}

func readConfig(dir string) (*viper.Viper, error) {
	if err := ensureConfigDir(dir); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := ensureDefaultConfigFile(dir); err != nil {
		return nil, fmt.Errorf("ensure default config: %w", err)
	}

	v := viper.New()
	setDefaults(v, types.DefaultConfig())
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(dir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

func setDefaults(v *viper.Viper, d types.Config) {
	v.SetDefault(cfgKeyBackend, d.Backend)
	v.SetDefault(cfgKeyPreferWAL, d.Journal.PreferWAL)
	v.SetDefault(cfgKeyCacheSizeKiB, d.Journal.CacheSizeKiB)
	v.SetDefault(cfgKeyAutoCheckpoint, d.Journal.AutoCheckpointPages)
	v.SetDefault(cfgKeyCheckpointInterval, d.Journal.CheckpointInterval)
	v.SetDefault(cfgKeyBusyTimeout, d.Journal.BusyTimeout)
	v.SetDefault(cfgKeyMonitorInterval, d.Monitor.Interval)
	v.SetDefault(cfgKeyQuotaWarnRatio, d.Monitor.QuotaWarnRatio)
	v.SetDefault(cfgKeyFlushDelay, d.Recovery.FlushDelay)
	v.SetDefault(cfgKeyRetryCooldown, d.Recovery.RetryCooldown)
	v.SetDefault(cfgKeyRestoreStageDelay, d.Restore.StageDelay)
}

// decodeConfig maps viper keys onto types.Config. DataDir is resolved
// separately.
func decodeConfig(v *viper.Viper) types.Config {
	return types.Config{
		Backend: v.GetString(cfgKeyBackend),
		Journal: types.JournalConfig{
			PreferWAL:           v.GetBool(cfgKeyPreferWAL),
			CacheSizeKiB:        v.GetInt(cfgKeyCacheSizeKiB),
			AutoCheckpointPages: v.GetInt(cfgKeyAutoCheckpoint),
			CheckpointInterval:  v.GetDuration(cfgKeyCheckpointInterval),
			BusyTimeout:         v.GetDuration(cfgKeyBusyTimeout),
		},
		Monitor: types.MonitorConfig{
			Interval:       v.GetDuration(cfgKeyMonitorInterval),
			QuotaWarnRatio: v.GetFloat64(cfgKeyQuotaWarnRatio),
		},
		Recovery: types.RecoveryConfig{
			FlushDelay:    v.GetDuration(cfgKeyFlushDelay),
			RetryCooldown: v.GetDuration(cfgKeyRetryCooldown),
		},
		Restore: types.RestoreConfig{
			StageDelay: v.GetDuration(cfgKeyRestoreStageDelay),
		},
	}
}

// ensureConfigDir creates the config directory if it does not exist.
func ensureConfigDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// ensureDefaultConfigFile creates a default config.yaml if the file does not
// exist in the config directory.
func ensureDefaultConfigFile(dir string) error {
	path := filepath.Join(dir, configFileExt)

	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}
