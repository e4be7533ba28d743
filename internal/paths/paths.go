// Package paths resolves configuration and data directory locations.
package paths

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

// appName names the per-user directories.
const appName = "ledgerkeep"

// CWD-relative data directory used when nothing else is configured.
const DefaultDataDirName = ".ledgerkeep-db"

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "LEDGERKEEP_CONFIG_DIR"
	EnvDataDir   = "LEDGERKEEP_DATA_DIR"
)

// platformDir holds platform-detection functions that can be overridden in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
	workingDir    func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
	workingDir:    os.Getwd,
}

// DefaultConfigDir returns the platform-specific default configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/ledgerkeep (fallback ~/.config/ledgerkeep)
// macOS:   ~/Library/Application Support/ledgerkeep
// Windows: %APPDATA%/ledgerkeep
func DefaultConfigDir() (string, error) {
	if runtime.GOOS == "linux" {
		return xdgDir("XDG_CONFIG_HOME", ".config")
	}
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName), nil
}

// DefaultDataDir returns the platform-specific default data directory.
//
// Linux:   $XDG_DATA_HOME/ledgerkeep (fallback ~/.local/share/ledgerkeep)
// macOS and Windows: same as the config directory.
func DefaultDataDir() (string, error) {
	if runtime.GOOS == "linux" {
		return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	}
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName), nil
}

func xdgDir(env, fallback string) (string, error) {
	if xdg := os.Getenv(env); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := platformDir.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, fallback, appName), nil
}

// ResolveConfigDir returns the configuration directory following the precedence
// chain: flag > LEDGERKEEP_CONFIG_DIR env > DefaultConfigDir().
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultConfigDir()
}

// ResolveDataDir returns the data directory following the precedence chain:
// flag > configYAMLValue > LEDGERKEEP_DATA_DIR env > $(CWD)/.ledgerkeep-db.
//
// The first non-empty source wins. The in-memory marker ":memory:" is
// returned unchanged.
func ResolveDataDir(flag, configYAMLValue string) (string, error) {
	for _, v := range []string{flag, configYAMLValue, os.Getenv(EnvDataDir)} {
		if v == "" {
			continue
		}
		if v == types.MemoryDataDir {
			return v, nil
		}
		return filepath.Abs(v)
	}
	cwd, err := platformDir.workingDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, DefaultDataDirName), nil
}
