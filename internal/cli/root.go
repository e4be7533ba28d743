// Package cli implements the ledgerkeep command-line interface.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
	logLevel  string
	logFormat string
}

var flags rootFlags

// cfg is loaded by PersistentPreRunE so all subcommands can use it.
var cfg types.Config

// NewRootCmd creates the top-level "ledgerkeep" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	flags = rootFlags{}
	cfg = types.Config{}

	root := &cobra.Command{
		Use:   "ledgerkeep",
		Short: "Integrity and recovery tooling for an embedded business store",
		Long: "ledgerkeep checks, diagnoses, repairs, backs up and restores the\n" +
			"embedded store of an offline-first business application.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := configureLogging(cmd.ErrOrStderr(), flags.logLevel, flags.logFormat); err != nil {
				return userError(err)
			}
			if cmd.Name() == "version" {
				return nil
			}
			loaded, err := loadConfig()
			if err != nil {
				return userError(err)
			}
			cfg = loaded
			return nil
		},
	}

	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "data directory, or :memory: (default: $(CWD)/.ledgerkeep-db)")
	root.PersistentFlags().BoolVar(&flags.jsonMode, "json", false, "output in JSON format")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "text", "log format (text, json)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newDiagnoseCmd())
	root.AddCommand(newRepairCmd())
	root.AddCommand(newBackupCmd())
	root.AddCommand(newRestoreCmd())
	root.AddCommand(newMonitorCmd())
	root.AddCommand(newJournalCmd())

	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	os.Exit(run(NewRootCmd(), os.Stderr))
}

// run executes root and maps its error to an exit code.
func run(root *cobra.Command, stderr io.Writer) int {
	err := root.Execute()
	if err == nil {
		return exitSuccess
	}
	fmt.Fprintln(stderr, "ledgerkeep:", err)

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// Errors returned by cobra itself are argument and flag errors.
	return exitUserError
}

// exitError carries the exit code a failure maps to.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func userError(err error) error {
	return &exitError{code: exitUserError, err: err}
}

func sysError(err error) error {
	return &exitError{code: exitSysError, err: err}
}

// configureLogging applies the global log flags.
func configureLogging(w io.Writer, level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	log.SetOutput(w)

	switch format {
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q (valid: text, json)", format)
	}
	return nil
}
