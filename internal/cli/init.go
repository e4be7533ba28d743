package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/ledgerkeep/pkg/ledgerkeep"
)

type initOutput struct {
	ConfigDir string                `json:"config_dir"`
	DataDir   string                `json:"data_dir"`
	Boot      ledgerkeep.BootReport `json:"boot"`
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize ledgerkeep storage",
		Long: "Create the configuration and data directories, then open the store.\n" +
			"A new or damaged store is built by the emergency initializer.",
		Args: cobra.NoArgs,
		RunE: runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := configDir()
	if err != nil {
		return sysError(err)
	}

	return withStore(cmd, func(_ context.Context, store *ledgerkeep.Store) error {
		out := initOutput{ConfigDir: dir, DataDir: cfg.DataDir, Boot: store.Boot()}
		return output(cmd, out, func(w io.Writer) {
			fmt.Fprintln(w, "ledgerkeep initialized successfully")
			fmt.Fprintln(w, "  config: ", out.ConfigDir)
			fmt.Fprintln(w, "  data:   ", out.DataDir)
			fmt.Fprintln(w, "  boot:   ", out.Boot.Reason)
			fmt.Fprintln(w, "  journal:", out.Boot.JournalMode)
			if out.Boot.Init != nil {
				for _, t := range out.Boot.Init.SkippedTables() {
					fmt.Fprintln(w, "  skipped:", t)
				}
			}
		})
	})
}
