package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/ledgerkeep/pkg/ledgerkeep"
	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

type repairFlags struct {
	nuclear bool
	yes     bool
}

func newRepairCmd() *cobra.Command {
	var rf repairFlags
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Repair the store in place, or rebuild it with --nuclear",
		Long: `Repair purges rows that violate foreign keys and re-runs the health check.

With --nuclear every table, index, view and trigger is dropped and the
guaranteed schema is recreated. All data is lost; --yes is required.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepair(cmd, rf)
		},
	}
	cmd.Flags().BoolVar(&rf.nuclear, "nuclear", false, "drop everything and rebuild the guaranteed schema")
	cmd.Flags().BoolVar(&rf.yes, "yes", false, "confirm a destructive --nuclear rebuild")
	return cmd
}

func runRepair(cmd *cobra.Command, rf repairFlags) error {
	if rf.nuclear && !rf.yes {
		return userError(errors.New("--nuclear destroys all data; pass --yes to confirm"))
	}

	return withStore(cmd, func(ctx context.Context, store *ledgerkeep.Store) error {
		if rf.nuclear {
			res, err := store.Forensic.ExecuteDefinitiveFix(ctx)
			if err != nil {
				return sysError(fmt.Errorf("nuclear rebuild: %w", err))
			}
			return output(cmd, res, func(w io.Writer) {
				fmt.Fprintln(w, "rebuild complete")
				fmt.Fprintln(w, "  catalog checksum:", res.Checksum)
			})
		}

		repaired := store.Health.RepairInPlace(ctx)
		verdict := store.Health.CheckHealth(ctx)
		if err := output(cmd, verdict, func(w io.Writer) {
			fmt.Fprintln(w, "healthy:", verdict.Healthy)
			for _, issue := range verdict.Issues {
				fmt.Fprintln(w, "  issue:", issue)
			}
		}); err != nil {
			return err
		}
		if !repaired {
			return userError(fmt.Errorf("%w; consider repair --nuclear", types.ErrRepairFailed))
		}
		return nil
	})
}
