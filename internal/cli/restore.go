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

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup-id>",
		Short: "Restore the store from a backup",
		Long: `Restore validates the backup, takes an emergency snapshot of the current
store, replaces the store contents in one transaction and verifies them
before committing. The snapshot id is printed so the restore can be undone.`,
		Args: cobra.ExactArgs(1),
		RunE: runRestore,
	}
}

func runRestore(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, store *ledgerkeep.Store) error {
		if !flags.jsonMode {
			w := cmd.OutOrStdout()
			unsubscribe := store.Restore.Subscribe(func(ev types.ProgressEvent) {
				fmt.Fprintf(w, "[%3d%%] %-9s %s\n", ev.Percentage, ev.Stage, ev.Message)
			})
			defer unsubscribe()
		}

		res, err := store.Restore.RestoreBackup(ctx, args[0])
		if oerr := output(cmd, res, func(w io.Writer) {
			if res.Success {
				fmt.Fprintln(w, "restore complete; undo with: ledgerkeep restore", res.EmergencyBackupID)
			}
		}); oerr != nil {
			return oerr
		}
		switch {
		case err == nil:
			return nil
		case errors.Is(err, types.ErrBackupNotFound), errors.Is(err, types.ErrChecksumMismatch):
			return userError(err)
		default:
			return sysError(err)
		}
	})
}
