package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/ledgerkeep/pkg/ledgerkeep"
	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create and list backups",
	}
	cmd.AddCommand(newBackupCreateCmd())
	cmd.AddCommand(newBackupListCmd())
	return cmd
}

func newBackupCreateCmd() *cobra.Command {
	var emergency bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a validated backup",
		Long: `Create exports the store only after it passes the integrity test suite,
then re-validates the exported image before saving it.

With --emergency the preflight is skipped and the snapshot is kept even
when it fails validation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *ledgerkeep.Store) error {
				var (
					meta types.BackupMetadata
					err  error
				)
				if emergency {
					meta, err = store.Backups.CreateEmergencyBackup(ctx)
				} else {
					meta, err = store.Backups.CreateValidatedBackup(ctx)
				}
				if err != nil {
					if errors.Is(err, types.ErrStoreUnhealthy) {
						return userError(err)
					}
					return sysError(fmt.Errorf("create backup: %w", err))
				}
				return output(cmd, meta, func(w io.Writer) {
					fmt.Fprintf(w, "backup %s created (%s, validated=%t)\n",
						meta.ID, humanize.IBytes(uint64(meta.Size)), meta.Validated)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&emergency, "emergency", false, "skip the preflight and keep unvalidated snapshots")
	return cmd
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *ledgerkeep.Store) error {
				metas, err := store.Backups.Store().List(ctx)
				if err != nil {
					return sysError(fmt.Errorf("list backups: %w", err))
				}
				if metas == nil {
					metas = []types.BackupMetadata{}
				}
				return output(cmd, metas, func(w io.Writer) {
					if len(metas) == 0 {
						fmt.Fprintln(w, "no backups")
						return
					}
					for _, m := range metas {
						kind := "validated"
						switch {
						case m.Emergency:
							kind = "emergency"
						case !m.Validated:
							kind = "unvalidated"
						}
						fmt.Fprintf(w, "%s  %s  %8s  %s\n", m.ID, m.Timestamp.Format("2006-01-02 15:04:05"),
							humanize.IBytes(uint64(m.Size)), kind)
					}
				})
			})
		},
	}
}
