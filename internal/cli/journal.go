package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/ledgerkeep/internal/sqlite"
	"github.com/mesh-intelligence/ledgerkeep/pkg/ledgerkeep"
)

var checkpointModes = map[string]sqlite.CheckpointMode{
	"passive":  sqlite.CheckpointPassive,
	"full":     sqlite.CheckpointFull,
	"restart":  sqlite.CheckpointRestart,
	"truncate": sqlite.CheckpointTruncate,
}

type journalOutput struct {
	Mode       string                   `json:"mode"`
	Checkpoint *sqlite.CheckpointResult `json:"checkpoint,omitempty"`
}

func newJournalCmd() *cobra.Command {
	var checkpoint string
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show the journaling mode and optionally run a checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var mode sqlite.CheckpointMode
			if checkpoint != "" {
				m, ok := checkpointModes[strings.ToLower(checkpoint)]
				if !ok {
					return userError(fmt.Errorf("unknown checkpoint mode %q (valid: passive, full, restart, truncate)", checkpoint))
				}
				mode = m
			}

			return withStore(cmd, func(ctx context.Context, store *ledgerkeep.Store) error {
				out := journalOutput{Mode: store.Journal.Mode()}
				if mode != "" {
					if out.Mode != sqlite.JournalWAL {
						return userError(fmt.Errorf("checkpoint needs write-ahead logging, journal is %s", out.Mode))
					}
					res, err := store.Journal.Checkpoint(ctx, mode)
					if err != nil {
						return sysError(fmt.Errorf("checkpoint: %w", err))
					}
					out.Checkpoint = &res
				}
				return output(cmd, out, func(w io.Writer) {
					fmt.Fprintln(w, "journal mode:", out.Mode)
					if c := out.Checkpoint; c != nil {
						fmt.Fprintf(w, "checkpoint %s: busy=%t log=%d checkpointed=%d\n",
							strings.ToLower(string(mode)), c.Busy, c.LogFrames, c.Checkpointed)
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&checkpoint, "checkpoint", "", "run a checkpoint (passive, full, restart, truncate)")
	return cmd
}
