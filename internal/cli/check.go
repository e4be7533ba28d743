package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/ledgerkeep/pkg/ledgerkeep"
	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run the integrity test suite",
		Long: "Run the foreign key, physical integrity and schema completeness checks.\n" +
			"Exits 1 when any check fails.",
		Args: cobra.NoArgs,
		RunE: runCheck,
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, store *ledgerkeep.Store) error {
		res, err := store.Backups.RunIntegrityTestSuite(ctx)
		if err != nil {
			return sysError(fmt.Errorf("integrity suite: %w", err))
		}
		if err := output(cmd, res, func(w io.Writer) {
			for _, r := range res.Results {
				fmt.Fprintf(w, "%-20s %s\n", r.Name, passFail(r.Passed))
			}
			if !res.Passed {
				fmt.Fprintln(w, "failures:", strings.Join(res.Failures, "; "))
			}
		}); err != nil {
			return err
		}
		if !res.Passed {
			return userError(errors.Join(types.ErrStoreUnhealthy, errors.New(strings.Join(res.Failures, "; "))))
		}
		return nil
	})
}
