package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/ledgerkeep/pkg/ledgerkeep"
	"github.com/mesh-intelligence/ledgerkeep/pkg/types"
)

func newDiagnoseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Run a read-only deep analysis of the store",
		Args:  cobra.NoArgs,
		RunE:  runDiagnose,
	}
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, store *ledgerkeep.Store) error {
		report, err := store.Forensic.PerformDeepAnalysis(ctx)
		if err != nil {
			return sysError(fmt.Errorf("deep analysis: %w", err))
		}
		return output(cmd, report, func(w io.Writer) {
			fmt.Fprintf(w, "objects:    %d\n", len(report.RawState.Objects))
			fmt.Fprintf(w, "tables:     %d\n", report.RawState.TableCount)
			fmt.Fprintf(w, "violations: %d\n", len(report.RawState.ForeignKeyViolations))
			for _, e := range report.Errors {
				fmt.Fprintln(w, "error:  ", e)
			}
			for _, wn := range report.Warnings {
				fmt.Fprintln(w, "warning:", wn)
			}
			if report.Recommends(types.NuclearRebuildRequired) {
				fmt.Fprintln(w, "recommendation:", types.NuclearRebuildRequired)
			} else {
				fmt.Fprintln(w, "recommendation:", types.SystemStable)
			}
		})
	})
}
