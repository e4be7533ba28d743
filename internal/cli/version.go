package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/ledgerkeep/pkg/ledgerkeep"
)

const modulePath = "github.com/mesh-intelligence/ledgerkeep"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ledgerkeep version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "ledgerkeep v%s\nmodule: %s\n", ledgerkeep.Version, modulePath)
			return nil
		},
	}
}
