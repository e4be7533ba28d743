package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/ledgerkeep/pkg/ledgerkeep"
)

// openStore opens the configured store and runs the boot decision. The
// caller must defer store.Close.
func openStore(ctx context.Context) (*ledgerkeep.Store, error) {
	store, err := ledgerkeep.Open(ctx, cfg, ledgerkeep.Options{})
	if err != nil {
		return nil, sysError(fmt.Errorf("open store: %w", err))
	}
	return store, nil
}

// withStore opens the store, runs fn and closes the store. A close error
// is reported only when fn succeeded.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, store *ledgerkeep.Store) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	err = fn(ctx, store)
	if cerr := store.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
		err = sysError(fmt.Errorf("close store: %w", cerr))
	}
	return err
}

// output writes v as indented JSON in --json mode, otherwise calls text.
func output(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if !flags.jsonMode {
		text(w)
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return sysError(fmt.Errorf("encode output: %w", err))
	}
	return nil
}

func passFail(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}
