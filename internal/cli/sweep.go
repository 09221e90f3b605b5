package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loyalcore/backend/internal/sweepers"
)

func newSweepCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a scheduled sweep once, synchronously",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "expiry",
		Short: "Expire earn entries past their expiry date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweep(cmd, opts, "expiry", Backend.SweepExpiry)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "tiers",
		Short: "Recalculate customer tiers from lifetime points",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweep(cmd, opts, "tiers", Backend.SweepTiers)
		},
	})
	return cmd
}

func runSweep(cmd *cobra.Command, opts *RootOptions, name string, run func(Backend, context.Context) (sweepers.Stats, error)) error {
	return opts.withBackend(cmd.Context(), func(b Backend) error {
		st, err := run(b, cmd.Context())
		if err != nil {
			return fmt.Errorf("%s sweep: %w", name, err)
		}
		text := fmt.Sprintf("%s sweep: tenants=%d scanned=%d changed=%d skipped=%d failed=%d",
			name, st.Tenants, st.Scanned, st.Changed, st.Skipped, st.Failed)
		if err := emit(cmd.OutOrStdout(), opts.Format, st, text); err != nil {
			return err
		}
		if st.Failed > 0 {
			return fmt.Errorf("%s sweep: %d item(s) failed", name, st.Failed)
		}
		return nil
	})
}
