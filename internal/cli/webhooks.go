package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWebhooksCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhooks",
		Short: "Webhook delivery maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "redrive",
		Short: "Re-enqueue pending deliveries whose job was lost",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withBackend(cmd.Context(), func(b Backend) error {
				n, err := b.RedriveWebhooks(cmd.Context())
				if err != nil {
					return fmt.Errorf("redrive: %w", err)
				}
				return emit(cmd.OutOrStdout(), opts.Format, map[string]int{"requeued": n},
					fmt.Sprintf("requeued %d delivery(ies)", n))
			})
		},
	})
	return cmd
}
