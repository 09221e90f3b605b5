package cli

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var ErrInconsistent = errors.New("cached balance does not match ledger")

func newLedgerCommand(opts *RootOptions) *cobra.Command {
	var tenantFlag, customerFlag string

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Ledger inspection",
	}
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check a customer's cached balance against the ledger sum",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, err := uuid.Parse(tenantFlag)
			if err != nil {
				return fmt.Errorf("--tenant: %w", err)
			}
			customerID, err := uuid.Parse(customerFlag)
			if err != nil {
				return fmt.Errorf("--customer: %w", err)
			}
			return opts.withBackend(cmd.Context(), func(b Backend) error {
				rec, err := b.Reconcile(cmd.Context(), tenantID, customerID)
				if err != nil {
					return err
				}
				text := fmt.Sprintf("customer %s: balance=%d ledger=%d", rec.CustomerID, rec.Balance, rec.LedgerSum)
				if err := emit(cmd.OutOrStdout(), opts.Format, rec, text); err != nil {
					return err
				}
				if !rec.Consistent() {
					return ErrInconsistent
				}
				return nil
			})
		},
	}
	verify.Flags().StringVar(&tenantFlag, "tenant", "", "tenant id")
	verify.Flags().StringVar(&customerFlag, "customer", "", "customer id")
	_ = verify.MarkFlagRequired("tenant")
	_ = verify.MarkFlagRequired("customer")
	cmd.AddCommand(verify)
	return cmd
}
