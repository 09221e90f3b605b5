package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/loyalcore/backend/internal/middleware"
)

// newTokenCommand signs staff tokens with JWT_SECRET, for local testing
// and integrations that have no login flow.
func newTokenCommand(opts *RootOptions) *cobra.Command {
	var (
		tenantFlag string
		staffID    string
		role       string
		ttl        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a staff bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, err := uuid.Parse(tenantFlag)
			if err != nil {
				return fmt.Errorf("--tenant: %w", err)
			}
			token, err := middleware.IssueStaffToken([]byte(opts.cfg.JWTSecret), staffID, tenantID, role, ttl)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), opts.Format, map[string]string{"token": token}, token)
		},
	}
	cmd.Flags().StringVar(&tenantFlag, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&staffID, "staff", "loyaltyctl", "subject of the token")
	cmd.Flags().StringVar(&role, "role", "manager", "staff role")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
