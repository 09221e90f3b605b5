// Package cli implements loyaltyctl, the operator tool that runs the
// scheduled jobs on demand against DATABASE_URL.
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/loyalcore/backend/internal/app"
	"github.com/loyalcore/backend/internal/config"
	"github.com/loyalcore/backend/internal/database"
	"github.com/loyalcore/backend/internal/ledger"
	"github.com/loyalcore/backend/internal/logger"
	"github.com/loyalcore/backend/internal/sweepers"
)

// Backend is what the commands run against.
type Backend interface {
	SweepExpiry(ctx context.Context) (sweepers.Stats, error)
	SweepTiers(ctx context.Context) (sweepers.Stats, error)
	RedriveWebhooks(ctx context.Context) (int, error)
	Reconcile(ctx context.Context, tenantID, customerID uuid.UUID) (*ledger.Reconciliation, error)
}

// Opener connects a Backend; the returned func releases it.
type Opener func(ctx context.Context, cfg *config.Config) (Backend, func(), error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	cfg  *config.Config
	open Opener
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand creates loyaltyctl. A nil open connects to Postgres.
func NewRootCommand(open Opener) *cobra.Command {
	if open == nil {
		open = openPostgres
	}
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:           "loyaltyctl",
		Short:         "Operate the loyalty backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			opts.cfg = config.Load()
			level := "warn"
			if opts.Verbose {
				level = "debug"
			}
			logger.Init(logger.Config{Level: level, Environment: opts.cfg.Env})
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newSweepCommand(opts))
	cmd.AddCommand(newWebhooksCommand(opts))
	cmd.AddCommand(newLedgerCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))
	return cmd
}

// withBackend opens the backend for the lifetime of one command.
func (o *RootOptions) withBackend(ctx context.Context, fn func(Backend) error) error {
	b, closeFn, err := o.open(ctx, o.cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(b)
}

type pgBackend struct{ a *app.App }

func (b pgBackend) SweepExpiry(ctx context.Context) (sweepers.Stats, error) { return b.a.Expiry.Run(ctx) }
func (b pgBackend) SweepTiers(ctx context.Context) (sweepers.Stats, error) { return b.a.Tiers.Run(ctx) }
func (b pgBackend) RedriveWebhooks(ctx context.Context) (int, error) { return b.a.Redriver.Run(ctx) }

func (b pgBackend) Reconcile(ctx context.Context, tenantID, customerID uuid.UUID) (*ledger.Reconciliation, error) {
	return b.a.Ledger.Reconcile(ctx, tenantID, customerID)
}

func openPostgres(ctx context.Context, cfg *config.Config) (Backend, func(), error) {
	pool, err := database.NewPostgres(ctx, cfg.DatabaseURL, 4)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(pool, cfg, log.Logger, false)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pgBackend{a: a}, pool.Close, nil
}
