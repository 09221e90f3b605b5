// Package sweepers holds the scheduled bulk jobs. Each item is handled in
// its own transaction, so an interrupted run loses no completed work and the
// next run picks up whatever is left.
package sweepers

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/loyalcore/backend/internal/ledger"
	"github.com/loyalcore/backend/internal/models"
	"github.com/loyalcore/backend/internal/repository"
	"github.com/loyalcore/backend/internal/tenant"
)

const defaultBatch = 200

type TenantLister interface {
	ListActiveIDs(ctx context.Context) ([]uuid.UUID, error)
}

type ExpiredLister interface {
	ListExpiredEarn(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, now time.Time, after repository.ExpiryCursor, limit int) ([]*models.LedgerEntry, error)
}

// Stats summarises one sweep run.
type Stats struct {
	Tenants int `json:"tenants"`
	Scanned int `json:"scanned"`
	Changed int `json:"changed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func (s Stats) log(ev *zerolog.Event) *zerolog.Event {
	return ev.Int("tenants", s.Tenants).
		Int("scanned", s.Scanned).
		Int("changed", s.Changed).
		Int("skipped", s.Skipped).
		Int("failed", s.Failed)
}

// Expiry posts expire entries for earn entries past their expiresAt.
type Expiry struct {
	db      tenant.TxBeginner
	tenants TenantLister
	entries ExpiredLister
	engine  *ledger.Engine
	batch   int
	log     zerolog.Logger
	now     func() time.Time
}

func NewExpiry(db tenant.TxBeginner, tenants TenantLister, entries ExpiredLister, engine *ledger.Engine, log zerolog.Logger) *Expiry {
	return &Expiry{
		db:      db,
		tenants: tenants,
		entries: entries,
		engine:  engine,
		batch:   defaultBatch,
		log:     log.With().Str("component", "expiry_sweep").Logger(),
		now:     time.Now,
	}
}

func (s *Expiry) Run(ctx context.Context) (Stats, error) {
	var st Stats
	ids, err := s.tenants.ListActiveIDs(ctx)
	if err != nil {
		return st, err
	}
	for _, tenantID := range ids {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		st.Tenants++
		if err := s.sweepTenant(ctx, tenantID, &st); err != nil {
			s.log.Warn().Err(err).Str("tenant_id", tenantID.String()).Msg("expiry sweep aborted for tenant")
		}
	}
	s.log.Info().Func(func(e *zerolog.Event) { st.log(e) }).Msg("expiry sweep finished")
	return st, nil
}

func (s *Expiry) sweepTenant(ctx context.Context, tenantID uuid.UUID, st *Stats) error {
	now := s.now()
	var cursor repository.ExpiryCursor
	for {
		var page []*models.LedgerEntry
		err := tenant.InTx(ctx, s.db, tenantID, func(tx pgx.Tx) error {
			var err error
			page, err = s.entries.ListExpiredEarn(ctx, tx, tenantID, now, cursor, s.batch)
			return err
		})
		if err != nil {
			return err
		}

		for _, e := range page {
			st.Scanned++
			res, err := s.engine.ExpireEntry(ctx, tenantID, e.ID)
			switch {
			case err == nil && res.Entry.Amount == 0:
				st.Skipped++
			case err == nil:
				st.Changed++
			case errors.Is(err, ledger.ErrNoOp), errors.Is(err, ledger.ErrNotExpirable):
				st.Skipped++
			default:
				st.Failed++
				s.log.Warn().
					Err(err).
					Str("tenant_id", tenantID.String()).
					Str("entry_id", e.ID.String()).
					Str("customer_id", e.CustomerID.String()).
					Msg("failed to expire ledger entry")
			}
		}

		if len(page) < s.batch {
			return nil
		}
		last := page[len(page)-1]
		cursor = repository.ExpiryCursor{ExpiresAt: *last.ExpiresAt, ID: last.ID}
	}
}
