package sweepers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/loyalcore/backend/internal/models"
	"github.com/loyalcore/backend/internal/repository"
	"github.com/loyalcore/backend/internal/rules"
	"github.com/loyalcore/backend/internal/tenant"
)

type TierLister interface {
	List(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID) ([]*models.Tier, error)
}

type TierCustomers interface {
	ListActiveForTiers(ctx context.Context, tx pgx.Tx, tenantID, after uuid.UUID, limit int) ([]repository.TierSnapshot, error)
	SetTier(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID, tierID *uuid.UUID) (bool, error)
}

type Publisher interface {
	PublishTx(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, event string, data any) error
}

// TierChange is the payload of tier.changed.
type TierChange struct {
	CustomerID        uuid.UUID  `json:"customer_id"`
	FromTierID        *uuid.UUID `json:"from_tier_id"`
	ToTierID          *uuid.UUID `json:"to_tier_id"`
	TotalPointsEarned int        `json:"total_points_earned"`
}

// Tiers re-derives each active customer's tier from TotalPointsEarned. It
// never touches balances, so it is safe alongside earn and burn traffic.
type Tiers struct {
	db        tenant.TxBeginner
	tenants   TenantLister
	tiers     TierLister
	customers TierCustomers
	events    Publisher
	batch     int
	log       zerolog.Logger
}

func NewTiers(db tenant.TxBeginner, tenants TenantLister, tiers TierLister, customers TierCustomers, events Publisher, log zerolog.Logger) *Tiers {
	return &Tiers{
		db:        db,
		tenants:   tenants,
		tiers:     tiers,
		customers: customers,
		events:    events,
		batch:     defaultBatch,
		log:       log.With().Str("component", "tier_sweep").Logger(),
	}
}

func (s *Tiers) Run(ctx context.Context) (Stats, error) {
	var st Stats
	ids, err := s.tenants.ListActiveIDs(ctx)
	if err != nil {
		return st, err
	}
	start := time.Now()
	for _, tenantID := range ids {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		st.Tenants++
		if err := s.sweepTenant(ctx, tenantID, &st); err != nil {
			s.log.Warn().Err(err).Str("tenant_id", tenantID.String()).Msg("tier sweep aborted for tenant")
		}
	}
	s.log.Info().Func(func(e *zerolog.Event) { st.log(e) }).Dur("took", time.Since(start)).Msg("tier sweep finished")
	return st, nil
}

func (s *Tiers) sweepTenant(ctx context.Context, tenantID uuid.UUID, st *Stats) error {
	var tiers []*models.Tier
	err := tenant.InTx(ctx, s.db, tenantID, func(tx pgx.Tx) error {
		var err error
		tiers, err = s.tiers.List(ctx, tx, tenantID)
		return err
	})
	if err != nil {
		return err
	}

	after := uuid.Nil
	for {
		var page []repository.TierSnapshot
		err := tenant.InTx(ctx, s.db, tenantID, func(tx pgx.Tx) error {
			var err error
			page, err = s.customers.ListActiveForTiers(ctx, tx, tenantID, after, s.batch)
			return err
		})
		if err != nil {
			return err
		}

		for _, c := range page {
			st.Scanned++
			var want *uuid.UUID
			if t := rules.TierFor(tiers, c.TotalPointsEarned); t != nil {
				want = &t.ID
			}
			if sameTier(c.TierID, want) {
				st.Skipped++
				continue
			}
			if err := s.apply(ctx, tenantID, c, want); err != nil {
				st.Failed++
				s.log.Warn().Err(err).Str("tenant_id", tenantID.String()).Str("customer_id", c.ID.String()).Msg("failed to update tier")
				continue
			}
			st.Changed++
		}

		if len(page) < s.batch {
			return nil
		}
		after = page[len(page)-1].ID
	}
}

// apply is a conditional write: SetTier only changes a row whose tier still
// differs, so concurrent sweeps cannot double-publish.
func (s *Tiers) apply(ctx context.Context, tenantID uuid.UUID, c repository.TierSnapshot, want *uuid.UUID) error {
	return tenant.InTx(ctx, s.db, tenantID, func(tx pgx.Tx) error {
		changed, err := s.customers.SetTier(ctx, tx, tenantID, c.ID, want)
		if err != nil || !changed || s.events == nil {
			return err
		}
		return s.events.PublishTx(ctx, tx, tenantID, models.EventTierChanged, TierChange{
			CustomerID:        c.ID,
			FromTierID:        c.TierID,
			ToTierID:          want,
			TotalPointsEarned: c.TotalPointsEarned,
		})
	})
}

func sameTier(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
