package webhooks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/rs/zerolog"

	"github.com/loyalcore/backend/internal/tenant"
)

const redriveBatch = 500

// RedriveStore finds deliveries whose job has gone missing.
type RedriveStore interface {
	ListStalePending(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

type TenantLister interface {
	ListActiveIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Redriver re-enqueues pending deliveries that are overdue by more than
// grace. The queue is not durable state; the delivery table is.
type Redriver struct {
	db      tenant.TxBeginner
	tenants TenantLister
	store   RedriveStore
	enqueue EnqueueFunc
	grace   time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

func NewRedriver(db tenant.TxBeginner, tenants TenantLister, store RedriveStore, enqueue EnqueueFunc, grace time.Duration, log zerolog.Logger) *Redriver {
	return &Redriver{
		db:      db,
		tenants: tenants,
		store:   store,
		enqueue: enqueue,
		grace:   grace,
		log:     log.With().Str("component", "webhook_redrive").Logger(),
		now:     time.Now,
	}
}

// Run returns how many deliveries were re-enqueued. A failing tenant is
// logged and skipped.
func (r *Redriver) Run(ctx context.Context) (int, error) {
	ids, err := r.tenants.ListActiveIDs(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := r.now().Add(-r.grace)
	total := 0
	for _, tenantID := range ids {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n := 0
		err := tenant.InTx(ctx, r.db, tenantID, func(tx pgx.Tx) error {
			stale, err := r.store.ListStalePending(ctx, tx, tenantID, cutoff, redriveBatch)
			if err != nil {
				return err
			}
			for _, id := range stale {
				if err := r.enqueue(ctx, tx, DeliverArgs{TenantID: tenantID, DeliveryID: id}); err != nil {
					return err
				}
			}
			n = len(stale)
			return nil
		})
		if err != nil {
			r.log.Warn().Err(err).Str("tenant_id", tenantID.String()).Msg("webhook redrive failed for tenant")
			continue
		}
		total += n
	}
	r.log.Info().Int("redriven", total).Msg("webhook redrive finished")
	return total, nil
}

// RedriveArgs is the periodic job that runs the Redriver.
type RedriveArgs struct{}

func (RedriveArgs) Kind() string { return "webhook_redrive" }

type RedriveWorker struct {
	river.WorkerDefaults[RedriveArgs]
	redriver *Redriver
}

func NewRedriveWorker(r *Redriver) *RedriveWorker {
	return &RedriveWorker{redriver: r}
}

func (w *RedriveWorker) Work(ctx context.Context, _ *river.Job[RedriveArgs]) error {
	_, err := w.redriver.Run(ctx)
	return err
}
