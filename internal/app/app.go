// Package app wires repositories, engines and the River client into one
// graph shared by the API server and loyaltyctl.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog"

	"github.com/loyalcore/backend/internal/config"
	"github.com/loyalcore/backend/internal/ledger"
	"github.com/loyalcore/backend/internal/repository"
	"github.com/loyalcore/backend/internal/retry"
	"github.com/loyalcore/backend/internal/rewards"
	"github.com/loyalcore/backend/internal/stamps"
	"github.com/loyalcore/backend/internal/sweepers"
	"github.com/loyalcore/backend/internal/syncqueue"
	"github.com/loyalcore/backend/internal/transactions"
	"github.com/loyalcore/backend/internal/webhooks"
)

var errInsertNotWired = errors.New("river insert not wired")

type Repos struct {
	Customers    *repository.CustomerRepo
	Ledger       *repository.LedgerRepo
	Tiers        *repository.TierRepo
	Programs     *repository.ProgramRepo
	Transactions *repository.TransactionRepo
	Rewards      *repository.RewardRepo
	Stamps       *repository.StampRepo
	Kiosks       *repository.KioskRepo
	Sync         *repository.SyncRepo
	Webhooks     *repository.WebhookRepo
	Tenants      *repository.TenantRepo
}

type App struct {
	Pool  *pgxpool.Pool
	River *river.Client[pgx.Tx]
	Repos Repos

	Events       *webhooks.Dispatcher
	Ledger       *ledger.Engine
	Stamps       *stamps.Engine
	Rewards      *rewards.Service
	Transactions *transactions.Service
	Sync         *syncqueue.Service

	Expiry   *sweepers.Expiry
	Tiers    *sweepers.Tiers
	Redriver *webhooks.Redriver
}

// New builds the graph. With runWorkers false the River client is
// insert-only, which is what the CLI needs.
func New(pool *pgxpool.Pool, cfg *config.Config, log zerolog.Logger, runWorkers bool) (*App, error) {
	a := &App{Pool: pool}
	a.Repos = Repos{
		Customers:    repository.NewCustomerRepo(pool),
		Ledger:       repository.NewLedgerRepo(pool),
		Tiers:        repository.NewTierRepo(pool),
		Programs:     repository.NewProgramRepo(pool),
		Transactions: repository.NewTransactionRepo(pool),
		Rewards:      repository.NewRewardRepo(pool),
		Stamps:       repository.NewStampRepo(pool),
		Kiosks:       repository.NewKioskRepo(pool),
		Sync:         repository.NewSyncRepo(pool),
		Webhooks:     repository.NewWebhookRepo(pool),
		Tenants:      repository.NewTenantRepo(pool),
	}
	r := a.Repos

	// The dispatcher needs an insert func before the River client exists;
	// it is set once the client is created.
	var insertMu sync.Mutex
	var insertFn webhooks.EnqueueFunc
	enqueue := func(ctx context.Context, tx pgx.Tx, args webhooks.DeliverArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			return errInsertNotWired
		}
		return fn(ctx, tx, args)
	}

	a.Events = webhooks.NewDispatcher(r.Webhooks, enqueue)
	a.Ledger = ledger.NewEngine(pool, r.Customers, r.Ledger, a.Events)
	a.Stamps = stamps.NewEngine(pool, r.Customers, r.Stamps, a.Events)
	a.Rewards = rewards.NewService(pool, r.Rewards, a.Ledger, a.Events)
	a.Transactions = transactions.NewService(pool, r.Customers, r.Programs, r.Tiers, r.Transactions, a.Ledger, a.Events)
	a.Sync = syncqueue.NewService(pool, r.Sync, a.Ledger, a.Rewards, a.Stamps, a.Transactions, log)

	a.Expiry = sweepers.NewExpiry(pool, r.Tenants, r.Ledger, a.Ledger, log)
	a.Tiers = sweepers.NewTiers(pool, r.Tenants, r.Tiers, r.Customers, a.Events, log)
	a.Redriver = webhooks.NewRedriver(pool, r.Tenants, r.Webhooks, enqueue, cfg.WebhookRedriveInterval, log)

	riverCfg := &river.Config{}
	if runWorkers {
		workers := river.NewWorkers()
		policy := retry.Webhook(cfg.WebhookBaseDelay, cfg.WebhookMaxAttempts)
		river.AddWorker(workers, webhooks.NewWorker(pool, r.Webhooks, policy, cfg.WebhookTimeout, log))
		river.AddWorker(workers, webhooks.NewRedriveWorker(a.Redriver))
		river.AddWorker(workers, sweepers.NewExpiryWorker(a.Expiry))
		river.AddWorker(workers, sweepers.NewTierWorker(a.Tiers))

		riverCfg.Workers = workers
		riverCfg.Queues = map[string]river.QueueConfig{
			river.QueueDefault:     {MaxWorkers: cfg.WorkerConcurrency},
			webhooks.QueueWebhooks: {MaxWorkers: cfg.WorkerConcurrency},
		}
		riverCfg.PeriodicJobs = append(
			sweepers.PeriodicJobs(cfg.ExpirySweepInterval, cfg.TierSweepInterval),
			river.NewPeriodicJob(
				river.PeriodicInterval(cfg.WebhookRedriveInterval),
				func() (river.JobArgs, *river.InsertOpts) { return webhooks.RedriveArgs{}, nil },
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		)
	}

	client, err := river.NewClient(riverpgxv5.New(pool), riverCfg)
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	a.River = client

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args webhooks.DeliverArgs) error {
		_, err := client.InsertTx(ctx, tx, args, webhooks.DeliveryInsertOpts(cfg.WebhookMaxAttempts))
		return err
	}
	insertMu.Unlock()

	return a, nil
}
