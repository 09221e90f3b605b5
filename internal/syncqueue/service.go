// Package syncqueue applies batches of offline kiosk operations with
// at-most-once effect per (tenant, device, idempotency key).
package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/loyalcore/backend/internal/ledger"
	"github.com/loyalcore/backend/internal/models"
	"github.com/loyalcore/backend/internal/retry"
	"github.com/loyalcore/backend/internal/rewards"
	"github.com/loyalcore/backend/internal/stamps"
	"github.com/loyalcore/backend/internal/tenant"
	"github.com/loyalcore/backend/internal/transactions"
)

// Store is the dedup table.
type Store interface {
	Claim(ctx context.Context, tx pgx.Tx, item *models.SyncQueueItem) (bool, error)
	Settle(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID, status string, result json.RawMessage, errMsg *string) error
}

type Service struct {
	db           tenant.TxBeginner
	store        Store
	ledger       *ledger.Engine
	rewards      *rewards.Service
	stamps       *stamps.Engine
	transactions *transactions.Service
	validate     *validator.Validate
	policy       retry.Policy
	log          zerolog.Logger
}

func NewService(
	db tenant.TxBeginner,
	store Store,
	engine *ledger.Engine,
	rewardSvc *rewards.Service,
	stampEngine *stamps.Engine,
	txSvc *transactions.Service,
	log zerolog.Logger,
) *Service {
	return &Service{
		db:           db,
		store:        store,
		ledger:       engine,
		rewards:      rewardSvc,
		stamps:       stampEngine,
		transactions: txSvc,
		validate:     validator.New(),
		policy:       retry.LockContention,
		log:          log.With().Str("component", "kiosk_sync").Logger(),
	}
}

// Apply processes items strictly in order and returns one result per item.
// A failing item never aborts the rest of the batch.
func (s *Service) Apply(ctx context.Context, device *models.KioskDevice, items []Item) []Result {
	results := make([]Result, 0, len(items))
	for _, it := range items {
		results = append(results, s.applyOne(ctx, device, it))
	}
	return results
}

func (s *Service) applyOne(ctx context.Context, device *models.KioskDevice, it Item) Result {
	var res Result
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		return tenant.InTx(ctx, s.db, device.TenantID, func(tx pgx.Tx) error {
			var err error
			res, err = s.applyTx(ctx, tx, device, it)
			return err
		})
	})
	if err != nil {
		// Nothing was recorded, so a resubmission runs the item again.
		s.log.Error().
			Err(err).
			Str("tenant_id", device.TenantID.String()).
			Str("device_id", device.ID.String()).
			Str("idempotency_key", it.IdempotencyKey).
			Msg("kiosk sync item not applied")
		return Result{
			IdempotencyKey: it.IdempotencyKey,
			Status:         models.SyncResultError,
			Message:        "temporarily unavailable, resubmit later",
		}
	}
	return res
}

// applyTx claims the key and runs the operation in a savepoint so a business
// failure can be recorded on the claim without its partial writes. The
// returned error is non-nil only for failures that should roll back the claim.
func (s *Service) applyTx(ctx context.Context, tx pgx.Tx, device *models.KioskDevice, it Item) (Result, error) {
	rec := &models.SyncQueueItem{
		ID:             uuid.New(),
		TenantID:       device.TenantID,
		DeviceID:       device.ID,
		IdempotencyKey: it.IdempotencyKey,
		Operation:      it.Operation,
		Payload:        it.Payload,
		ClientTime:     it.Timestamp,
	}
	inserted, err := s.store.Claim(ctx, tx, rec)
	if err != nil {
		return Result{}, fmt.Errorf("claim idempotency key: %w", err)
	}
	if !inserted {
		res := Result{IdempotencyKey: it.IdempotencyKey, Status: models.SyncResultSkipped, Data: rec.Result}
		if rec.ErrorMessage != nil {
			res.Message = *rec.ErrorMessage
		}
		return res, nil
	}

	sp, err := tx.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("savepoint: %w", err)
	}
	data, opErr := s.execute(ctx, sp, device, rec.ID, it)
	if opErr != nil {
		_ = sp.Rollback(ctx)
		if retry.IsTransient(opErr) {
			return Result{}, opErr
		}
		msg := opErr.Error()
		if err := s.store.Settle(ctx, tx, device.TenantID, rec.ID, models.SyncStatusError, nil, &msg); err != nil {
			return Result{}, err
		}
		return Result{IdempotencyKey: it.IdempotencyKey, Status: models.SyncResultError, Message: msg}, nil
	}
	if err := sp.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("release savepoint: %w", err)
	}
	if err := s.store.Settle(ctx, tx, device.TenantID, rec.ID, models.SyncStatusProcessed, data, nil); err != nil {
		return Result{}, err
	}
	return Result{IdempotencyKey: it.IdempotencyKey, Status: models.SyncResultProcessed, Data: data}, nil
}

var errUnsupported = errors.New("unsupported operation")

func (s *Service) execute(ctx context.Context, tx pgx.Tx, device *models.KioskDevice, itemID uuid.UUID, it Item) (json.RawMessage, error) {
	tenantID := device.TenantID
	location := device.LocationID

	var out any
	switch it.Operation {
	case models.SyncOpAddPoints:
		var p addPointsPayload
		if err := s.decode(it.Payload, &p); err != nil {
			return nil, err
		}
		desc := p.Description
		if desc == "" {
			desc = "Kiosk points"
		}
		res, err := s.ledger.EarnTx(ctx, tx, tenantID, ledger.Posting{
			CustomerID:  p.CustomerID,
			Amount:      p.Points,
			Description: desc,
			Ref:         &models.Reference{Type: models.ReferenceKioskSync, ID: itemID},
		})
		if err != nil {
			return nil, err
		}
		out = res

	case models.SyncOpRedeemReward:
		var p redeemRewardPayload
		if err := s.decode(it.Payload, &p); err != nil {
			return nil, err
		}
		res, err := s.rewards.RedeemTx(ctx, tx, tenantID, rewards.Request{CustomerID: p.CustomerID, RewardID: p.RewardID, LocationID: &location})
		if err != nil {
			return nil, err
		}
		out = res

	case models.SyncOpAddStamp:
		var p addStampPayload
		if err := s.decode(it.Payload, &p); err != nil {
			return nil, err
		}
		card, err := s.stamps.AddStampTx(ctx, tx, tenantID, stamps.Request{CustomerID: p.CustomerID, DefinitionID: p.DefinitionID, LocationID: &location})
		if err != nil {
			return nil, err
		}
		out = card

	case models.SyncOpRecordTransaction:
		var p recordTransactionPayload
		if err := s.decode(it.Payload, &p); err != nil {
			return nil, err
		}
		res, err := s.transactions.RecordTx(ctx, tx, tenantID, transactions.Request{
			CustomerID:  p.CustomerID,
			Amount:      p.Amount,
			LocationID:  &location,
			ExternalRef: p.ExternalRef,
		})
		if err != nil {
			return nil, err
		}
		out = res

	default:
		return nil, fmt.Errorf("%w %q", errUnsupported, it.Operation)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return data, nil
}

func (s *Service) decode(raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}
