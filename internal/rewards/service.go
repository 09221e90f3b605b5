// Package rewards redeems catalog rewards against a customer's points.
package rewards

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loyalcore/backend/internal/ledger"
	"github.com/loyalcore/backend/internal/models"
	"github.com/loyalcore/backend/internal/tenant"
)

type Store interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*models.Reward, error)
	DecrementStock(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) error
	InsertRedemption(ctx context.Context, tx pgx.Tx, r *models.Redemption) error
}

type Publisher interface {
	PublishTx(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, event string, data any) error
}

type Service struct {
	db     tenant.TxBeginner
	store  Store
	ledger *ledger.Engine
	events Publisher
	now    func() time.Time
}

func NewService(db tenant.TxBeginner, store Store, engine *ledger.Engine, events Publisher) *Service {
	return &Service{db: db, store: store, ledger: engine, events: events, now: time.Now}
}

type Request struct {
	CustomerID uuid.UUID
	RewardID   uuid.UUID
	LocationID *uuid.UUID
}

type Result struct {
	Redemption *models.Redemption  `json:"redemption"`
	Customer   *models.Customer    `json:"customer"`
	Entry      *models.LedgerEntry `json:"entry"`
}

func (s *Service) Redeem(ctx context.Context, tenantID uuid.UUID, req Request) (*Result, error) {
	var res *Result
	err := tenant.InTx(ctx, s.db, tenantID, func(tx pgx.Tx) error {
		var err error
		res, err = s.RedeemTx(ctx, tx, tenantID, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RedeemTx checks the reward, burns its cost and records the redemption.
// Every rejection happens before the first write.
func (s *Service) RedeemTx(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, req Request) (*Result, error) {
	reward, err := s.store.GetForUpdate(ctx, tx, tenantID, req.RewardID)
	if err != nil {
		return nil, fmt.Errorf("reward: %w", err)
	}
	if err := s.checkAvailable(reward); err != nil {
		return nil, err
	}

	redemption := &models.Redemption{
		ID:          uuid.New(),
		TenantID:    tenantID,
		CustomerID:  req.CustomerID,
		RewardID:    reward.ID,
		LocationID:  req.LocationID,
		PointsSpent: reward.PointsCost,
		Code:        newCode(),
		Status:      models.RedemptionStatusIssued,
	}
	burn, err := s.ledger.BurnTx(ctx, tx, tenantID, ledger.Posting{
		CustomerID:  req.CustomerID,
		Amount:      reward.PointsCost,
		Description: "Redeemed " + reward.Name,
		Ref:         &models.Reference{Type: models.ReferenceRedemption, ID: redemption.ID},
	})
	if err != nil {
		return nil, err
	}
	if reward.Stock != nil {
		if err := s.store.DecrementStock(ctx, tx, tenantID, reward.ID); err != nil {
			return nil, err
		}
	}
	if err := s.store.InsertRedemption(ctx, tx, redemption); err != nil {
		return nil, fmt.Errorf("insert redemption: %w", err)
	}

	if s.events != nil {
		if err := s.events.PublishTx(ctx, tx, tenantID, models.EventRewardRedeemed, redemption); err != nil {
			return nil, err
		}
	}
	return &Result{Redemption: redemption, Customer: burn.Customer, Entry: burn.Entry}, nil
}

func (s *Service) checkAvailable(r *models.Reward) error {
	if !r.IsActive {
		return fmt.Errorf("reward %s: %w", r.ID, models.ErrNotActive)
	}
	now := s.now()
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return fmt.Errorf("reward %s not yet valid: %w", r.ID, models.ErrNotActive)
	}
	if r.ValidUntil != nil && now.After(*r.ValidUntil) {
		return fmt.Errorf("reward %s: %w", r.ID, models.ErrExpired)
	}
	if r.Stock != nil && *r.Stock <= 0 {
		return models.ErrOutOfStock
	}
	return nil
}

// Codes skip 0/O and 1/I so they can be read aloud at a till.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func newCode() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b)
}
