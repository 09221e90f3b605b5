// Package transactions records purchases and credits the points they earn.
package transactions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loyalcore/backend/internal/ledger"
	"github.com/loyalcore/backend/internal/models"
	"github.com/loyalcore/backend/internal/rules"
	"github.com/loyalcore/backend/internal/tenant"
)

type CustomerStore interface {
	Get(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*models.Customer, error)
	AddSpent(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID, amount int64) error
}

type ProgramStore interface {
	Active(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID) (*models.Program, error)
}

type TierStore interface {
	Get(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*models.Tier, error)
}

type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
}

type Publisher interface {
	PublishTx(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, event string, data any) error
}

type Service struct {
	db        tenant.TxBeginner
	customers CustomerStore
	programs  ProgramStore
	tiers     TierStore
	store     Store
	ledger    *ledger.Engine
	events    Publisher
	now       func() time.Time
}

func NewService(db tenant.TxBeginner, customers CustomerStore, programs ProgramStore, tiers TierStore, store Store, engine *ledger.Engine, events Publisher) *Service {
	return &Service{
		db:        db,
		customers: customers,
		programs:  programs,
		tiers:     tiers,
		store:     store,
		ledger:    engine,
		events:    events,
		now:       time.Now,
	}
}

type Request struct {
	CustomerID  uuid.UUID
	Amount      int64
	LocationID  *uuid.UUID
	ExternalRef *string
}

type Result struct {
	Transaction *models.Transaction `json:"transaction"`
	Customer    *models.Customer    `json:"customer"`
	Entry       *models.LedgerEntry `json:"entry,omitempty"`
}

func (s *Service) Record(ctx context.Context, tenantID uuid.UUID, req Request) (*Result, error) {
	var res *Result
	err := tenant.InTx(ctx, s.db, tenantID, func(tx pgx.Tx) error {
		var err error
		res, err = s.RecordTx(ctx, tx, tenantID, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RecordTx stores the purchase, evaluates the active program's earn rules
// with the customer's tier multiplier and earns the result. A purchase that
// earns nothing still gets recorded, without a ledger entry.
func (s *Service) RecordTx(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, req Request) (*Result, error) {
	if req.Amount <= 0 {
		return nil, models.ErrInvalidAmount
	}
	cust, err := s.customers.Get(ctx, tx, tenantID, req.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("customer: %w", err)
	}
	if !cust.IsActive {
		return nil, fmt.Errorf("customer %s: %w", cust.ID, models.ErrNotActive)
	}

	program, err := s.programs.Active(ctx, tx, tenantID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("active program: %w", err)
	}
	var tier *models.Tier
	if cust.TierID != nil {
		tier, err = s.tiers.Get(ctx, tx, tenantID, *cust.TierID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("tier: %w", err)
		}
	}

	points := 0
	var expiresAt *time.Time
	if program != nil {
		points = rules.Evaluate(program.Rules, req.Amount, tier)
		if program.PointsExpiryDays != nil {
			t := s.now().AddDate(0, 0, *program.PointsExpiryDays)
			expiresAt = &t
		}
	}

	t := &models.Transaction{
		ID:           uuid.New(),
		TenantID:     tenantID,
		CustomerID:   cust.ID,
		LocationID:   req.LocationID,
		Amount:       req.Amount,
		PointsEarned: points,
		ExternalRef:  req.ExternalRef,
	}
	if err := s.store.Insert(ctx, tx, t); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	if err := s.customers.AddSpent(ctx, tx, tenantID, cust.ID, req.Amount); err != nil {
		return nil, fmt.Errorf("update total spent: %w", err)
	}
	cust.TotalSpent += req.Amount

	res := &Result{Transaction: t, Customer: cust}
	if points > 0 {
		earned, err := s.ledger.EarnTx(ctx, tx, tenantID, ledger.Posting{
			CustomerID:  cust.ID,
			Amount:      points,
			Description: "Points for purchase",
			Ref:         &models.Reference{Type: models.ReferenceTransaction, ID: t.ID},
			ExpiresAt:   expiresAt,
		})
		if err != nil {
			return nil, err
		}
		earned.Customer.TotalSpent = cust.TotalSpent
		res.Customer, res.Entry = earned.Customer, earned.Entry
	}

	if s.events != nil {
		if err := s.events.PublishTx(ctx, tx, tenantID, models.EventTransactionRecorded, t); err != nil {
			return nil, err
		}
	}
	return res, nil
}
