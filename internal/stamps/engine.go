// Package stamps tracks punch-card progress. A card is the running total,
// stamp events are its append-only log.
package stamps

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loyalcore/backend/internal/models"
	"github.com/loyalcore/backend/internal/tenant"
)

type CustomerStore interface {
	Get(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*models.Customer, error)
}

type Store interface {
	GetDefinition(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*models.StampCardDefinition, error)
	OpenCardForUpdate(ctx context.Context, tx pgx.Tx, tenantID, customerID, definitionID uuid.UUID) (*models.StampCard, error)
	UpdateCard(ctx context.Context, tx pgx.Tx, c *models.StampCard) error
	InsertEvent(ctx context.Context, tx pgx.Tx, ev *models.StampEvent) error
}

type Publisher interface {
	PublishTx(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, event string, data any) error
}

type Engine struct {
	db        tenant.TxBeginner
	customers CustomerStore
	store     Store
	events    Publisher
	now       func() time.Time
}

func NewEngine(db tenant.TxBeginner, customers CustomerStore, store Store, events Publisher) *Engine {
	return &Engine{db: db, customers: customers, store: store, events: events, now: time.Now}
}

type Request struct {
	CustomerID   uuid.UUID
	DefinitionID uuid.UUID
	LocationID   *uuid.UUID
}

// CardEvent is the payload of stamp.added and stamp_card.completed.
type CardEvent struct {
	CustomerID     uuid.UUID `json:"customer_id"`
	CardID         uuid.UUID `json:"card_id"`
	DefinitionID   uuid.UUID `json:"definition_id"`
	CurrentStamps  int       `json:"current_stamps"`
	StampsRequired int       `json:"stamps_required"`
	Completed      bool      `json:"completed"`
	Reward         string    `json:"reward,omitempty"`
}

func (e *Engine) AddStamp(ctx context.Context, tenantID uuid.UUID, req Request) (*models.StampCard, error) {
	var card *models.StampCard
	err := tenant.InTx(ctx, e.db, tenantID, func(tx pgx.Tx) error {
		var err error
		card, err = e.AddStampTx(ctx, tx, tenantID, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return card, nil
}

// AddStampTx stamps the customer's open card for the definition, opening a
// new one if the last card was completed. Reaching StampsRequired completes
// the card in the same write.
func (e *Engine) AddStampTx(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, req Request) (*models.StampCard, error) {
	def, err := e.store.GetDefinition(ctx, tx, tenantID, req.DefinitionID)
	if err != nil {
		return nil, fmt.Errorf("stamp card definition: %w", err)
	}
	if !def.IsActive {
		return nil, fmt.Errorf("stamp card definition %s: %w", def.ID, models.ErrNotActive)
	}
	cust, err := e.customers.Get(ctx, tx, tenantID, req.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("customer: %w", err)
	}
	if !cust.IsActive {
		return nil, fmt.Errorf("customer %s: %w", cust.ID, models.ErrNotActive)
	}

	card, err := e.store.OpenCardForUpdate(ctx, tx, tenantID, cust.ID, def.ID)
	if err != nil {
		return nil, fmt.Errorf("open stamp card: %w", err)
	}
	card.CurrentStamps++
	if card.CurrentStamps >= def.StampsRequired {
		now := e.now()
		card.IsCompleted = true
		card.CompletedAt = &now
	}
	if err := e.store.UpdateCard(ctx, tx, card); err != nil {
		return nil, fmt.Errorf("update stamp card: %w", err)
	}
	ev := &models.StampEvent{
		ID:         uuid.New(),
		TenantID:   tenantID,
		CardID:     card.ID,
		CustomerID: cust.ID,
		LocationID: req.LocationID,
	}
	if err := e.store.InsertEvent(ctx, tx, ev); err != nil {
		return nil, fmt.Errorf("insert stamp event: %w", err)
	}

	if e.events != nil {
		payload := CardEvent{
			CustomerID:     cust.ID,
			CardID:         card.ID,
			DefinitionID:   def.ID,
			CurrentStamps:  card.CurrentStamps,
			StampsRequired: def.StampsRequired,
			Completed:      card.IsCompleted,
		}
		if err := e.events.PublishTx(ctx, tx, tenantID, models.EventStampAdded, payload); err != nil {
			return nil, err
		}
		if card.IsCompleted {
			payload.Reward = def.RewardDescription
			if err := e.events.PublishTx(ctx, tx, tenantID, models.EventStampCardCompleted, payload); err != nil {
				return nil, err
			}
		}
	}
	return card, nil
}
