package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loyalcore/backend/internal/models"
)

type StampRepo struct {
	pool *pgxpool.Pool
}

func NewStampRepo(pool *pgxpool.Pool) *StampRepo {
	return &StampRepo{pool: pool}
}

func (r *StampRepo) GetDefinition(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*models.StampCardDefinition, error) {
	var d models.StampCardDefinition
	err := tx.QueryRow(ctx, `
		SELECT id, tenant_id, name, stamps_required, reward_description, is_active
		FROM stamp_card_definitions WHERE tenant_id = $1 AND id = $2
	`, tenantID, id).Scan(&d.ID, &d.TenantID, &d.Name, &d.StampsRequired, &d.RewardDescription, &d.IsActive)
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// OpenCardForUpdate returns the customer's open card for the definition,
// creating it if needed, and locks it. The partial unique index on open
// cards makes concurrent callers converge on the same row.
func (r *StampRepo) OpenCardForUpdate(ctx context.Context, tx pgx.Tx, tenantID, customerID, definitionID uuid.UUID) (*models.StampCard, error) {
	for range 3 {
		_, err := tx.Exec(ctx, `
			INSERT INTO stamp_cards (id, tenant_id, customer_id, definition_id)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (tenant_id, customer_id, definition_id) WHERE NOT is_completed DO NOTHING
		`, uuid.New(), tenantID, customerID, definitionID)
		if err != nil {
			return nil, err
		}

		var c models.StampCard
		err = tx.QueryRow(ctx, `
			SELECT id, tenant_id, customer_id, definition_id, current_stamps, is_completed, completed_at, created_at, updated_at
			FROM stamp_cards
			WHERE tenant_id = $1 AND customer_id = $2 AND definition_id = $3 AND NOT is_completed
			FOR UPDATE
		`, tenantID, customerID, definitionID).Scan(&c.ID, &c.TenantID, &c.CustomerID, &c.DefinitionID, &c.CurrentStamps, &c.IsCompleted, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			// Another transaction completed the card between insert and lock.
			continue
		}
		if err != nil {
			return nil, err
		}
		return &c, nil
	}
	return nil, errors.New("stamp card contention: no open card after retries")
}

func (r *StampRepo) UpdateCard(ctx context.Context, tx pgx.Tx, c *models.StampCard) error {
	return tx.QueryRow(ctx, `
		UPDATE stamp_cards
		SET current_stamps = $3, is_completed = $4, completed_at = $5, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING updated_at
	`, c.TenantID, c.ID, c.CurrentStamps, c.IsCompleted, c.CompletedAt).Scan(&c.UpdatedAt)
}

func (r *StampRepo) InsertEvent(ctx context.Context, tx pgx.Tx, ev *models.StampEvent) error {
	return tx.QueryRow(ctx, `
		INSERT INTO stamp_events (id, tenant_id, card_id, customer_id, location_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, ev.ID, ev.TenantID, ev.CardID, ev.CustomerID, ev.LocationID).Scan(&ev.CreatedAt)
}
