package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loyalcore/backend/internal/models"
)

type TierRepo struct {
	pool *pgxpool.Pool
}

func NewTierRepo(pool *pgxpool.Pool) *TierRepo {
	return &TierRepo{pool: pool}
}

// List returns the tenant's tiers, highest threshold first.
func (r *TierRepo) List(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID) ([]*models.Tier, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, tenant_id, name, min_points, multiplier
		FROM tiers WHERE tenant_id = $1
		ORDER BY min_points DESC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Tier
	for rows.Next() {
		var t models.Tier
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Name, &t.MinPoints, &t.Multiplier); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}

func (r *TierRepo) Get(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*models.Tier, error) {
	var t models.Tier
	err := tx.QueryRow(ctx, `
		SELECT id, tenant_id, name, min_points, multiplier
		FROM tiers WHERE tenant_id = $1 AND id = $2
	`, tenantID, id).Scan(&t.ID, &t.TenantID, &t.Name, &t.MinPoints, &t.Multiplier)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}
