package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loyalcore/backend/internal/models"
)

type RewardRepo struct {
	pool *pgxpool.Pool
}

func NewRewardRepo(pool *pgxpool.Pool) *RewardRepo {
	return &RewardRepo{pool: pool}
}

// GetForUpdate locks the reward so stock checks and decrements serialize.
func (r *RewardRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*models.Reward, error) {
	var rw models.Reward
	err := tx.QueryRow(ctx, `
		SELECT id, tenant_id, name, points_cost, stock, is_active, valid_from, valid_until
		FROM rewards WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, id).Scan(&rw.ID, &rw.TenantID, &rw.Name, &rw.PointsCost, &rw.Stock, &rw.IsActive, &rw.ValidFrom, &rw.ValidUntil)
	if err != nil {
		return nil, notFound(err)
	}
	return &rw, nil
}

// DecrementStock takes one unit of limited stock. Unlimited rewards are left
// untouched. Returns models.ErrOutOfStock when nothing is left.
func (r *RewardRepo) DecrementStock(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) error {
	tag, err := tx.Exec(ctx, `
		UPDATE rewards SET stock = stock - 1
		WHERE tenant_id = $1 AND id = $2 AND (stock IS NULL OR stock > 0)
	`, tenantID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrOutOfStock
	}
	return nil
}

func (r *RewardRepo) InsertRedemption(ctx context.Context, tx pgx.Tx, red *models.Redemption) error {
	return tx.QueryRow(ctx, `
		INSERT INTO redemptions (id, tenant_id, customer_id, reward_id, location_id, points_spent, code, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, red.ID, red.TenantID, red.CustomerID, red.RewardID, red.LocationID, red.PointsSpent, red.Code, red.Status).Scan(&red.CreatedAt)
}
