package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loyalcore/backend/internal/models"
)

type CustomerRepo struct {
	pool *pgxpool.Pool
}

func NewCustomerRepo(pool *pgxpool.Pool) *CustomerRepo {
	return &CustomerRepo{pool: pool}
}

const customerColumns = `id, tenant_id, email, name, points_balance, total_points_earned, total_spent, tier_id, is_active, created_at, updated_at`

func scanCustomer(row pgx.Row) (*models.Customer, error) {
	var c models.Customer
	err := row.Scan(&c.ID, &c.TenantID, &c.Email, &c.Name, &c.PointsBalance, &c.TotalPointsEarned, &c.TotalSpent, &c.TierID, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *CustomerRepo) Get(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*models.Customer, error) {
	return scanCustomer(tx.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers WHERE tenant_id = $1 AND id = $2
	`, tenantID, id))
}

// GetForUpdate locks the customer row until the transaction ends. Every
// balance mutation goes through this lock.
func (r *CustomerRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*models.Customer, error) {
	return scanCustomer(tx.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers WHERE tenant_id = $1 AND id = $2 FOR UPDATE
	`, tenantID, id))
}

// UpdatePoints writes the balance fields of c. Call after GetForUpdate in the same tx.
func (r *CustomerRepo) UpdatePoints(ctx context.Context, tx pgx.Tx, c *models.Customer) error {
	return tx.QueryRow(ctx, `
		UPDATE customers SET points_balance = $3, total_points_earned = $4, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING updated_at
	`, c.TenantID, c.ID, c.PointsBalance, c.TotalPointsEarned).Scan(&c.UpdatedAt)
}

func (r *CustomerRepo) AddSpent(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID, amount int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE customers SET total_spent = total_spent + $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id, amount)
	return err
}

// SetTier writes tierID only when it differs from the stored value.
// Reports whether a row changed.
func (r *CustomerRepo) SetTier(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID, tierID *uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE customers SET tier_id = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND tier_id IS DISTINCT FROM $3
	`, tenantID, id, tierID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// TierSnapshot is the slice of a customer the tier sweep needs.
type TierSnapshot struct {
	ID                uuid.UUID
	TotalPointsEarned int
	TierID            *uuid.UUID
}

// ListActiveForTiers pages through active customers ordered by id.
func (r *CustomerRepo) ListActiveForTiers(ctx context.Context, tx pgx.Tx, tenantID, after uuid.UUID, limit int) ([]TierSnapshot, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, total_points_earned, tier_id
		FROM customers
		WHERE tenant_id = $1 AND is_active = TRUE AND id > $2
		ORDER BY id
		LIMIT $3
	`, tenantID, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []TierSnapshot
	for rows.Next() {
		var s TierSnapshot
		if err := rows.Scan(&s.ID, &s.TotalPointsEarned, &s.TierID); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}
