package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loyalcore/backend/internal/models"
)

type ProgramRepo struct {
	pool *pgxpool.Pool
}

func NewProgramRepo(pool *pgxpool.Pool) *ProgramRepo {
	return &ProgramRepo{pool: pool}
}

// Active loads the tenant's active program together with its active earn
// rules. Returns models.ErrNotFound when the tenant has no active program.
func (r *ProgramRepo) Active(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID) (*models.Program, error) {
	var p models.Program
	err := tx.QueryRow(ctx, `
		SELECT id, tenant_id, name, is_active, points_expiry_days
		FROM programs
		WHERE tenant_id = $1 AND is_active = TRUE
		ORDER BY id
		LIMIT 1
	`, tenantID).Scan(&p.ID, &p.TenantID, &p.Name, &p.IsActive, &p.PointsExpiryDays)
	if err != nil {
		return nil, notFound(err)
	}

	rows, err := tx.Query(ctx, `
		SELECT id, program_id, name, type, value, min_amount, max_points, is_active
		FROM earn_rules
		WHERE tenant_id = $1 AND program_id = $2 AND is_active = TRUE
		ORDER BY id
	`, tenantID, p.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var rule models.EarnRule
		if err := rows.Scan(&rule.ID, &rule.ProgramID, &rule.Name, &rule.Type, &rule.Value, &rule.MinAmount, &rule.MaxPoints, &rule.IsActive); err != nil {
			return nil, err
		}
		p.Rules = append(p.Rules, rule)
	}
	return &p, rows.Err()
}
