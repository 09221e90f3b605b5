package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loyalcore/backend/internal/models"
)

// KioskRepo resolves devices before any tenant is bound, so it runs on the
// pool rather than inside a tenant transaction.
type KioskRepo struct {
	pool *pgxpool.Pool
}

func NewKioskRepo(pool *pgxpool.Pool) *KioskRepo {
	return &KioskRepo{pool: pool}
}

func (r *KioskRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*models.KioskDevice, error) {
	var d models.KioskDevice
	err := r.pool.QueryRow(ctx, `
		SELECT d.id, d.tenant_id, d.location_id, d.name, d.token_hash, d.is_active AND t.is_active, d.last_seen_at
		FROM kiosk_devices d
		JOIN tenants t ON t.id = d.tenant_id
		WHERE d.token_hash = $1
	`, tokenHash).Scan(&d.ID, &d.TenantID, &d.LocationID, &d.Name, &d.TokenHash, &d.IsActive, &d.LastSeenAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *KioskRepo) TouchLastSeen(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE kiosk_devices SET last_seen_at = now() WHERE id = $1`, id)
	return err
}
