package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loyalcore/backend/internal/models"
)

type SyncRepo struct {
	pool *pgxpool.Pool
}

func NewSyncRepo(pool *pgxpool.Pool) *SyncRepo {
	return &SyncRepo{pool: pool}
}

// Claim records item under its (tenant, device, key) triple. It reports
// true when the row is new. On a repeat the stored row is loaded into item
// and its retry_count is bumped; callers must not run the operation again.
// A concurrent claimer of the same key blocks until the first commits.
func (r *SyncRepo) Claim(ctx context.Context, tx pgx.Tx, item *models.SyncQueueItem) (bool, error) {
	var inserted bool
	err := tx.QueryRow(ctx, `
		INSERT INTO sync_queue_items (id, tenant_id, device_id, idempotency_key, operation, payload, client_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, device_id, idempotency_key)
		DO UPDATE SET retry_count = sync_queue_items.retry_count + 1
		RETURNING id, operation, status, result, retry_count, error_message, created_at, processed_at, (xmax = 0)
	`, item.ID, item.TenantID, item.DeviceID, item.IdempotencyKey, item.Operation, item.Payload, item.ClientTime).Scan(
		&item.ID, &item.Operation, &item.Status, &item.Result, &item.RetryCount, &item.ErrorMessage, &item.CreatedAt, &item.ProcessedAt, &inserted)
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// Settle stores the outcome of a claimed item.
func (r *SyncRepo) Settle(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID, status string, result json.RawMessage, errMsg *string) error {
	_, err := tx.Exec(ctx, `
		UPDATE sync_queue_items
		SET status = $3, result = $4, error_message = $5, processed_at = now()
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id, status, result, errMsg)
	return err
}
