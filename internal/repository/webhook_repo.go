package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loyalcore/backend/internal/models"
)

type WebhookRepo struct {
	pool *pgxpool.Pool
}

func NewWebhookRepo(pool *pgxpool.Pool) *WebhookRepo {
	return &WebhookRepo{pool: pool}
}

// ListSubscribers returns active endpoints subscribed to event, including
// wildcard subscribers.
func (r *WebhookRepo) ListSubscribers(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, event string) ([]*models.WebhookEndpoint, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, tenant_id, url, secret, events, is_active, created_at
		FROM webhook_endpoints
		WHERE tenant_id = $1 AND is_active = TRUE AND ($2 = ANY(events) OR '*' = ANY(events))
		ORDER BY created_at
	`, tenantID, event)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.WebhookEndpoint
	for rows.Next() {
		var e models.WebhookEndpoint
		if err := rows.Scan(&e.ID, &e.TenantID, &e.URL, &e.Secret, &e.Events, &e.IsActive, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

func (r *WebhookRepo) InsertDelivery(ctx context.Context, tx pgx.Tx, d *models.WebhookDelivery) error {
	return tx.QueryRow(ctx, `
		INSERT INTO webhook_deliveries (id, tenant_id, endpoint_id, event, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING attempt, created_at
	`, d.ID, d.TenantID, d.EndpointID, d.Event, d.Payload, d.Status).Scan(&d.Attempt, &d.CreatedAt)
}

// GetForDelivery loads a delivery together with its endpoint.
func (r *WebhookRepo) GetForDelivery(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (*models.WebhookDelivery, *models.WebhookEndpoint, error) {
	var d models.WebhookDelivery
	var e models.WebhookEndpoint
	err := tx.QueryRow(ctx, `
		SELECT d.id, d.tenant_id, d.endpoint_id, d.event, d.payload, d.status, d.attempt, d.created_at,
		       e.id, e.tenant_id, e.url, e.secret, e.events, e.is_active
		FROM webhook_deliveries d
		JOIN webhook_endpoints e ON e.id = d.endpoint_id AND e.tenant_id = d.tenant_id
		WHERE d.tenant_id = $1 AND d.id = $2
	`, tenantID, id).Scan(&d.ID, &d.TenantID, &d.EndpointID, &d.Event, &d.Payload, &d.Status, &d.Attempt, &d.CreatedAt,
		&e.ID, &e.TenantID, &e.URL, &e.Secret, &e.Events, &e.IsActive)
	if err != nil {
		return nil, nil, notFound(err)
	}
	return &d, &e, nil
}

// RecordAttempt persists the outcome of one POST. d carries the new status,
// attempt counter and response fields.
func (r *WebhookRepo) RecordAttempt(ctx context.Context, tx pgx.Tx, d *models.WebhookDelivery) error {
	_, err := tx.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = $3, attempt = $4, response_status = $5, response_body = $6,
		    last_error = $7, next_attempt_at = $8, delivered_at = $9
		WHERE tenant_id = $1 AND id = $2
	`, d.TenantID, d.ID, d.Status, d.Attempt, d.ResponseStatus, d.ResponseBody, d.LastError, d.NextAttemptAt, d.DeliveredAt)
	return err
}

// ListStalePending returns pending deliveries whose next attempt was due
// before cutoff. These are deliveries whose queue job was lost.
func (r *WebhookRepo) ListStalePending(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := tx.Query(ctx, `
		SELECT id FROM webhook_deliveries
		WHERE tenant_id = $1 AND status = 'pending'
		  AND COALESCE(next_attempt_at, created_at) < $2
		ORDER BY COALESCE(next_attempt_at, created_at)
		LIMIT $3
	`, tenantID, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
