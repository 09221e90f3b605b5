// Package webhooks fans domain events out to tenant-configured endpoints and
// delivers them with signed payloads and bounded exponential backoff.
package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loyalcore/backend/internal/models"
)

// DispatchStore is the slice of the webhook repository the dispatcher needs.
type DispatchStore interface {
	ListSubscribers(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, event string) ([]*models.WebhookEndpoint, error)
	InsertDelivery(ctx context.Context, tx pgx.Tx, d *models.WebhookDelivery) error
}

// EnqueueFunc schedules a delivery job in the same transaction as the
// delivery row. In production this wraps river.Client.InsertTx.
type EnqueueFunc func(ctx context.Context, tx pgx.Tx, args DeliverArgs) error

// Envelope is the JSON body posted to subscribers.
type Envelope struct {
	ID         uuid.UUID `json:"id"`
	Event      string    `json:"event"`
	TenantID   uuid.UUID `json:"tenant_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

type Dispatcher struct {
	store   DispatchStore
	enqueue EnqueueFunc
	now     func() time.Time
}

func NewDispatcher(store DispatchStore, enqueue EnqueueFunc) *Dispatcher {
	return &Dispatcher{store: store, enqueue: enqueue, now: time.Now}
}

// PublishTx creates one pending delivery per active subscriber of event and
// enqueues its job. Everything rides on tx, so nothing is sent unless the
// domain mutation that raised the event commits.
func (d *Dispatcher) PublishTx(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, event string, data any) error {
	endpoints, err := d.store.ListSubscribers(ctx, tx, tenantID, event)
	if err != nil {
		return fmt.Errorf("list webhook subscribers: %w", err)
	}
	if len(endpoints) == 0 {
		return nil
	}

	payload, err := json.Marshal(Envelope{
		ID:         uuid.New(),
		Event:      event,
		TenantID:   tenantID,
		OccurredAt: d.now().UTC(),
		Data:       data,
	})
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}

	for _, ep := range endpoints {
		del := &models.WebhookDelivery{
			ID:         uuid.New(),
			TenantID:   tenantID,
			EndpointID: ep.ID,
			Event:      event,
			Payload:    payload,
			Status:     models.DeliveryStatusPending,
		}
		if err := d.store.InsertDelivery(ctx, tx, del); err != nil {
			return fmt.Errorf("insert webhook delivery: %w", err)
		}
		if d.enqueue == nil {
			continue
		}
		if err := d.enqueue(ctx, tx, DeliverArgs{TenantID: tenantID, DeliveryID: del.ID}); err != nil {
			return fmt.Errorf("enqueue webhook delivery: %w", err)
		}
	}
	return nil
}
