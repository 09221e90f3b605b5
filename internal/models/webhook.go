package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Domain event names delivered to webhook subscribers.
const (
	EventCustomerCreated     = "customer.created"
	EventTransactionRecorded = "transaction.recorded"
	EventRewardRedeemed      = "reward.redeemed"
	EventPointsEarned        = "points.earned"
	EventPointsSpent         = "points.spent"
	EventPointsExpired       = "points.expired"
	EventStampAdded          = "stamp.added"
	EventStampCardCompleted  = "stamp_card.completed"
	EventTierChanged         = "tier.changed"
	EventCampaignSent        = "campaign.sent"
)

// Webhook delivery status values.
const (
	DeliveryStatusPending   = "pending"
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusFailed    = "failed"
)

// WebhookEndpoint is a tenant-configured subscriber.
type WebhookEndpoint struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Events    []string  `json:"events"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscribes reports whether the endpoint wants the given event.
func (e *WebhookEndpoint) Subscribes(event string) bool {
	for _, name := range e.Events {
		if name == event || name == "*" {
			return true
		}
	}
	return false
}

// WebhookDelivery is one event sent to one endpoint. Payload holds the exact
// bytes that are signed and posted.
type WebhookDelivery struct {
	ID             uuid.UUID       `json:"id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	EndpointID     uuid.UUID       `json:"endpoint_id"`
	Event          string          `json:"event"`
	Payload        json.RawMessage `json:"payload"`
	Status         string          `json:"status"`
	Attempt        int             `json:"attempt"`
	ResponseStatus *int            `json:"response_status,omitempty"`
	ResponseBody   *string         `json:"response_body,omitempty"`
	LastError      *string         `json:"last_error,omitempty"`
	NextAttemptAt  *time.Time      `json:"next_attempt_at,omitempty"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
