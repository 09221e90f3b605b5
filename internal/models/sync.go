package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kiosk sync operations.
const (
	SyncOpAddPoints         = "add_points"
	SyncOpRedeemReward      = "redeem_reward"
	SyncOpAddStamp          = "add_stamp"
	SyncOpRecordTransaction = "record_transaction"
)

// SyncQueueItem status values.
const (
	SyncStatusPending   = "pending"
	SyncStatusProcessed = "processed"
	SyncStatusError     = "error"
)

// Per-item result status returned to the kiosk. "skipped" is never stored.
const (
	SyncResultProcessed = "processed"
	SyncResultSkipped   = "skipped"
	SyncResultError     = "error"
)

// SyncQueueItem is the dedup record for one kiosk operation.
// (TenantID, DeviceID, IdempotencyKey) is unique.
type SyncQueueItem struct {
	ID             uuid.UUID       `json:"id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	DeviceID       uuid.UUID       `json:"device_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Operation      string          `json:"operation"`
	Payload        json.RawMessage `json:"payload"`
	Status         string          `json:"status"`
	Result         json.RawMessage `json:"result,omitempty"`
	RetryCount     int             `json:"retry_count"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
	ClientTime     *time.Time      `json:"client_time,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
}
