package syncqueue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MaxBatch is the largest batch a kiosk may submit.
const MaxBatch = 100

// Batch is the kiosk sync request body.
type Batch struct {
	Items []Item `json:"items" validate:"required,min=1,max=100,dive"`
}

// Item is one offline operation. IdempotencyKey is chosen by the device and
// is unique per device.
type Item struct {
	IdempotencyKey string          `json:"idempotencyKey" validate:"required,max=255"`
	Operation      string          `json:"operation" validate:"required,oneof=add_points redeem_reward add_stamp record_transaction"`
	Payload        json.RawMessage `json:"payload" validate:"required"`
	Timestamp      *time.Time      `json:"timestamp" validate:"required"`
}

// Result is returned per item, in input order.
type Result struct {
	IdempotencyKey string          `json:"idempotencyKey"`
	Status         string          `json:"status"`
	Data           json.RawMessage `json:"data,omitempty"`
	Message        string          `json:"message,omitempty"`
}

type addPointsPayload struct {
	CustomerID  uuid.UUID `json:"customerId" validate:"required"`
	Points      int       `json:"points" validate:"required,gt=0"`
	Description string    `json:"description" validate:"max=255"`
}

type redeemRewardPayload struct {
	CustomerID uuid.UUID `json:"customerId" validate:"required"`
	RewardID   uuid.UUID `json:"rewardId" validate:"required"`
}

type addStampPayload struct {
	CustomerID   uuid.UUID `json:"customerId" validate:"required"`
	DefinitionID uuid.UUID `json:"definitionId" validate:"required"`
}

type recordTransactionPayload struct {
	CustomerID  uuid.UUID `json:"customerId" validate:"required"`
	Amount      int64     `json:"amount" validate:"required,gt=0"`
	ExternalRef *string   `json:"externalRef" validate:"omitempty,max=255"`
}
