package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry types.
const (
	LedgerEntryEarn     = "earn"
	LedgerEntryBurn     = "burn"
	LedgerEntryAdjust   = "adjust"
	LedgerEntryExpire   = "expire"
	LedgerEntryTransfer = "transfer"
)

// Reference types pointing from a ledger entry back to its cause.
const (
	ReferenceTransaction = "transaction"
	ReferenceRedemption  = "redemption"
	ReferenceLedgerEntry = "ledger_entry"
	ReferenceKioskSync   = "kiosk_sync"
)

// LedgerEntry is an immutable row of the points ledger. Amount is signed.
type LedgerEntry struct {
	ID            uuid.UUID  `json:"id"`
	TenantID      uuid.UUID  `json:"tenant_id"`
	CustomerID    uuid.UUID  `json:"customer_id"`
	Type          string     `json:"type"`
	Amount        int        `json:"amount"`
	BalanceAfter  int        `json:"balance_after"`
	Description   string     `json:"description"`
	ReferenceType *string    `json:"reference_type,omitempty"`
	ReferenceID   *uuid.UUID `json:"reference_id,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Reference identifies the record a ledger entry was posted for.
type Reference struct {
	Type string
	ID   uuid.UUID
}

// Program holds a tenant's earn configuration.
type Program struct {
	ID               uuid.UUID  `json:"id"`
	TenantID         uuid.UUID  `json:"tenant_id"`
	Name             string     `json:"name"`
	IsActive         bool       `json:"is_active"`
	PointsExpiryDays *int       `json:"points_expiry_days,omitempty"`
	Rules            []EarnRule `json:"rules"`
}

// Earn rule types.
const (
	EarnRulePerAmount  = "per_amount"
	EarnRuleFixed      = "fixed"
	EarnRuleMultiplier = "multiplier"
)

// EarnRule turns a transaction amount (minor units) into points.
type EarnRule struct {
	ID        uuid.UUID `json:"id"`
	ProgramID uuid.UUID `json:"program_id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Value     float64   `json:"value"`
	MinAmount *int64    `json:"min_amount,omitempty"`
	MaxPoints *int      `json:"max_points,omitempty"`
	IsActive  bool      `json:"is_active"`
}

// Transaction is a purchase recorded at a location.
type Transaction struct {
	ID           uuid.UUID  `json:"id"`
	TenantID     uuid.UUID  `json:"tenant_id"`
	CustomerID   uuid.UUID  `json:"customer_id"`
	LocationID   *uuid.UUID `json:"location_id,omitempty"`
	Amount       int64      `json:"amount"`
	PointsEarned int        `json:"points_earned"`
	ExternalRef  *string    `json:"external_ref,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Reward is a catalog item customers redeem points for. Stock nil means unlimited.
type Reward struct {
	ID         uuid.UUID  `json:"id"`
	TenantID   uuid.UUID  `json:"tenant_id"`
	Name       string     `json:"name"`
	PointsCost int        `json:"points_cost"`
	Stock      *int       `json:"stock,omitempty"`
	IsActive   bool       `json:"is_active"`
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// Redemption status values.
const (
	RedemptionStatusIssued = "issued"
)

// Redemption records a reward claimed by a customer.
type Redemption struct {
	ID          uuid.UUID  `json:"id"`
	TenantID    uuid.UUID  `json:"tenant_id"`
	CustomerID  uuid.UUID  `json:"customer_id"`
	RewardID    uuid.UUID  `json:"reward_id"`
	LocationID  *uuid.UUID `json:"location_id,omitempty"`
	PointsSpent int        `json:"points_spent"`
	Code        string     `json:"code"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
}
