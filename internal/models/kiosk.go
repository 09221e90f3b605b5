package models

import (
	"time"

	"github.com/google/uuid"
)

// KioskDevice is a point-of-sale device bound to one tenant and one location.
type KioskDevice struct {
	ID         uuid.UUID  `json:"id"`
	TenantID   uuid.UUID  `json:"tenant_id"`
	LocationID uuid.UUID  `json:"location_id"`
	Name       string     `json:"name"`
	TokenHash  string     `json:"-"`
	IsActive   bool       `json:"is_active"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// StampCardDefinition is the punch-card rule.
type StampCardDefinition struct {
	ID                uuid.UUID `json:"id"`
	TenantID          uuid.UUID `json:"tenant_id"`
	Name              string    `json:"name"`
	StampsRequired    int       `json:"stamps_required"`
	RewardDescription string    `json:"reward_description"`
	IsActive          bool      `json:"is_active"`
}

// StampCard is a customer's progress towards one definition.
type StampCard struct {
	ID            uuid.UUID  `json:"id"`
	TenantID      uuid.UUID  `json:"tenant_id"`
	CustomerID    uuid.UUID  `json:"customer_id"`
	DefinitionID  uuid.UUID  `json:"definition_id"`
	CurrentStamps int        `json:"current_stamps"`
	IsCompleted   bool       `json:"is_completed"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// StampEvent is the append-only log of stamps.
type StampEvent struct {
	ID         uuid.UUID  `json:"id"`
	TenantID   uuid.UUID  `json:"tenant_id"`
	CardID     uuid.UUID  `json:"card_id"`
	CustomerID uuid.UUID  `json:"customer_id"`
	LocationID *uuid.UUID `json:"location_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
