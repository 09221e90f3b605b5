package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is a retailer using the platform. All other rows hang off a tenant.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Customer is the running-total aggregate backed by the points ledger.
// PointsBalance is a cache of the ledger sum and is only written by the ledger engine.
type Customer struct {
	ID                uuid.UUID  `json:"id"`
	TenantID          uuid.UUID  `json:"tenant_id"`
	Email             string     `json:"email"`
	Name              string     `json:"name"`
	PointsBalance     int        `json:"points_balance"`
	TotalPointsEarned int        `json:"total_points_earned"`
	TotalSpent        int64      `json:"total_spent"`
	TierID            *uuid.UUID `json:"tier_id,omitempty"`
	IsActive          bool       `json:"is_active"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Tier is a threshold-based classification; Multiplier scales earned points.
type Tier struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	Name       string    `json:"name"`
	MinPoints  int       `json:"min_points"`
	Multiplier float64   `json:"multiplier"`
}

// Location is a physical store. Only its id is used by the core.
type Location struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Name     string    `json:"name"`
}
