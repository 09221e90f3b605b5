package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/loyalcore/backend/internal/ledger"
	"github.com/loyalcore/backend/internal/logger"
	"github.com/loyalcore/backend/internal/models"
	"github.com/loyalcore/backend/internal/rewards"
	"github.com/loyalcore/backend/internal/stamps"
	"github.com/loyalcore/backend/internal/tenant"
	"github.com/loyalcore/backend/internal/transactions"
)

// PointsService is the subset of the ledger engine the staff API needs.
type PointsService interface {
	Earn(ctx context.Context, tenantID uuid.UUID, p ledger.Posting) (*ledger.Result, error)
	Burn(ctx context.Context, tenantID uuid.UUID, p ledger.Posting) (*ledger.Result, error)
	Statement(ctx context.Context, tenantID, customerID uuid.UUID, limit int) (*ledger.Statement, error)
}

type StampService interface {
	AddStamp(ctx context.Context, tenantID uuid.UUID, req stamps.Request) (*models.StampCard, error)
}

type RewardService interface {
	Redeem(ctx context.Context, tenantID uuid.UUID, req rewards.Request) (*rewards.Result, error)
}

type TransactionService interface {
	Record(ctx context.Context, tenantID uuid.UUID, req transactions.Request) (*transactions.Result, error)
}

const (
	defaultStatementLimit = 50
	maxStatementLimit     = 500
)

// StaffHandler serves the tenant-authenticated /api/v1 endpoints. The
// tenant always comes from the token, never from the request body.
type StaffHandler struct {
	Points       PointsService
	Stamps       StampService
	Rewards      RewardService
	Transactions TransactionService
	Validate     *validator.Validate
}

// --- POST /api/v1/customers/{id}/points/earn and /burn ---

type pointsRequest struct {
	Points      int        `json:"points" validate:"required,gt=0"`
	Description string     `json:"description" validate:"max=255"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

func (h *StaffHandler) EarnPoints(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, "earn", h.Points.Earn)
}

func (h *StaffHandler) BurnPoints(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, "burn", h.Points.Burn)
}

func (h *StaffHandler) post(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, uuid.UUID, ledger.Posting) (*ledger.Result, error)) {
	tenantID, customerID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req pointsRequest
	if !decode(w, r, h.Validate, &req) {
		return
	}
	p := ledger.Posting{CustomerID: customerID, Amount: req.Points, Description: req.Description}
	if op == "earn" {
		p.ExpiresAt = req.ExpiresAt
	}
	res, err := fn(r.Context(), tenantID, p)
	if err != nil {
		writeDomainError(w, logger.FromContext(r.Context()), op, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// --- GET /api/v1/customers/{id}/points ---

func (h *StaffHandler) GetPoints(w http.ResponseWriter, r *http.Request) {
	tenantID, customerID, ok := h.scope(w, r)
	if !ok {
		return
	}
	limit := defaultStatementLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxStatementLimit)
	}
	st, err := h.Points.Statement(r.Context(), tenantID, customerID, limit)
	if err != nil {
		writeDomainError(w, logger.FromContext(r.Context()), "statement", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// --- POST /api/v1/customers/{id}/stamps ---

type stampRequest struct {
	DefinitionID uuid.UUID  `json:"definition_id" validate:"required"`
	LocationID   *uuid.UUID `json:"location_id"`
}

func (h *StaffHandler) AddStamp(w http.ResponseWriter, r *http.Request) {
	tenantID, customerID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req stampRequest
	if !decode(w, r, h.Validate, &req) {
		return
	}
	card, err := h.Stamps.AddStamp(r.Context(), tenantID, stamps.Request{
		CustomerID:   customerID,
		DefinitionID: req.DefinitionID,
		LocationID:   req.LocationID,
	})
	if err != nil {
		writeDomainError(w, logger.FromContext(r.Context()), "add_stamp", err)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

// --- POST /api/v1/customers/{id}/redemptions ---

type redemptionRequest struct {
	RewardID   uuid.UUID  `json:"reward_id" validate:"required"`
	LocationID *uuid.UUID `json:"location_id"`
}

func (h *StaffHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	tenantID, customerID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req redemptionRequest
	if !decode(w, r, h.Validate, &req) {
		return
	}
	res, err := h.Rewards.Redeem(r.Context(), tenantID, rewards.Request{
		CustomerID: customerID,
		RewardID:   req.RewardID,
		LocationID: req.LocationID,
	})
	if err != nil {
		writeDomainError(w, logger.FromContext(r.Context()), "redeem", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// --- POST /api/v1/transactions ---

type transactionRequest struct {
	CustomerID  uuid.UUID  `json:"customer_id" validate:"required"`
	Amount      int64      `json:"amount" validate:"required,gt=0"`
	LocationID  *uuid.UUID `json:"location_id"`
	ExternalRef *string    `json:"external_ref" validate:"omitempty,max=255"`
}

func (h *StaffHandler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenant.Require(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req transactionRequest
	if !decode(w, r, h.Validate, &req) {
		return
	}
	res, err := h.Transactions.Record(r.Context(), tenantID, transactions.Request{
		CustomerID:  req.CustomerID,
		Amount:      req.Amount,
		LocationID:  req.LocationID,
		ExternalRef: req.ExternalRef,
	})
	if err != nil {
		writeDomainError(w, logger.FromContext(r.Context()), "record_transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// scope resolves the tenant from the context and the customer from the path.
func (h *StaffHandler) scope(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	tenantID, err := tenant.Require(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return uuid.Nil, uuid.Nil, false
	}
	customerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid customer id")
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, customerID, true
}
