package handlers

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/loyalcore/backend/internal/logger"
	"github.com/loyalcore/backend/internal/middleware"
	"github.com/loyalcore/backend/internal/models"
	"github.com/loyalcore/backend/internal/syncqueue"
)

type SyncService interface {
	Apply(ctx context.Context, device *models.KioskDevice, items []syncqueue.Item) []syncqueue.Result
}

// KioskHandler serves POST /api/v1/kiosk/sync.
type KioskHandler struct {
	Service  SyncService
	Validate *validator.Validate
}

type syncResponse struct {
	Results []syncqueue.Result `json:"results"`
}

// Sync validates the whole batch up front; once it is accepted every item
// gets its own status and the response is always 200.
func (h *KioskHandler) Sync(w http.ResponseWriter, r *http.Request) {
	device := middleware.DeviceFromCtx(r.Context())
	if device == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var batch syncqueue.Batch
	if !decode(w, r, h.Validate, &batch) {
		return
	}

	results := h.Service.Apply(r.Context(), device, batch.Items)

	var processed, skipped, failed int
	for _, res := range results {
		switch res.Status {
		case models.SyncResultProcessed:
			processed++
		case models.SyncResultSkipped:
			skipped++
		default:
			failed++
		}
	}
	logger.FromContext(r.Context()).Info().
		Int("items", len(results)).
		Int("processed", processed).
		Int("skipped", skipped).
		Int("failed", failed).
		Msg("kiosk batch applied")

	writeJSON(w, http.StatusOK, syncResponse{Results: results})
}
