package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loyalcore/backend/internal/handlers"
	"github.com/loyalcore/backend/internal/middleware"
	"github.com/loyalcore/backend/internal/models"
)

type rejectDevices struct{}

func (rejectDevices) FindByTokenHash(context.Context, string) (*models.KioskDevice, error) {
	return nil, models.ErrNotFound
}

func (rejectDevices) TouchLastSeen(context.Context, uuid.UUID) error { return nil }

var secret = []byte("router-secret")

func newTestRouter(health func(context.Context) error) http.Handler {
	v := handlers.NewValidator()
	return New(Config{
		Staff:          &handlers.StaffHandler{Validate: v},
		Kiosk:          &handlers.KioskHandler{Validate: v},
		StaffAuth:      middleware.StaffAuth(secret),
		KioskAuth:      middleware.KioskAuth(rejectDevices{}, nil),
		Health:         health,
		AllowedOrigins: []string{"http://localhost:3000"},
		Logger:         zerolog.Nop(),
	})
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	down := func(context.Context) error { return errors.New("db down") }
	newTestRouter(down).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRoutesRequireAuth(t *testing.T) {
	h := newTestRouter(nil)
	cases := []struct {
		method, path string
	}{
		{http.MethodPost, "/api/v1/transactions"},
		{http.MethodGet, "/api/v1/customers/" + uuid.NewString() + "/points"},
		{http.MethodPost, "/api/v1/customers/" + uuid.NewString() + "/points/earn"},
		{http.MethodPost, "/api/v1/customers/" + uuid.NewString() + "/stamps"},
		{http.MethodPost, "/api/v1/kiosk/sync"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, strings.NewReader(`{}`)))
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestStaffTokenReachesHandler(t *testing.T) {
	token, err := middleware.IssueStaffToken(secret, "staff-1", uuid.New(), "cashier", time.Hour)
	require.NoError(t, err)

	// Validation fails inside the handler, which proves auth passed.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
