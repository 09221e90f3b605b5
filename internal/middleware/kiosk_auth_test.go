package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loyalcore/backend/internal/models"
	"github.com/loyalcore/backend/internal/tenant"
)

type stubDeviceRepo struct {
	devices map[string]*models.KioskDevice
	err     error
	lookups int
	touched []uuid.UUID
}

func (s *stubDeviceRepo) FindByTokenHash(_ context.Context, hash string) (*models.KioskDevice, error) {
	s.lookups++
	if s.err != nil {
		return nil, s.err
	}
	d, ok := s.devices[hash]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *stubDeviceRepo) TouchLastSeen(_ context.Context, id uuid.UUID) error {
	s.touched = append(s.touched, id)
	return nil
}

type mapCache struct {
	items map[string]*models.KioskDevice
}

func (c *mapCache) Get(_ context.Context, hash string) (*models.KioskDevice, error) {
	return c.items[hash], nil
}

func (c *mapCache) Set(_ context.Context, hash string, d *models.KioskDevice) error {
	c.items[hash] = d
	return nil
}

// deviceHandler echoes the device id and checks the tenant was bound.
var deviceHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	d := DeviceFromCtx(r.Context())
	tenantID, err := tenant.Require(r.Context())
	if d == nil || err != nil || tenantID != d.TenantID {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	_, _ = w.Write([]byte(d.ID.String()))
})

func newDevice(active bool) *models.KioskDevice {
	return &models.KioskDevice{ID: uuid.New(), TenantID: uuid.New(), LocationID: uuid.New(), IsActive: active}
}

func serveKiosk(h http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/kiosk/sync", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestKioskAuth_ValidToken(t *testing.T) {
	d := newDevice(true)
	repo := &stubDeviceRepo{devices: map[string]*models.KioskDevice{hashToken("kiosk-secret"): d}}

	rec := serveKiosk(KioskAuth(repo, nil)(deviceHandler), "Bearer kiosk-secret")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, d.ID.String(), rec.Body.String())
	assert.Equal(t, []uuid.UUID{d.ID}, repo.touched)
}

func TestKioskAuth_MissingHeader(t *testing.T) {
	mw := KioskAuth(&stubDeviceRepo{}, nil)(deviceHandler)
	cases := []struct {
		name   string
		header string
	}{
		{"no header at all", ""},
		{"empty bearer", "Bearer "},
		{"wrong scheme", "Basic abc123"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, serveKiosk(mw, tc.header).Code)
		})
	}
}

func TestKioskAuth_UnknownToken(t *testing.T) {
	repo := &stubDeviceRepo{devices: map[string]*models.KioskDevice{}}
	rec := serveKiosk(KioskAuth(repo, nil)(deviceHandler), "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, repo.touched)
}

func TestKioskAuth_LookupErrorIsUnauthorized(t *testing.T) {
	repo := &stubDeviceRepo{err: errors.New("connection refused")}
	rec := serveKiosk(KioskAuth(repo, nil)(deviceHandler), "Bearer kiosk-secret")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestKioskAuth_InactiveDeviceRejected(t *testing.T) {
	d := newDevice(false)
	repo := &stubDeviceRepo{devices: map[string]*models.KioskDevice{hashToken("old"): d}}
	cache := &mapCache{items: map[string]*models.KioskDevice{}}

	rec := serveKiosk(KioskAuth(repo, cache)(deviceHandler), "Bearer old")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, cache.items)
}

func TestKioskAuth_CacheHitSkipsLookup(t *testing.T) {
	d := newDevice(true)
	hash := hashToken("kiosk-secret")
	repo := &stubDeviceRepo{devices: map[string]*models.KioskDevice{hash: d}}
	cache := &mapCache{items: map[string]*models.KioskDevice{}}
	mw := KioskAuth(repo, cache)(deviceHandler)

	for range 3 {
		rec := serveKiosk(mw, "Bearer kiosk-secret")
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, 1, repo.lookups)
	assert.Len(t, repo.touched, 1)
	assert.Contains(t, cache.items, hash)
}

func TestNewRedisDeviceCache_NilClient(t *testing.T) {
	assert.Nil(t, NewRedisDeviceCache(nil, time.Minute))
	assert.Equal(t, "kiosk:abc", cacheKey("abc"))
}

func TestHashToken(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", hashToken("abc"))
}
