package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loyalcore/backend/internal/tenant"
)

var testSecret = []byte("test-secret")

var staffHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	s := StaffFromCtx(r.Context())
	tenantID, err := tenant.Require(r.Context())
	if s == nil || err != nil || tenantID != s.TenantID {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	_, _ = w.Write([]byte(s.ID))
})

func serveStaff(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/customers/x/points", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStaffAuth_ValidToken(t *testing.T) {
	tenantID := uuid.New()
	token, err := IssueStaffToken(testSecret, "staff-1", tenantID, "cashier", time.Hour)
	require.NoError(t, err)

	rec := serveStaff(StaffAuth(testSecret)(staffHandler), token)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "staff-1", rec.Body.String())
}

func TestStaffAuth_Rejections(t *testing.T) {
	tenantID := uuid.New()
	expired, err := IssueStaffToken(testSecret, "staff-1", tenantID, "", -time.Minute)
	require.NoError(t, err)
	wrongKey, err := IssueStaffToken([]byte("other"), "staff-1", tenantID, "", time.Hour)
	require.NoError(t, err)
	noTenant, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "staff-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(testSecret)
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, staffClaims{TenantID: tenantID.String()}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	mw := StaffAuth(testSecret)(staffHandler)
	cases := map[string]string{
		"missing":   "",
		"garbage":   "not-a-jwt",
		"expired":   expired,
		"wrong key": wrongKey,
		"no tenant": noTenant,
		"alg none":  unsigned,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, serveStaff(mw, token).Code)
		})
	}
}

func TestParseStaffToken_RoundTrip(t *testing.T) {
	tenantID := uuid.New()
	token, err := IssueStaffToken(testSecret, "manager-7", tenantID, "manager", time.Hour)
	require.NoError(t, err)

	s, err := ParseStaffToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, &Staff{ID: "manager-7", TenantID: tenantID, Role: "manager"}, s)
}
