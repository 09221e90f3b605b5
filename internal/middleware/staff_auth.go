package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/loyalcore/backend/internal/logger"
	"github.com/loyalcore/backend/internal/tenant"
)

const ctxStaffKey contextKey = "staff"

var ErrInvalidToken = errors.New("invalid token")

// Staff is the identity carried by a staff bearer token.
type Staff struct {
	ID       string
	TenantID uuid.UUID
	Role     string
}

type staffClaims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
	Role     string `json:"role,omitempty"`
}

// IssueStaffToken signs an HS256 token for staffID scoped to tenantID.
func IssueStaffToken(secret []byte, staffID string, tenantID uuid.UUID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := staffClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   staffID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID: tenantID.String(),
		Role:     role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
}

// ParseStaffToken validates signature, expiry and the tenant claim.
func ParseStaffToken(secret []byte, token string) (*Staff, error) {
	tok, err := jwt.ParseWithClaims(token, &staffClaims{}, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	c, ok := tok.Claims.(*staffClaims)
	if !ok || !tok.Valid {
		return nil, ErrInvalidToken
	}
	tenantID, err := uuid.Parse(c.TenantID)
	if err != nil || tenantID == uuid.Nil {
		return nil, ErrInvalidToken
	}
	return &Staff{ID: c.Subject, TenantID: tenantID, Role: c.Role}, nil
}

// StaffAuth puts the staff member and their tenant into the request context.
func StaffAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}
			staff, err := ParseStaffToken(secret, raw)
			if err != nil {
				if errors.Is(err, jwt.ErrTokenExpired) {
					http.Error(w, `{"error":"token expired"}`, http.StatusUnauthorized)
					return
				}
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ctxStaffKey, staff)
			ctx = tenant.WithID(ctx, staff.TenantID)
			l := logger.FromContext(ctx).With().
				Str("tenant_id", staff.TenantID.String()).
				Str("staff_id", staff.ID).
				Logger()
			ctx = logger.WithContext(ctx, &l)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StaffFromCtx returns the authenticated staff member or nil.
func StaffFromCtx(ctx context.Context) *Staff {
	s, _ := ctx.Value(ctxStaffKey).(*Staff)
	return s
}
