package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/loyalcore/backend/internal/logger"
	"github.com/loyalcore/backend/internal/models"
	"github.com/loyalcore/backend/internal/tenant"
)

type contextKey string

const ctxDeviceKey contextKey = "kiosk_device"

// DeviceRepo resolves a kiosk by the SHA-256 hash of its token.
type DeviceRepo interface {
	FindByTokenHash(ctx context.Context, tokenHash string) (*models.KioskDevice, error)
	TouchLastSeen(ctx context.Context, id uuid.UUID) error
}

// DeviceCache keeps resolved devices keyed by token hash. Get returns
// (nil, nil) on a miss.
type DeviceCache interface {
	Get(ctx context.Context, tokenHash string) (*models.KioskDevice, error)
	Set(ctx context.Context, tokenHash string, d *models.KioskDevice) error
}

// KioskAuth authenticates kiosk devices by hashing the Bearer token and
// looking it up, through the cache when one is configured. On success the
// device and its tenant are put into the request context. last_seen_at is
// only touched on a cache miss, so at most once per cache TTL.
func KioskAuth(devices DeviceRepo, cache DeviceCache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}
			ctx := r.Context()
			log := logger.FromContext(ctx)
			hash := hashToken(raw)

			var device *models.KioskDevice
			if cache != nil {
				d, err := cache.Get(ctx, hash)
				if err != nil {
					log.Warn().Err(err).Msg("kiosk cache read failed")
				}
				device = d
			}
			if device == nil {
				d, err := devices.FindByTokenHash(ctx, hash)
				if err != nil {
					if !errors.Is(err, models.ErrNotFound) {
						log.Error().Err(err).Msg("kiosk lookup failed")
					}
					http.Error(w, `{"error":"invalid device token"}`, http.StatusUnauthorized)
					return
				}
				device = d
				if err := devices.TouchLastSeen(ctx, d.ID); err != nil {
					log.Warn().Err(err).Str("device_id", d.ID.String()).Msg("touch last_seen_at failed")
				}
				if cache != nil && d.IsActive {
					if err := cache.Set(ctx, hash, d); err != nil {
						log.Warn().Err(err).Msg("kiosk cache write failed")
					}
				}
			}
			if !device.IsActive {
				http.Error(w, `{"error":"device is disabled"}`, http.StatusForbidden)
				return
			}

			ctx = WithDevice(ctx, device)
			ctx = tenant.WithID(ctx, device.TenantID)
			l := log.With().
				Str("tenant_id", device.TenantID.String()).
				Str("device_id", device.ID.String()).
				Logger()
			ctx = logger.WithContext(ctx, &l)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DeviceFromCtx returns the authenticated kiosk or nil.
func DeviceFromCtx(ctx context.Context) *models.KioskDevice {
	d, _ := ctx.Value(ctxDeviceKey).(*models.KioskDevice)
	return d
}

// WithDevice returns a context carrying the given kiosk.
func WithDevice(ctx context.Context, d *models.KioskDevice) context.Context {
	return context.WithValue(ctx, ctxDeviceKey, d)
}

// RedisDeviceCache stores devices as JSON under kiosk:<hash>.
type RedisDeviceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeviceCache returns nil when client is nil so callers can pass
// the result straight to KioskAuth.
func NewRedisDeviceCache(client *redis.Client, ttl time.Duration) DeviceCache {
	if client == nil {
		return nil
	}
	return &RedisDeviceCache{client: client, ttl: ttl}
}

// cachedDevice carries TokenHash, which KioskDevice hides from JSON.
type cachedDevice struct {
	models.KioskDevice
	TokenHash string `json:"token_hash"`
}

func (c *RedisDeviceCache) Get(ctx context.Context, tokenHash string) (*models.KioskDevice, error) {
	raw, err := c.client.Get(ctx, cacheKey(tokenHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cd cachedDevice
	if err := json.Unmarshal(raw, &cd); err != nil {
		return nil, err
	}
	d := cd.KioskDevice
	d.TokenHash = cd.TokenHash
	return &d, nil
}

func (c *RedisDeviceCache) Set(ctx context.Context, tokenHash string, d *models.KioskDevice) error {
	raw, err := json.Marshal(cachedDevice{KioskDevice: *d, TokenHash: d.TokenHash})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(tokenHash), raw, c.ttl).Err()
}

func cacheKey(tokenHash string) string { return "kiosk:" + tokenHash }

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
