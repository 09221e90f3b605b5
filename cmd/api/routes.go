package main

import (
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/loyalcore/backend/internal/app"
	"github.com/loyalcore/backend/internal/config"
	"github.com/loyalcore/backend/internal/handlers"
	"github.com/loyalcore/backend/internal/middleware"
	"github.com/loyalcore/backend/internal/router"
)

// newRouter builds the HTTP surface. Staff routes authenticate with a JWT
// carrying tenant_id; kiosk routes with a device token, Redis-cached when
// rdb is set.
func newRouter(cfg *config.Config, a *app.App, rdb *redis.Client) http.Handler {
	validate := handlers.NewValidator()

	return router.New(router.Config{
		Staff: &handlers.StaffHandler{
			Points:       a.Ledger,
			Stamps:       a.Stamps,
			Rewards:      a.Rewards,
			Transactions: a.Transactions,
			Validate:     validate,
		},
		Kiosk: &handlers.KioskHandler{
			Service:  a.Sync,
			Validate: validate,
		},
		StaffAuth:      middleware.StaffAuth([]byte(cfg.JWTSecret)),
		KioskAuth:      middleware.KioskAuth(a.Repos.Kiosks, middleware.NewRedisDeviceCache(rdb, cfg.KioskCacheTTL)),
		Health:         a.Pool.Ping,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         log.Logger,
	})
}
