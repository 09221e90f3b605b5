package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/loyalcore/backend/internal/handlers"
	"github.com/loyalcore/backend/internal/middleware"
)

// maxSyncBody bounds a kiosk batch: 100 items with small payloads.
const maxSyncBody = 1 << 20

// Config carries everything New needs to build the HTTP surface.
type Config struct {
	Staff          *handlers.StaffHandler
	Kiosk          *handlers.KioskHandler
	StaffAuth      func(http.Handler) http.Handler
	KioskAuth      func(http.Handler) http.Handler
	Health         func(ctx context.Context) error
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// New returns an http.Handler that serves the API under /api/v1.
func New(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", healthz(cfg.Health))

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(cfg.StaffAuth)
			r.Post("/transactions", cfg.Staff.RecordTransaction)
			r.Route("/customers/{id}", func(r chi.Router) {
				r.Get("/points", cfg.Staff.GetPoints)
				r.Post("/points/earn", cfg.Staff.EarnPoints)
				r.Post("/points/burn", cfg.Staff.BurnPoints)
				r.Post("/stamps", cfg.Staff.AddStamp)
				r.Post("/redemptions", cfg.Staff.Redeem)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(cfg.KioskAuth)
			r.Use(middleware.LimitBody(maxSyncBody))
			r.Post("/kiosk/sync", cfg.Kiosk.Sync)
		})
	})

	return cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}).Handler(r)
}

func healthz(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
