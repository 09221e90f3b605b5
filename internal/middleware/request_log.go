package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/loyalcore/backend/internal/logger"
)

// RequestLogger attaches a request-scoped logger carrying request_id and
// logs one line per request once the handler returns. It expects
// chimw.RequestID to run first.
func RequestLogger(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			l := base.With().Str("request_id", chimw.GetReqID(r.Context())).Logger()
			next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context(), &l)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := l.Info()
			if status >= http.StatusInternalServerError {
				ev = l.Error()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("ip", r.RemoteAddr).
				Msg("HTTP request")
		})
	}
}
