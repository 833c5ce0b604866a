package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/pkg/logging"
)

// RequestLogger emits one structured line per request. Probe and scrape
// paths log at debug.
func RequestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := chimw.GetReqID(r.Context())
			if reqID == "" {
				reqID = r.Header.Get("X-Request-ID")
			}
			if reqID == "" {
				reqID = uuid.NewString()
			}
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"request_id", reqID,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			switch r.URL.Path {
			case "/health", "/ready", "/metrics":
				logger.Debug("request completed", attrs...)
			default:
				logger.Info("request completed", attrs...)
			}
		})
	}
}
