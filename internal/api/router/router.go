package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/http/handlers"
	httpmiddleware "github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/http/middleware"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Health         *handlers.HealthHandler
	Processors     *handlers.ProcessorsHandler
	MetricsHandler http.Handler

	// AdminAuthSecret signs operator tokens. Without it /admin is not mounted.
	AdminAuthSecret string
	// AdminRateLimit is requests per second per IP on /admin (0 disables).
	AdminRateLimit float64
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Get("/health", cfg.Health.Health)
			public.Get("/ready", cfg.Health.Ready)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	if cfg.AdminAuthSecret != "" && cfg.Processors != nil {
		r.Route("/admin", func(admin chi.Router) {
			if cfg.AdminRateLimit > 0 {
				admin.Use(httpmiddleware.RateLimit(cfg.AdminRateLimit, int(cfg.AdminRateLimit)+1))
			}
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret, cfg.Logger))
			admin.Get("/processors", cfg.Processors.List)
		})
	}

	return r
}
