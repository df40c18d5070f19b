package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-rewards/internal/common"
	"github.com/noah-isme/backend-rewards/internal/config"
	"github.com/noah-isme/backend-rewards/internal/health"
	"github.com/noah-isme/backend-rewards/internal/obs"
	"github.com/noah-isme/backend-rewards/internal/security"
)

func newRouter(cfg *config.Config, logger zerolog.Logger, deps *dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(security.Headers{EnableHSTS: cfg.HSTSEnabled}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)
	if deps.tracing {
		r.Use(obs.Tracing())
	}
	if cfg.Obs.MetricsEnabled {
		r.Use(obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), nil).Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", common.IdempotencyHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After", "Idempotent-Replayed"},
		AllowCredentials: len(cfg.CORSAllowedOrigins) > 0,
		MaxAge:           300,
	}))

	probes := health.Handler{Probes: deps.probes}
	r.Get("/health/live", probes.Live)
	r.Get("/health/ready", probes.Ready)
	if cfg.Obs.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.Obs.PprofEnabled {
		r.Group(func(ops chi.Router) {
			if cfg.Obs.PprofUser != "" {
				ops.Use(middleware.BasicAuth("pprof", map[string]string{cfg.Obs.PprofUser: cfg.Obs.PprofPass}))
			}
			ops.Mount("/debug", middleware.Profiler())
		})
	}

	idem := common.Idem{R: deps.redis, TTL: cfg.IdempotencyTTL}
	r.Route("/api/v1/bags", func(b chi.Router) {
		b.Use(deps.auth.RequireAuth)
		b.Group(func(g chi.Router) {
			g.Use(idem.Middleware)
			deps.bagAPI.Routes(g)
		})
		b.Route("/{id}/rewards", func(rw chi.Router) {
			rw.Use(deps.limit.Middleware)
			rw.Use(idem.Middleware)
			deps.promoAPI.Routes(rw)
		})
		if deps.history != nil {
			b.Get("/{id}/discounts", deps.history.List)
		}
	})
	return r
}

// allowedOrigins falls back to any origin, without credentials, when none are configured.
func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}
