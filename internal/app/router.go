package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kr1s57/feedvalidator/internal/adapter/controller/http/handlers"
	"github.com/kr1s57/feedvalidator/internal/adapter/controller/http/middleware"
)

// Router builds the ops HTTP API
func (a *App) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(a.logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.Config.Ops.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	if a.Config.Ops.RateLimit > 0 {
		r.Use(httprate.LimitByIP(a.Config.Ops.RateLimit, time.Minute))
	}

	r.Get("/health", handlers.HealthCheck(a.Config, a.Store))
	r.Handle("/metrics", promhttp.Handler())

	validationHandler := handlers.NewValidationHandler(a.Validation, !a.Config.Ops.DisableManualRuns)
	quotaHandler := handlers.NewQuotaHandler(a.Quota)
	whitelistHandler := handlers.NewWhitelistHandler(a.Whitelist)
	indicatorHandler := handlers.NewIndicatorHandler(a.Store)
	cacheHandler := handlers.NewCacheHandler(a.Cache)
	authEnabled := a.Config.Ops.JWTSecret != ""

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.JWTAuth(a.Config.Ops.JWTSecret))

		r.Get("/quota", quotaHandler.List)
		r.Get("/quota/{validator}", quotaHandler.Get)

		r.Get("/whitelist/check/{domain}", whitelistHandler.Check)
		r.Get("/whitelist/stats", whitelistHandler.Stats)

		r.Get("/validated", indicatorHandler.ListValidated)
		r.Get("/indicators/{kind}/{value}", indicatorHandler.Get)

		r.Get("/cache/stats", cacheHandler.Stats)

		r.Post("/consensus/preview", validationHandler.Preview)
		r.Get("/events", a.Hub.ServeWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireOperator(authEnabled))

			r.Post("/validation/run", validationHandler.RunBatch)
			r.Post("/whitelist/reload", whitelistHandler.Reload)
			r.Post("/whitelist/import/{list}", whitelistHandler.Import)
		})
	})

	return r
}
