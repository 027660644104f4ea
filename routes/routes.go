package routes

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/llm-gateway/app"
	"github.com/upb/llm-gateway/handlers"
	"github.com/upb/llm-gateway/internal/observability"
	"github.com/upb/llm-gateway/middleware"
	"github.com/upb/llm-gateway/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()
	logger := deps.Logger

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger.Named("http")))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(requestTimeout(deps)))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader, handlers.ProviderHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader, handlers.ProviderHeader, handlers.CacheHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var db *sql.DB
	if deps.DB != nil {
		db = deps.DB.DB
	}
	health := handlers.NewHealthHandler(deps.Gateway, db, logger)
	inference := handlers.NewInferenceHandler(deps.Gateway, logger.Named("inference"))
	admin := handlers.NewAdminHandler(deps.Gateway, logger.Named("admin"))

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", observability.Handler(deps.Metrics))
	}

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		if deps.AuthMiddleware != nil {
			r.Use(deps.AuthMiddleware.RequireAuth)
		}

		r.Post("/completions", inference.HandleCompletion)
		r.Post("/chat/completions", inference.HandleChatCompletion)

		r.Route("/providers", func(r chi.Router) {
			r.Get("/", admin.HandleListProviders)
			r.Get("/health", admin.HandleProviderHealth)
			r.Get("/{name}/models", admin.HandleListModels)
		})
		r.Get("/stats", admin.HandleStats)
		r.Delete("/cache", admin.HandleClearCache)

		if deps.Usage != nil {
			usage := handlers.NewUsageHandler(deps.Usage, logger.Named("usage"))
			r.Route("/usage", func(r chi.Router) {
				r.Get("/", usage.HandleSummary)
				r.Delete("/", usage.HandlePrune)
				r.Get("/recent", usage.HandleRecent)
				r.Get("/requests/{requestID}", usage.HandleByRequest)
			})
		}
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}

// requestTimeout bounds a whole request, failover included, by the write timeout
func requestTimeout(deps *app.Dependencies) time.Duration {
	timeout := deps.Config.Server.WriteTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return timeout
}
