package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/finvera/txn-engine/internal/api/handlers"
	"github.com/finvera/txn-engine/internal/config"
	"github.com/finvera/txn-engine/internal/metrics"
	"github.com/finvera/txn-engine/internal/middleware"
)

func NewRouter(cfg config.Config, th *handlers.TransactionHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.HTTPMetrics, middleware.RateLimit(cfg.RateRPS))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	// health & metrics
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/transactions", th.Create)
		r.Get("/transactions", th.List)
		r.Get("/transactions/{id}", th.GetByID)
		r.Get("/transactions/by-reference/{reference}", th.GetByReference)
		r.Post("/transactions/{id}/reverse", th.Reverse)
	})

	return r
}
