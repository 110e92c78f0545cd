package api

import (
	"encoding/json"
	"net/http"

	"github.com/agentoven/agentoven/pairing-plane/internal/api/handlers"
	"github.com/agentoven/agentoven/pairing-plane/internal/api/middleware"
	"github.com/agentoven/agentoven/pairing-plane/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const serviceName = "pairing-plane"

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/ready", h.Ready)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/bots", func(r chi.Router) {
			r.Get("/", h.ListBots)
			r.Post("/", h.RegisterBot)
			r.Route("/{botID}", func(r chi.Router) {
				r.Get("/", h.GetBot)
				r.Put("/", h.UpdateBot)
				r.Delete("/", h.DeregisterBot)
				r.Post("/heartbeat", h.BotHeartbeat)
			})
		})

		r.Route("/pairs", func(r chi.Router) {
			r.Get("/", h.ListPairs)
			r.Post("/", h.CreatePair)
			r.Get("/active", h.ListActivePairs)
			r.Post("/auto", h.AutoPair)
			r.Route("/{pairID}", func(r chi.Router) {
				r.Get("/", h.GetPair)
				r.Delete("/", h.TerminatePair)
			})
		})

		r.Get("/strategies", h.ListStrategies)
		r.Get("/status", h.SystemStatus)
	})

	// Live channels
	r.Route("/ws", func(r chi.Router) {
		r.Get("/bots/{botID}", h.BotSocket)
		r.Get("/monitor", h.MonitorSocket)
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": serviceName,
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": serviceName,
		})
	}
}
