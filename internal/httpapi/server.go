// Package httpapi exposes the generation and training surface over HTTP.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"diffusiond/internal/config"
	"diffusiond/internal/jobstore"
	"diffusiond/internal/manager"
	"diffusiond/internal/registry"
	"diffusiond/internal/storage"
	"diffusiond/internal/trainer"
)

// Server bundles the collaborators the handlers need.
type Server struct {
	cfg     config.Config
	mgr     *manager.Manager
	reg     *registry.Registry
	st      *storage.Store
	jobs    *jobstore.Store
	trainer *trainer.Orchestrator

	startedAt time.Time
}

// NewServer wires a Server over its collaborators.
func NewServer(cfg config.Config, mgr *manager.Manager, reg *registry.Registry, st *storage.Store, jobs *jobstore.Store, tr *trainer.Orchestrator) *Server {
	return &Server{
		cfg:       cfg,
		mgr:       mgr,
		reg:       reg,
		st:        st,
		jobs:      jobs,
		trainer:   tr,
		startedAt: time.Now(),
	}
}

// NewMux builds the router with all routes and middlewares mounted.
func NewMux(s *Server) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}

	r.Post("/generate", s.handleGenerate)
	r.Post("/generate/image", s.handleGenerateImage)
	r.Post("/train", s.handleTrain)
	r.Get("/train/{training_id}/status", s.handleTrainStatus)
	r.Get("/health", s.handleHealth)
	r.Get("/models", s.handleModels)
	r.Get("/users/{user_id}/models", s.handleUserModels)
	r.Delete("/users/{user_id}/models/{model_id}", s.handleDeleteUserModel)
	r.Delete("/cache", s.handleEvictCache)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// writeJSON writes a 200 JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are gone; nothing more to do than note it.
		if zlog != nil {
			zlog.Error().Err(err).Msg("encode response")
		}
	}
}
