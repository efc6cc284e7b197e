package httpapi

import (
	"net/http"
	"time"

	"diffusiond/pkg/types"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:        "healthy",
		Device:        string(s.mgr.Device()),
		ModelsLoaded:  s.mgr.Count(),
		ActiveJobs:    s.jobs.ActiveCount(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": s.reg.ListModels()})
}

// handleEvictCache drops every resident model. Safe to call repeatedly;
// subsequent requests reload on demand.
func (s *Server) handleEvictCache(w http.ResponseWriter, r *http.Request) {
	s.mgr.EvictAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       "model cache cleared",
		"models_loaded": s.mgr.Count(),
	})
}
