package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"diffusiond/internal/storage"
)

// handleUserModels lists a user's trained models with their training
// metadata.
func (s *Server) handleUserModels(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	metas, err := s.st.ListUserModels(userID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if metas == nil {
		metas = []storage.Metadata{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "models": metas})
}

// handleDeleteUserModel removes a model's training data. Refused while a
// training run on the pair is still active.
func (s *Server) handleDeleteUserModel(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	modelID := chi.URLParam(r, "model_id")
	if id, busy := s.jobs.ActiveFor(userID, modelID); busy {
		writeJSONError(w, http.StatusConflict,
			fmt.Sprintf("training %s still active for model '%s'", id, modelID))
		return
	}
	ok, err := s.st.DeleteModelData(userID, modelID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no training data for model '%s'", modelID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "model_identifier": modelID})
}
