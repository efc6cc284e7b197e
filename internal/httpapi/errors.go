package httpapi

import (
	"encoding/json"
	"net/http"

	"diffusiond/internal/jobstore"
	"diffusiond/internal/manager"
	"diffusiond/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// statusFor maps well-known service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case manager.IsInvalidParams(err):
		return http.StatusBadRequest
	case manager.IsModelLoad(err):
		return http.StatusServiceUnavailable
	case jobstore.IsJobNotFound(err):
		return http.StatusNotFound
	case jobstore.IsJobConflict(err):
		return http.StatusConflict
	}
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}
