package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"diffusiond/internal/manager"
	"diffusiond/internal/runtime"
	"diffusiond/pkg/types"
)

// decodeGenerate parses and validates the request body, applying server
// defaults for omitted knobs. Out-of-range values are left as-is; the
// executor rejects them so the bounds live in one place.
func (s *Server) decodeGenerate(w http.ResponseWriter, r *http.Request) (types.GenerateRequest, bool) {
	var req types.GenerateRequest
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return req, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return req, false
	}
	if req.NumInferenceSteps == 0 {
		req.NumInferenceSteps = s.cfg.Generation.NumInferenceSteps
	}
	if req.GuidanceScale == 0 {
		req.GuidanceScale = s.cfg.Generation.GuidanceScale
	}
	if req.Width == 0 {
		req.Width = s.cfg.Generation.Width
	}
	if req.Height == 0 {
		req.Height = s.cfg.Generation.Height
	}
	return req, true
}

// runGeneration resolves the user's model, acquires a handle, and produces
// one image.
func (s *Server) runGeneration(r *http.Request, req types.GenerateRequest) (manager.Image, error) {
	// Join server base context with request context so shutdown cancels work too.
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	modelID := s.reg.Resolve(req.UserID)
	h, err := s.mgr.Acquire(ctx, modelID)
	if err != nil {
		return manager.Image{}, err
	}
	img, err := s.mgr.Generate(ctx, h, runtime.GenerateParams{
		Prompt:            req.Prompt,
		NumInferenceSteps: req.NumInferenceSteps,
		GuidanceScale:     req.GuidanceScale,
		Width:             req.Width,
		Height:            req.Height,
		Seed:              req.Seed,
	})
	if err != nil {
		return manager.Image{}, err
	}
	s.keepDebugCopy(img)
	return img, nil
}

// keepDebugCopy writes the generated PNG under the output dir. Best effort:
// a full disk must not fail the request.
func (s *Server) keepDebugCopy(img manager.Image) {
	dir := s.cfg.OutputDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	name := fmt.Sprintf("gen_%d_%s.png", time.Now().UnixNano(), sanitizeModelID(img.ModelID))
	_ = os.WriteFile(filepath.Join(dir, name), img.PNG, 0o644)
}

func sanitizeModelID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req, ok := s.decodeGenerate(w, r)
	if !ok {
		return
	}
	img, err := s.runGeneration(r, req)
	if err != nil {
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		status := statusFor(err)
		writeJSONError(w, status, err.Error())
		logEnd(r, "generate", status, start, img.ModelID, err)
		return
	}
	writeJSON(w, http.StatusOK, types.GenerateResponse{
		Success:        true,
		Message:        "Image generated successfully",
		ImageBase64:    base64.StdEncoding.EncodeToString(img.PNG),
		ModelID:        img.ModelID,
		GenerationTime: img.Duration.Seconds(),
	})
	logEnd(r, "generate", http.StatusOK, start, img.ModelID, nil)
}

// handleGenerateImage returns the raw PNG instead of a JSON envelope. The
// model actually used and the wall-clock time travel in headers.
func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req, ok := s.decodeGenerate(w, r)
	if !ok {
		return
	}
	img, err := s.runGeneration(r, req)
	if err != nil {
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		status := statusFor(err)
		writeJSONError(w, status, err.Error())
		logEnd(r, "generate_image", status, start, img.ModelID, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Model-Used", img.ModelID)
	w.Header().Set("X-Generation-Time", strconv.FormatFloat(img.Duration.Seconds(), 'f', 3, 64))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.PNG)
	logEnd(r, "generate_image", http.StatusOK, start, img.ModelID, nil)
}
