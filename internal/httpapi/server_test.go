package httpapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"diffusiond/internal/config"
	"diffusiond/internal/jobstore"
	"diffusiond/internal/manager"
	"diffusiond/internal/registry"
	"diffusiond/internal/runtime"
	"diffusiond/internal/storage"
	"diffusiond/internal/trainer"
	"diffusiond/pkg/types"
)

func newTestServer(t *testing.T, userModels map[string]string) (*Server, http.Handler) {
	t.Helper()
	cfg := config.Config{
		DataDir:       t.TempDir(),
		Device:        "cpu",
		DefaultModel:  "base",
		FallbackModel: "base",
		Generation: config.GenerationConfig{
			NumInferenceSteps: 5,
			GuidanceScale:     7.5,
			Width:             256,
			Height:            256,
		},
		Training: config.TrainingConfig{
			MinImages:      2,
			MaxImages:      5,
			MaxImageMB:     1,
			MaxTotalMB:     4,
			NumTrainEpochs: 10,
			LearningRate:   5e-6,
			TrainBatchSize: 1,
			Resolution:     256,
			BaseModel:      "base",
		},
		Storage: config.StorageConfig{MaxUserStorageGB: 1},
	}
	reg := registry.New(userModels, cfg.DefaultModel, cfg.UsersDir())
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Runtime:       runtime.NewStubRuntimeWithModels("base"),
		Device:        runtime.DeviceCPU,
		FallbackModel: cfg.FallbackModel,
		ResolvePath:   reg.ModelPath,
	})
	st := storage.New(cfg.UsersDir(), cfg.TempDir(), cfg.Storage.MaxUserStorageGB)
	jobs := jobstore.New(st)
	tr := trainer.New(jobs, st, reg, &trainer.StubStrategy{Steps: 3}, cfg.Training)
	s := NewServer(cfg, mgr, reg, st, jobs, tr)
	return s, NewMux(s)
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func multipartTrain(t *testing.T, userID, modelID string, images int) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("user_id", userID); err != nil {
		t.Fatal(err)
	}
	if err := mw.WriteField("model_identifier", modelID); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < images; i++ {
		fw, err := mw.CreateFormFile("images", fmt.Sprintf("photo_%d.png", i))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte{0x89, 'P', 'N', 'G', byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func awaitJob(t *testing.T, h http.Handler, trainingID string, want types.JobStatus) types.TrainingJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/train/"+trainingID+"/status", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status endpoint = %d: %s", w.Code, w.Body.String())
		}
		var job types.TrainingJob
		if err := json.Unmarshal(w.Body.Bytes(), &job); err != nil {
			t.Fatalf("json: %v", err)
		}
		if job.Status == want {
			return job
		}
		if job.Status.Terminal() {
			t.Fatalf("job ended %s, want %s: %+v", job.Status, want, job)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", trainingID, want)
	return types.TrainingJob{}
}

func TestGenerateHandler(t *testing.T) {
	_, h := newTestServer(t, nil)
	w := postJSON(t, h, "/generate", types.GenerateRequest{UserID: "user_123", Prompt: "a red bicycle"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp types.GenerateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !resp.Success || resp.ModelID != "base" {
		t.Fatalf("resp = %+v", resp)
	}
	png, err := base64.StdEncoding.DecodeString(resp.ImageBase64)
	if err != nil {
		t.Fatalf("base64: %v", err)
	}
	if len(png) < 8 || string(png[1:4]) != "PNG" {
		t.Fatalf("payload is not a PNG, head=%v", png[:min(8, len(png))])
	}
}

func TestGenerateValidation(t *testing.T) {
	_, h := newTestServer(t, nil)

	w := postJSON(t, h, "/generate", types.GenerateRequest{UserID: "u"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty prompt status = %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader("prompt=x"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("bad content type status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json status = %d", rec.Code)
	}

	// Out-of-range values are rejected, not clamped.
	w = postJSON(t, h, "/generate", types.GenerateRequest{Prompt: "x", NumInferenceSteps: 151})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("steps=151 status = %d", w.Code)
	}
	var er types.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json: %v", err)
	}
	if er.Code != http.StatusBadRequest || er.Error == "" {
		t.Fatalf("error payload = %+v", er)
	}
}

func TestGenerateImageHandler(t *testing.T) {
	_, h := newTestServer(t, nil)
	w := postJSON(t, h, "/generate/image", types.GenerateRequest{UserID: "u", Prompt: "noir alley"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content-type = %q", ct)
	}
	if got := w.Header().Get("X-Model-Used"); got != "base" {
		t.Fatalf("X-Model-Used = %q", got)
	}
	if w.Header().Get("X-Generation-Time") == "" {
		t.Fatal("X-Generation-Time missing")
	}
	body := w.Body.Bytes()
	if len(body) < 8 || string(body[1:4]) != "PNG" {
		t.Fatal("body is not a PNG")
	}
}

func TestGenerateFallsBackForUnknownModel(t *testing.T) {
	// user_9 maps to a model the loader cannot load; the request still
	// succeeds on the fallback and says so.
	_, h := newTestServer(t, map[string]string{"user_9": "vanished_model"})
	w := postJSON(t, h, "/generate", types.GenerateRequest{UserID: "user_9", Prompt: "x"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp types.GenerateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.ModelID != "base" {
		t.Fatalf("model_id = %q, want fallback", resp.ModelID)
	}
}

func TestTrainFlow(t *testing.T) {
	_, h := newTestServer(t, nil)

	body, ct := multipartTrain(t, "user_123", "aurel_person", 3)
	req := httptest.NewRequest(http.MethodPost, "/train", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp types.TrainResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !resp.Success || resp.ImagesSaved != 3 || !strings.HasPrefix(resp.TrainingID, "train_") {
		t.Fatalf("resp = %+v", resp)
	}

	job := awaitJob(t, h, resp.TrainingID, types.JobCompleted)
	if job.Progress != 100 || job.ModelIdentifier != "aurel_person" {
		t.Fatalf("job = %+v", job)
	}

	// The freshly trained model now serves this user's generations.
	gw := postJSON(t, h, "/generate", types.GenerateRequest{UserID: "user_123", Prompt: "portrait"})
	if gw.Code != http.StatusOK {
		t.Fatalf("generate after train = %d: %s", gw.Code, gw.Body.String())
	}
	var gresp types.GenerateResponse
	if err := json.Unmarshal(gw.Body.Bytes(), &gresp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if gresp.ModelID != "aurel_person" {
		t.Fatalf("model_id = %q, want trained model", gresp.ModelID)
	}
}

func TestTrainValidation(t *testing.T) {
	_, h := newTestServer(t, nil)

	// Too few images.
	body, ct := multipartTrain(t, "u", "pet_dog", 1)
	req := httptest.NewRequest(http.MethodPost, "/train", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("1 image status = %d", w.Code)
	}

	// Bad model identifier.
	body, ct = multipartTrain(t, "u", "../escape", 3)
	req = httptest.NewRequest(http.MethodPost, "/train", body)
	req.Header.Set("Content-Type", ct)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad model id status = %d", w.Code)
	}

	// Missing user id.
	body, ct = multipartTrain(t, "", "pet_dog", 3)
	req = httptest.NewRequest(http.MethodPost, "/train", body)
	req.Header.Set("Content-Type", ct)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing user status = %d", w.Code)
	}
}

func TestTrainConflict(t *testing.T) {
	s, h := newTestServer(t, nil)

	// Occupy the slot with a non-terminal job.
	if _, err := s.st.SaveTrainingImages("u", "pet_dog", []storage.ImageFile{
		{Name: "a.png", Content: []byte{1}},
		{Name: "b.png", Content: []byte{2}},
	}, storage.CustomMetadata{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.jobs.Create("u", "pet_dog", "train_busy123"); err != nil {
		t.Fatalf("create: %v", err)
	}

	body, ct := multipartTrain(t, "u", "pet_dog", 3)
	req := httptest.NewRequest(http.MethodPost, "/train", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
}

func TestTrainStatusNotFound(t *testing.T) {
	_, h := newTestServer(t, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/train/train_missing1/status", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	_, h := newTestServer(t, nil)
	// Warm one model so models_loaded is visible.
	postJSON(t, h, "/generate", types.GenerateRequest{UserID: "u", Prompt: "x"})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp types.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Status != "healthy" || resp.Device != "cpu" || resp.ModelsLoaded != 1 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestEvictCacheHandler(t *testing.T) {
	s, h := newTestServer(t, nil)
	postJSON(t, h, "/generate", types.GenerateRequest{UserID: "u", Prompt: "x"})
	if s.mgr.Count() != 1 {
		t.Fatalf("count = %d before evict", s.mgr.Count())
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/cache", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if s.mgr.Count() != 0 {
		t.Fatalf("count = %d after evict", s.mgr.Count())
	}
}

func TestHealthzAndModels(t *testing.T) {
	_, h := newTestServer(t, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/models", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("models = %d", w.Code)
	}
	var body map[string][]types.Model
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(body["models"]) != 1 || body["models"][0].ID != "base" {
		t.Fatalf("models = %+v", body["models"])
	}
}
