package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"diffusiond/internal/storage"
	"diffusiond/internal/trainer"
	"diffusiond/pkg/types"
)

var modelIDRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,64}$`)

var allowedImageExt = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// handleTrain accepts a multipart upload of training images, persists them,
// registers a pending job, and dispatches training in the background. The
// response is a 202 with the training id; progress is polled separately.
func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	tc := s.cfg.Training

	maxTotal := int64(tc.MaxTotalMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxTotal+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	userID := strings.TrimSpace(r.FormValue("user_id"))
	modelID := strings.TrimSpace(r.FormValue("model_identifier"))
	if userID == "" {
		writeJSONError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if !modelIDRe.MatchString(modelID) {
		writeJSONError(w, http.StatusBadRequest, "model_identifier must match [a-zA-Z0-9_-]{3,64}")
		return
	}

	// Refuse before touching disk: saving would overwrite the metadata of
	// the run already in flight.
	if id, busy := s.jobs.ActiveFor(userID, modelID); busy {
		writeJSONError(w, http.StatusConflict,
			fmt.Sprintf("training %s already in progress for model '%s'", id, modelID))
		return
	}

	files := r.MultipartForm.File["images"]
	if len(files) < tc.MinImages || len(files) > tc.MaxImages {
		writeJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("got %d images, need between %d and %d", len(files), tc.MinImages, tc.MaxImages))
		return
	}

	maxImage := int64(tc.MaxImageMB) << 20
	var total int64
	images := make([]storage.ImageFile, 0, len(files))
	for _, fh := range files {
		if !allowedImageExt[strings.ToLower(filepath.Ext(fh.Filename))] {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unsupported image type: %s", fh.Filename))
			return
		}
		if fh.Size > maxImage {
			writeJSONError(w, http.StatusBadRequest,
				fmt.Sprintf("image %s exceeds %d MB", fh.Filename, tc.MaxImageMB))
			return
		}
		total += fh.Size
		if total > maxTotal {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("upload exceeds %d MB total", tc.MaxTotalMB))
			return
		}
		f, err := fh.Open()
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "unreadable upload")
			return
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "unreadable upload")
			return
		}
		images = append(images, storage.ImageFile{Name: fh.Filename, Content: content})
	}

	if err := s.st.CheckStorageLimit(userID, total); err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}

	custom := storage.CustomMetadata{
		NumTrainEpochs: formInt(r, "num_train_epochs"),
		LearningRate:   formFloat(r, "learning_rate"),
		TrainBatchSize: formInt(r, "train_batch_size"),
		UseLoRA:        tc.UseLoRA,
	}
	if _, err := s.st.SaveTrainingImages(userID, modelID, images, custom); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	trainingID := trainer.NewTrainingID()
	if _, err := s.jobs.Create(userID, modelID, trainingID); err != nil {
		writeJSONError(w, statusFor(err), err.Error())
		logEnd(r, "train", statusFor(err), start, modelID, err)
		return
	}

	// Fire and forget: the job record is the only channel back to the
	// client. Tied to the server context, not the request, so a client
	// disconnect does not abort training.
	go func() {
		_ = s.trainer.Run(serverBaseCtx, trainingID, userID, modelID)
	}()

	epochs := custom.NumTrainEpochs
	if epochs <= 0 {
		epochs = tc.NumTrainEpochs
	}
	writeJSON(w, http.StatusAccepted, trainResponse(modelID, trainingID, len(images), epochs))
	logEnd(r, "train", http.StatusAccepted, start, modelID, nil)
}

func (s *Server) handleTrainStatus(w http.ResponseWriter, r *http.Request) {
	trainingID := chi.URLParam(r, "training_id")
	job, err := s.jobs.Get(trainingID)
	if err != nil {
		writeJSONError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// trainResponse builds the 202 body with a rough duration estimate scaled
// by epochs and dataset size.
func trainResponse(modelID, trainingID string, images, epochs int) types.TrainResponse {
	minutes := epochs * images / 40
	if minutes < 1 {
		minutes = 1
	}
	return types.TrainResponse{
		Success:              true,
		Message:              fmt.Sprintf("Training started for model '%s'.", modelID),
		ModelIdentifier:      modelID,
		TrainingID:           trainingID,
		ImagesSaved:          images,
		EstimatedTimeMinutes: minutes,
	}
}

func formInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.FormValue(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func formFloat(r *http.Request, key string) float64 {
	f, err := strconv.ParseFloat(r.FormValue(key), 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}
