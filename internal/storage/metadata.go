package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"diffusiond/internal/common/fsutil"
	"diffusiond/pkg/types"
)

const metadataFile = "metadata.json"

// SavedImage records one stored training image.
type SavedImage struct {
	Filename         string `json:"filename"`
	OriginalFilename string `json:"original_filename"`
	SizeBytes        int64  `json:"size_bytes"`
	Path             string `json:"path"`
}

// CustomMetadata is the mutable section of a training metadata file. It
// carries the training job record and the hyperparameters the run was
// started with.
type CustomMetadata struct {
	TrainingID     string          `json:"training_id,omitempty"`
	Status         types.JobStatus `json:"status,omitempty"`
	Progress       int             `json:"progress"`
	Message        string          `json:"message,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Error          string          `json:"error,omitempty"`
	LastUpdated    *time.Time      `json:"last_updated,omitempty"`
	NumTrainEpochs int             `json:"num_train_epochs,omitempty"`
	LearningRate   float64         `json:"learning_rate,omitempty"`
	TrainBatchSize int             `json:"train_batch_size,omitempty"`
	UseLoRA        bool            `json:"use_lora,omitempty"`
}

// Metadata is the persisted description of one training run.
type Metadata struct {
	UserID          string         `json:"user_id"`
	ModelIdentifier string         `json:"model_identifier"`
	CreatedAt       time.Time      `json:"created_at"`
	NumImages       int            `json:"num_images"`
	TotalSizeBytes  int64          `json:"total_size_bytes"`
	Images          []SavedImage   `json:"images,omitempty"`
	Custom          CustomMetadata `json:"custom_metadata"`
}

// ReadMetadata loads the metadata file of a training directory.
func (s *Store) ReadMetadata(trainingDir string) (Metadata, error) {
	b, err := os.ReadFile(filepath.Join(trainingDir, metadataFile))
	if err != nil {
		return Metadata{}, err
	}
	var m Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return Metadata{}, fmt.Errorf("parse %s: %w", metadataFile, err)
	}
	return m, nil
}

// WriteMetadata persists metadata atomically so readers never see a
// partially written file.
func (s *Store) WriteMetadata(trainingDir string, m Metadata) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(filepath.Join(trainingDir, metadataFile), b, 0o644)
}

// MetadataPath returns the metadata file path of a training run.
func (s *Store) MetadataPath(userID, modelID string) string {
	return filepath.Join(s.usersDir, userID, "training_images", modelID, metadataFile)
}
