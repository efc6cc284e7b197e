// Package storage manages the on-disk layout of per-user data:
//
//	<users>/<user_id>/
//	├── training_images/<model_identifier>/{images/, metadata.json}
//	├── models/<model_identifier>/
//	└── logs/
//
// The metadata.json of a training directory doubles as the durable record
// of that model's training job (its custom_metadata section); see jobstore.
package storage

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"diffusiond/internal/common/fsutil"
)

// Store owns the users directory tree.
type Store struct {
	usersDir            string
	tempDir             string
	maxUserStorageBytes int64
}

// New constructs a Store. maxUserStorageGB of 0 disables the limit check.
func New(usersDir, tempDir string, maxUserStorageGB int) *Store {
	return &Store{
		usersDir:            usersDir,
		tempDir:             tempDir,
		maxUserStorageBytes: int64(maxUserStorageGB) * 1 << 30,
	}
}

// UsersDir returns the root of per-user data.
func (s *Store) UsersDir() string { return s.usersDir }

// UserDir returns (creating if needed) a user's directory tree.
func (s *Store) UserDir(userID string) (string, error) {
	dir := filepath.Join(s.usersDir, userID)
	for _, sub := range []string{"training_images", "models", "logs"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return "", fmt.Errorf("create user dir: %w", err)
		}
	}
	return dir, nil
}

// TrainingDir returns (creating if needed) the directory of one training run.
func (s *Store) TrainingDir(userID, modelID string) (string, error) {
	if _, err := s.UserDir(userID); err != nil {
		return "", err
	}
	dir := filepath.Join(s.usersDir, userID, "training_images", modelID)
	if err := os.MkdirAll(filepath.Join(dir, "images"), 0o755); err != nil {
		return "", fmt.Errorf("create training dir: %w", err)
	}
	return dir, nil
}

// ImagesDir returns the image directory of a training run without creating it.
func (s *Store) ImagesDir(userID, modelID string) string {
	return filepath.Join(s.usersDir, userID, "training_images", modelID, "images")
}

// OutputModelDir returns (creating if needed) where a trained artifact lands.
func (s *Store) OutputModelDir(userID, modelID string) (string, error) {
	dir := filepath.Join(s.usersDir, userID, "models", modelID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}
	return dir, nil
}

// ImageFile is one uploaded training image.
type ImageFile struct {
	Name    string
	Content []byte
}

// SaveResult summarizes a SaveTrainingImages call.
type SaveResult struct {
	TrainingDir    string
	ImagesDir      string
	NumImages      int
	TotalSizeBytes int64
	MetadataPath   string
}

// SaveTrainingImages persists uploaded images under normalized names
// (<model>_NNN.<ext>) and writes the training metadata file with the given
// custom section.
func (s *Store) SaveTrainingImages(userID, modelID string, images []ImageFile, custom CustomMetadata) (SaveResult, error) {
	dir, err := s.TrainingDir(userID, modelID)
	if err != nil {
		return SaveResult{}, err
	}
	imagesDir := filepath.Join(dir, "images")

	var saved []SavedImage
	var total int64
	for i, img := range images {
		name := fmt.Sprintf("%s_%03d%s", modelID, i, strings.ToLower(filepath.Ext(img.Name)))
		p := filepath.Join(imagesDir, name)
		if err := os.WriteFile(p, img.Content, 0o644); err != nil {
			return SaveResult{}, fmt.Errorf("save image %s: %w", name, err)
		}
		total += int64(len(img.Content))
		saved = append(saved, SavedImage{
			Filename:         name,
			OriginalFilename: img.Name,
			SizeBytes:        int64(len(img.Content)),
			Path:             p,
		})
	}

	meta := Metadata{
		UserID:          userID,
		ModelIdentifier: modelID,
		CreatedAt:       time.Now().UTC(),
		NumImages:       len(saved),
		TotalSizeBytes:  total,
		Images:          saved,
		Custom:          custom,
	}
	if err := s.WriteMetadata(dir, meta); err != nil {
		return SaveResult{}, err
	}
	log.Printf("storage event=images_saved user=%q model=%q count=%d bytes=%d", userID, modelID, len(saved), total)
	return SaveResult{
		TrainingDir:    dir,
		ImagesDir:      imagesDir,
		NumImages:      len(saved),
		TotalSizeBytes: total,
		MetadataPath:   filepath.Join(dir, metadataFile),
	}, nil
}

// CountImages counts image files in a training run's images directory.
func (s *Store) CountImages(userID, modelID string) (int, error) {
	entries, err := os.ReadDir(s.ImagesDir(userID, modelID))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".png", ".jpg", ".jpeg", ".webp":
			n++
		}
	}
	return n, nil
}

// UserStorageBytes computes the user's total disk footprint.
func (s *Store) UserStorageBytes(userID string) (int64, error) {
	dir := filepath.Join(s.usersDir, userID)
	if !fsutil.PathExists(dir) {
		return 0, nil
	}
	return fsutil.DirSizeBytes(dir)
}

// CheckStorageLimit verifies that adding additional bytes keeps the user
// under the configured limit.
func (s *Store) CheckStorageLimit(userID string, additional int64) error {
	if s.maxUserStorageBytes <= 0 {
		return nil
	}
	used, err := s.UserStorageBytes(userID)
	if err != nil {
		return err
	}
	if used+additional > s.maxUserStorageBytes {
		return fmt.Errorf("storage limit exceeded for user %s: %d + %d > %d bytes",
			userID, used, additional, s.maxUserStorageBytes)
	}
	return nil
}

// ListUserModels returns the training metadata of every model a user has.
func (s *Store) ListUserModels(userID string) ([]Metadata, error) {
	root := filepath.Join(s.usersDir, userID, "training_images")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Metadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := s.ReadMetadata(filepath.Join(root, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}

// DeleteModelData removes a model's training directory. The training job
// record dies with it; jobs are never deleted any other way.
func (s *Store) DeleteModelData(userID, modelID string) (bool, error) {
	dir := filepath.Join(s.usersDir, userID, "training_images", modelID)
	if !fsutil.PathExists(dir) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	log.Printf("storage event=model_data_deleted user=%q model=%q", userID, modelID)
	return true, nil
}

// CleanupTemp removes temp files older than maxAge. Returns files removed.
func (s *Store) CleanupTemp(maxAge time.Duration) (int, error) {
	if s.tempDir == "" || !fsutil.PathExists(s.tempDir) {
		return 0, nil
	}
	cutoff := time.Now().Add(-maxAge)
	cleaned := 0
	err := filepath.Walk(s.tempDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() && info.ModTime().Before(cutoff) {
			if rmErr := os.Remove(path); rmErr == nil {
				cleaned++
			}
		}
		return nil
	})
	if cleaned > 0 {
		log.Printf("storage event=temp_cleanup removed=%d", cleaned)
	}
	return cleaned, err
}
