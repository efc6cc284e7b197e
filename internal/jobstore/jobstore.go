// Package jobstore tracks training jobs across two tiers: an in-memory
// index for jobs seen by this process, and the durable custom_metadata
// section of each training run's metadata.json. The durable tier survives
// restarts; Get falls back to scanning it when the index misses.
package jobstore

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"diffusiond/internal/storage"
	"diffusiond/pkg/types"
)

// Store is the sole writer of training job records.
type Store struct {
	st *storage.Store

	mu   sync.RWMutex
	jobs map[string]*record
}

type record struct {
	job     types.TrainingJob
	userID  string
	modelID string
}

// New constructs a Store over the given storage layout.
func New(st *storage.Store) *Store {
	return &Store{st: st, jobs: make(map[string]*record)}
}

// Create registers a new pending job for a training run whose images and
// metadata already exist on disk. It refuses a duplicate training id and
// refuses to shadow a non-terminal job on the same user/model pair.
func (s *Store) Create(userID, modelID, trainingID string) (types.TrainingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[trainingID]; ok {
		return types.TrainingJob{}, &jobConflictError{trainingID: trainingID, reason: "training id already exists"}
	}
	for _, r := range s.jobs {
		if r.userID == userID && r.modelID == modelID && !r.job.Status.Terminal() {
			return types.TrainingJob{}, &jobConflictError{
				trainingID: r.job.TrainingID,
				reason:     "training already in progress for this model",
			}
		}
	}

	dir := filepath.Dir(s.st.MetadataPath(userID, modelID))
	meta, err := s.st.ReadMetadata(dir)
	if err != nil {
		return types.TrainingJob{}, err
	}

	now := time.Now().UTC()
	job := types.TrainingJob{
		TrainingID:      trainingID,
		UserID:          userID,
		ModelIdentifier: modelID,
		Status:          types.JobPending,
		Progress:        0,
		Message:         "Training queued",
	}
	meta.Custom.TrainingID = trainingID
	meta.Custom.Status = job.Status
	meta.Custom.Progress = job.Progress
	meta.Custom.Message = job.Message
	meta.Custom.StartedAt = nil
	meta.Custom.CompletedAt = nil
	meta.Custom.Error = ""
	meta.Custom.LastUpdated = &now
	if err := s.st.WriteMetadata(dir, meta); err != nil {
		return types.TrainingJob{}, err
	}

	s.jobs[trainingID] = &record{job: job, userID: userID, modelID: modelID}
	log.Printf("jobstore event=job_created training_id=%q user=%q model=%q", trainingID, userID, modelID)
	return job, nil
}

// Update advances a job's status, progress, and message. Updates against a
// terminal job are logged and dropped; a job is immutable once finished.
// Progress never moves backwards.
func (s *Store) Update(trainingID string, status types.JobStatus, progress int, message string) error {
	return s.apply(trainingID, status, progress, message, "")
}

// Complete marks a job finished at full progress.
func (s *Store) Complete(trainingID, message string) error {
	return s.apply(trainingID, types.JobCompleted, 100, message, "")
}

// Fail marks a job failed, preserving the progress it reached.
func (s *Store) Fail(trainingID, errMsg string) error {
	return s.apply(trainingID, types.JobFailed, -1, "Training failed", errMsg)
}

func (s *Store) apply(trainingID string, status types.JobStatus, progress int, message, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.jobs[trainingID]
	if !ok {
		return &jobNotFoundError{trainingID: trainingID}
	}
	if r.job.Status.Terminal() {
		log.Printf("jobstore event=update_dropped training_id=%q status=%s reason=terminal", trainingID, r.job.Status)
		return nil
	}

	// Stage the transition on a copy; the index must not lead the durable
	// record if the write below fails.
	now := time.Now().UTC()
	job := r.job
	if status == types.JobRunning && job.StartedAt == nil {
		started := now
		job.StartedAt = &started
	}
	job.Status = status
	if progress > job.Progress {
		job.Progress = progress
	}
	job.Message = message
	job.Error = errMsg
	if status.Terminal() {
		completed := now
		job.CompletedAt = &completed
	}

	dir := filepath.Dir(s.st.MetadataPath(r.userID, r.modelID))
	meta, err := s.st.ReadMetadata(dir)
	if err != nil {
		return err
	}
	meta.Custom.Status = job.Status
	meta.Custom.Progress = job.Progress
	meta.Custom.Message = job.Message
	meta.Custom.StartedAt = job.StartedAt
	meta.Custom.CompletedAt = job.CompletedAt
	meta.Custom.Error = job.Error
	meta.Custom.LastUpdated = &now
	if err := s.st.WriteMetadata(dir, meta); err != nil {
		return err
	}
	r.job = job
	log.Printf("jobstore event=job_updated training_id=%q status=%s progress=%d", trainingID, job.Status, job.Progress)
	return nil
}

// Get returns a job by training id, falling back to a scan of durable
// metadata for jobs started before this process.
func (s *Store) Get(trainingID string) (types.TrainingJob, error) {
	s.mu.RLock()
	r, ok := s.jobs[trainingID]
	s.mu.RUnlock()
	if ok {
		return r.job, nil
	}
	job, found := s.scan(trainingID)
	if !found {
		return types.TrainingJob{}, &jobNotFoundError{trainingID: trainingID}
	}
	return job, nil
}

// scan walks users/*/training_images/*/metadata.json for a training id.
func (s *Store) scan(trainingID string) (types.TrainingJob, bool) {
	users, err := os.ReadDir(s.st.UsersDir())
	if err != nil {
		return types.TrainingJob{}, false
	}
	for _, u := range users {
		if !u.IsDir() {
			continue
		}
		metas, err := s.st.ListUserModels(u.Name())
		if err != nil {
			continue
		}
		for _, m := range metas {
			if m.Custom.TrainingID != trainingID {
				continue
			}
			return types.TrainingJob{
				TrainingID:      m.Custom.TrainingID,
				UserID:          m.UserID,
				ModelIdentifier: m.ModelIdentifier,
				Status:          m.Custom.Status,
				Progress:        m.Custom.Progress,
				Message:         m.Custom.Message,
				StartedAt:       m.Custom.StartedAt,
				CompletedAt:     m.Custom.CompletedAt,
				Error:           m.Custom.Error,
			}, true
		}
	}
	return types.TrainingJob{}, false
}

// ActiveFor returns the id of the non-terminal job occupying a user/model
// pair, if any. Callers use it to refuse an upload before touching disk.
func (s *Store) ActiveFor(userID, modelID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.jobs {
		if r.userID == userID && r.modelID == modelID && !r.job.Status.Terminal() {
			return r.job.TrainingID, true
		}
	}
	return "", false
}

// ActiveCount reports jobs not yet in a terminal state.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.jobs {
		if !r.job.Status.Terminal() {
			n++
		}
	}
	return n
}
