package types

import "time"

// Model describes a resolvable diffusion model artifact.
type Model struct {
	// Stable identifier for the model (hub-style id or local dir name).
	// example: aurel_person
	ID string `json:"id" example:"aurel_person"`
	// Human-friendly name.
	// example: Aurel (personalized)
	Name string `json:"name" example:"Aurel (personalized)"`
	// Absolute path to the model directory on disk, empty for hub-resolved ids.
	// example: /data/users/user_123/models/aurel_person
	Path string `json:"path,omitempty" example:"/data/users/user_123/models/aurel_person"`
	// Owning user, empty for shared/base models.
	// example: user_123
	UserID string `json:"user_id,omitempty" example:"user_123"`
}

// JobStatus is the lifecycle state of a training job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool { return s == JobCompleted || s == JobFailed }

// TrainingJob is the durable record of one fine-tuning run.
type TrainingJob struct {
	// Unique job identifier, assigned at creation.
	// example: train_ab12cd34
	TrainingID string `json:"training_id" example:"train_ab12cd34"`
	// Owning user.
	// example: user_123
	UserID string `json:"user_id" example:"user_123"`
	// Model being trained; doubles as the instance trigger token.
	// example: aurel_person
	ModelIdentifier string `json:"model_identifier" example:"aurel_person"`
	// Current lifecycle state.
	// example: running
	Status JobStatus `json:"status" example:"running"`
	// Progress percentage, 0-100, non-decreasing while running.
	// example: 45
	Progress int `json:"progress" example:"45"`
	// Human-readable description of the current step.
	// example: Training epoch 12/100
	Message string `json:"message" example:"Training epoch 12/100"`
	// Set once, when the job enters the running state.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// Set when the job reaches a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Error description, present only when status is failed.
	Error string `json:"error,omitempty"`
}
