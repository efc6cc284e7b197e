package jobstore

import (
	"errors"
	"fmt"
)

type jobNotFoundError struct {
	trainingID string
}

func (e *jobNotFoundError) Error() string {
	return fmt.Sprintf("training job %s not found", e.trainingID)
}

// IsJobNotFound reports whether err means the training id is unknown to
// both the index and durable metadata.
func IsJobNotFound(err error) bool {
	var e *jobNotFoundError
	return errors.As(err, &e)
}

type jobConflictError struct {
	trainingID string
	reason     string
}

func (e *jobConflictError) Error() string {
	return fmt.Sprintf("training job conflict (%s): %s", e.trainingID, e.reason)
}

// IsJobConflict reports whether err means a job could not be created
// because one already occupies its slot.
func IsJobConflict(err error) bool {
	var e *jobConflictError
	return errors.As(err, &e)
}
