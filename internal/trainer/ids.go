package trainer

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// NewTrainingID mints a short, URL-safe training job identifier.
func NewTrainingID() string {
	u := uuid.New()
	return "train_" + hex.EncodeToString(u[:4])
}
