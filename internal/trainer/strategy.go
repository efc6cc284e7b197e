package trainer

import "context"

// Dataset describes the validated input of one fine-tuning run.
type Dataset struct {
	// ImagesDir holds the normalized training images.
	ImagesDir string
	NumImages int
	// InstanceToken is the subject token the fine-tune binds, equal to the
	// model identifier.
	InstanceToken string
	// InstancePrompt describes the subject ("<token> person"); ClassPrompt
	// is the generic class used for prior preservation.
	InstancePrompt string
	ClassPrompt    string
}

// Hyperparams carries the per-run training knobs, resolved from config
// with any per-upload overrides applied.
type Hyperparams struct {
	BaseModel      string
	NumTrainEpochs int
	LearningRate   float64
	TrainBatchSize int
	Resolution     int
}

// ProgressFunc reports training progress as a fraction of total steps in
// [0,1] plus a human-readable message.
type ProgressFunc func(frac float64, msg string)

// Strategy runs one fine-tuning method end to end, leaving the trained
// artifact in outputDir.
type Strategy interface {
	Name() string
	Run(ctx context.Context, ds Dataset, hp Hyperparams, outputDir string, progress ProgressFunc) error
}
