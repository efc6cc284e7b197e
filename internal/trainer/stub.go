package trainer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// StubStrategy simulates a fine-tune without touching an accelerator. It
// reports the configured number of steps and drops a marker weights file
// in the output directory. Used when no trainer binary is configured and
// throughout the tests.
type StubStrategy struct {
	// Steps is how many progress reports to emit. Zero means 10.
	Steps int
	// Fail, when set, aborts the run at the midpoint with this error.
	Fail error
}

func (s *StubStrategy) Name() string { return "stub" }

func (s *StubStrategy) Run(ctx context.Context, ds Dataset, hp Hyperparams, outputDir string, progress ProgressFunc) error {
	steps := s.Steps
	if steps <= 0 {
		steps = 10
	}
	for i := 1; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.Fail != nil && i > steps/2 {
			return s.Fail
		}
		if progress != nil {
			progress(float64(i)/float64(steps), fmt.Sprintf("Training step %d/%d", i, steps))
		}
	}
	marker := fmt.Sprintf("stub weights for %s from %s\n", ds.InstanceToken, hp.BaseModel)
	return os.WriteFile(filepath.Join(outputDir, "model.safetensors"), []byte(marker), 0o644)
}
