package trainer

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// execStrategy shells out to the external fine-tuning launcher. The two
// supported methods share the invocation shape and differ only in the
// method flags they pass.
type execStrategy struct {
	bin  string
	name string
	args []string
}

// NewLoRAStrategy fine-tunes low-rank adapters on top of the base model.
func NewLoRAStrategy(bin string) Strategy {
	return &execStrategy{bin: bin, name: "lora", args: []string{"--method", "lora", "--lora-rank", "4"}}
}

// NewFullFineTuneStrategy updates all UNet weights. Slower and heavier
// than LoRA but produces a standalone checkpoint.
func NewFullFineTuneStrategy(bin string) Strategy {
	return &execStrategy{bin: bin, name: "full", args: []string{"--method", "full", "--gradient-checkpointing"}}
}

func (s *execStrategy) Name() string { return s.name }

// stepRe matches the launcher's progress lines, e.g. "step 12/100 loss=0.041".
var stepRe = regexp.MustCompile(`step\s+(\d+)/(\d+)`)

func (s *execStrategy) Run(ctx context.Context, ds Dataset, hp Hyperparams, outputDir string, progress ProgressFunc) error {
	args := []string{
		"--base-model", hp.BaseModel,
		"--instance-dir", ds.ImagesDir,
		"--instance-token", ds.InstanceToken,
		"--instance-prompt", ds.InstancePrompt,
		"--class-prompt", ds.ClassPrompt,
		"--output-dir", outputDir,
		"--resolution", strconv.Itoa(hp.Resolution),
		"--epochs", strconv.Itoa(hp.NumTrainEpochs),
		"--learning-rate", strconv.FormatFloat(hp.LearningRate, 'g', -1, 64),
		"--batch-size", strconv.Itoa(hp.TrainBatchSize),
	}
	args = append(args, s.args...)

	cmd := exec.CommandContext(ctx, s.bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("trainer stdout: %w", err)
	}
	var stderrTail tailBuffer
	cmd.Stderr = &stderrTail

	log.Printf("trainer event=launch method=%s bin=%q token=%q", s.name, s.bin, ds.InstanceToken)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start trainer: %w", err)
	}

	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		line := sc.Text()
		m := stepRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		cur, _ := strconv.Atoi(m[1])
		total, _ := strconv.Atoi(m[2])
		if total > 0 && progress != nil {
			progress(float64(cur)/float64(total), fmt.Sprintf("Training step %d/%d", cur, total))
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if tail := stderrTail.String(); tail != "" {
			return fmt.Errorf("trainer failed: %w: %s", err, tail)
		}
		return fmt.Errorf("trainer failed: %w", err)
	}
	return nil
}

// tailBuffer keeps the final chunk of writes for error reporting.
type tailBuffer struct {
	buf []byte
}

const tailMax = 2048

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > tailMax {
		t.buf = t.buf[len(t.buf)-tailMax:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return strings.TrimSpace(string(t.buf)) }
