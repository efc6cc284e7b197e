package manager

import (
	"context"
	"fmt"
	"log"
	"time"

	"diffusiond/internal/runtime"
)

// Operating ranges for the generation executor. Values outside these bounds
// are rejected, never clamped; the transport boundary validates first, this
// is the backstop.
const (
	MinSteps    = 1
	MaxSteps    = 150
	MinGuidance = 1.0
	MaxGuidance = 20.0
	MinSize     = 256
	MaxSize     = 1024
)

// Image is one generation result.
type Image struct {
	// PNG-encoded bytes.
	PNG []byte
	// ModelID reports the model actually used, which differs from the
	// requested one after a fallback substitution in Acquire.
	ModelID string
	// Duration is the wall-clock generation time.
	Duration time.Duration
}

// Generate runs one txt2img pass on the given handle. With a seed the output
// is bit-identical across calls on the same device/precision configuration;
// without one it is intentionally non-deterministic. The handle's persistent
// state is not mutated.
func (m *Manager) Generate(ctx context.Context, h *ModelHandle, p runtime.GenerateParams) (Image, error) {
	if h == nil || h.pipeline == nil {
		return Image{}, generationError{modelID: "(nil)", cause: fmt.Errorf("nil model handle")}
	}
	if err := checkParams(p); err != nil {
		return Image{}, err
	}

	start := time.Now()
	png, err := h.pipeline.Generate(ctx, p)
	dur := time.Since(start)
	if err != nil {
		log.Printf("manager event=generate_error model=%q err=%v", h.ModelID, err)
		m.publisher.Publish(Event{Name: "generate_error", ModelID: h.ModelID, Fields: map[string]any{"error": err.Error()}})
		return Image{}, generationError{modelID: h.ModelID, cause: err}
	}

	generationsTotal.Inc()
	generationDuration.Observe(dur.Seconds())
	m.publisher.Publish(Event{Name: "generate_done", ModelID: h.ModelID, Fields: map[string]any{"dur_ms": int(dur / time.Millisecond)}})
	return Image{PNG: png, ModelID: h.ModelID, Duration: dur}, nil
}

func checkParams(p runtime.GenerateParams) error {
	if p.Prompt == "" {
		return invalidParamsError{msg: "prompt is empty"}
	}
	if p.NumInferenceSteps < MinSteps || p.NumInferenceSteps > MaxSteps {
		return invalidParamsError{msg: fmt.Sprintf("num_inference_steps %d outside [%d,%d]", p.NumInferenceSteps, MinSteps, MaxSteps)}
	}
	if p.GuidanceScale < MinGuidance || p.GuidanceScale > MaxGuidance {
		return invalidParamsError{msg: fmt.Sprintf("guidance_scale %g outside [%g,%g]", p.GuidanceScale, MinGuidance, MaxGuidance)}
	}
	if p.Width < MinSize || p.Width > MaxSize {
		return invalidParamsError{msg: fmt.Sprintf("width %d outside [%d,%d]", p.Width, MinSize, MaxSize)}
	}
	if p.Height < MinSize || p.Height > MaxSize {
		return invalidParamsError{msg: fmt.Sprintf("height %d outside [%d,%d]", p.Height, MinSize, MaxSize)}
	}
	return nil
}
