package runtime

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	mathrand "math/rand"
	"sync/atomic"
)

// StubRuntime is an in-process PipelineRuntime with no torch dependency. It
// renders procedurally generated images: worthless as art, but load/generate
// behavior (including seeded determinism) matches the real worker closely
// enough for default builds and tests.
type StubRuntime struct {
	// Known restricts loadable hub ids when non-nil. Local artifact paths
	// always load. Used by tests to provoke load failures.
	Known map[string]bool
	// RejectMemoryEfficientAttention makes Load fail the xformers-style
	// optimization, forcing callers down the attention-slicing retry path.
	RejectMemoryEfficientAttention bool
}

// NewStubRuntime returns a stub that loads any model identifier.
func NewStubRuntime() *StubRuntime { return &StubRuntime{} }

// NewStubRuntimeWithModels returns a stub that only loads the given hub ids.
func NewStubRuntimeWithModels(ids ...string) *StubRuntime {
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	return &StubRuntime{Known: known}
}

func (r *StubRuntime) Load(ctx context.Context, modelID, modelPath string, opts LoadOpts) (Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.MemoryEfficientAttention && r.RejectMemoryEfficientAttention {
		return nil, ErrOptimizationUnsupported("memory-efficient attention")
	}
	if modelPath == "" && r.Known != nil && !r.Known[modelID] {
		return nil, fmt.Errorf("model %q not found", modelID)
	}
	return &stubPipeline{modelID: modelID, opts: opts}, nil
}

type stubPipeline struct {
	modelID string
	opts    LoadOpts
	closed  atomic.Bool
}

func (p *stubPipeline) ModelID() string { return p.modelID }

func (p *stubPipeline) Generate(ctx context.Context, gp GenerateParams) ([]byte, error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("pipeline %q is closed", p.modelID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seed, err := p.effectiveSeed(gp)
	if err != nil {
		return nil, err
	}
	rng := mathrand.New(mathrand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, gp.Width, gp.Height))
	for y := 0; y < gp.Height; y++ {
		for x := 0; x < gp.Width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func (p *stubPipeline) Close() error {
	p.closed.Store(true)
	return nil
}

// effectiveSeed folds model id, prompt and parameters into the sampler seed
// so that, like a real diffusion pipeline, every input influences the output
// while a fixed seed keeps it bit-identical.
func (p *stubPipeline) effectiveSeed(gp GenerateParams) (int64, error) {
	h := fnv.New64a()
	h.Write([]byte(p.modelID))
	h.Write([]byte{0})
	h.Write([]byte(p.opts.Precision))
	h.Write([]byte{0})
	h.Write([]byte(gp.Prompt))
	var fixed [28]byte
	binary.LittleEndian.PutUint32(fixed[0:], uint32(gp.NumInferenceSteps))
	binary.LittleEndian.PutUint64(fixed[4:], uint64(int64(gp.GuidanceScale*1000)))
	binary.LittleEndian.PutUint32(fixed[12:], uint32(gp.Width))
	binary.LittleEndian.PutUint32(fixed[16:], uint32(gp.Height))
	if gp.Seed != nil {
		binary.LittleEndian.PutUint64(fixed[20:], uint64(*gp.Seed))
	} else {
		var entropy [8]byte
		if _, err := rand.Read(entropy[:]); err != nil {
			return 0, fmt.Errorf("entropy: %w", err)
		}
		copy(fixed[20:], entropy[:])
	}
	h.Write(fixed[:])
	return int64(h.Sum64()), nil
}
