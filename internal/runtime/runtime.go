package runtime

import "context"

// Device is the compute device class a pipeline is placed on.
type Device string

const (
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

// Precision is the numeric precision a pipeline runs at.
type Precision string

const (
	PrecisionFloat32 Precision = "float32"
	PrecisionFloat16 Precision = "float16"
)

// PrecisionFor returns the conventional precision for a device class.
func PrecisionFor(d Device) Precision {
	if d == DeviceCUDA {
		return PrecisionFloat16
	}
	return PrecisionFloat32
}

// LoadOpts captures placement and memory-optimization flags applied at load.
type LoadOpts struct {
	Device    Device
	Precision Precision
	// AttentionSlicing trades speed for a smaller attention memory footprint.
	AttentionSlicing bool
	// MemoryEfficientAttention requests an accelerator-specific optimization
	// (xformers-style). Runtimes that cannot provide it must fail the load
	// with an optimization-unsupported error so the caller can retry with
	// attention slicing instead.
	MemoryEfficientAttention bool
}

// GenerateParams are the inputs of one txt2img pass.
type GenerateParams struct {
	Prompt            string
	NumInferenceSteps int
	GuidanceScale     float64
	Width             int
	Height            int
	// Seed pins the sampler RNG; nil means the runtime picks entropy and the
	// output is intentionally non-reproducible.
	Seed *int64
}

// Pipeline is a loaded, device-resident, ready-to-run model instance.
// Implementations must return when the context is canceled.
type Pipeline interface {
	// ModelID reports the identifier the pipeline was loaded from.
	ModelID() string
	// Generate runs one denoising pass and returns encoded PNG bytes.
	Generate(ctx context.Context, p GenerateParams) ([]byte, error)
	// Close releases device memory held by the pipeline.
	Close() error
}

// PipelineRuntime abstracts the model runtime used by the cache. Concrete
// implementations: the subprocess-backed diffusion worker and an in-process
// deterministic stub for default builds and tests.
type PipelineRuntime interface {
	// Load places the model on the device with the given options. modelPath
	// is the local artifact directory when one exists, empty for hub ids.
	Load(ctx context.Context, modelID, modelPath string, opts LoadOpts) (Pipeline, error)
}

// optimizationUnsupportedError signals that a requested memory optimization
// is not available on the current runtime.
type optimizationUnsupportedError struct{ opt string }

func (e optimizationUnsupportedError) Error() string {
	return "optimization unsupported on this runtime: " + e.opt
}

// ErrOptimizationUnsupported constructs an optimizationUnsupportedError.
func ErrOptimizationUnsupported(opt string) error {
	return optimizationUnsupportedError{opt: opt}
}

// IsOptimizationUnsupported reports whether err indicates the runtime cannot
// apply a requested memory optimization.
func IsOptimizationUnsupported(err error) bool {
	_, ok := err.(optimizationUnsupportedError)
	return ok
}
