package manager

import "fmt"

// modelLoadError signals a load that failed after exhausting the single
// fallback attempt.
type modelLoadError struct {
	id    string
	cause error
}

func (e modelLoadError) Error() string {
	return fmt.Sprintf("failed to load model %s: %v", e.id, e.cause)
}

func (e modelLoadError) Unwrap() error { return e.cause }

// ErrModelLoad constructs a modelLoadError.
func ErrModelLoad(id string, cause error) error { return modelLoadError{id: id, cause: cause} }

// IsModelLoad reports whether err indicates a model load failure.
func IsModelLoad(err error) bool {
	_, ok := err.(modelLoadError)
	return ok
}

// generationError signals that the compute step itself raised.
type generationError struct {
	modelID string
	cause   error
}

func (e generationError) Error() string {
	return fmt.Sprintf("generation failed on model %s: %v", e.modelID, e.cause)
}

func (e generationError) Unwrap() error { return e.cause }

// IsGeneration reports whether err came from the generation compute step.
func IsGeneration(err error) bool {
	_, ok := err.(generationError)
	return ok
}

// invalidParamsError signals a generation parameter outside the documented
// operating range. The executor never clamps; it rejects.
type invalidParamsError struct{ msg string }

func (e invalidParamsError) Error() string { return "invalid generation parameters: " + e.msg }

// IsInvalidParams reports whether err indicates an out-of-range parameter.
func IsInvalidParams(err error) bool {
	_, ok := err.(invalidParamsError)
	return ok
}
