// Package manager owns the model cache and generation execution. It is
// structured into small files by concern:
//
//   - manager.go: core Manager type, constructor, simple getters.
//   - config.go: ManagerConfig and package defaults.
//   - types.go: the ModelHandle cache entry.
//   - errors.go: error types and helpers (IsModelLoad, IsGeneration, ...).
//   - acquire.go: cache lookup, per-identifier load locking, fallback retry.
//   - generate.go: the generation executor and its operating-range checks.
//   - evict.go: EvictAll and the optional LRU bound.
//   - events.go: lifecycle event publishing.
//   - metrics.go: Prometheus collectors for loads and generations.
//
// The actual model runtime (device placement, denoising) lives behind
// runtime.PipelineRuntime; the manager only decides what to load, when, and
// with which memory-optimization flags.
//
// External packages should use public methods only (NewWithConfig, Acquire,
// Generate, EvictAll, Count). Internal types are subject to change.
package manager
