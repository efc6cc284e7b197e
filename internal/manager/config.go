package manager

import (
	"diffusiond/internal/runtime"
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	// Runtime loads pipelines; required.
	Runtime runtime.PipelineRuntime
	// Device selects placement and the memory-optimization strategy.
	Device runtime.Device
	// FallbackModel is loaded when a requested model fails to load. A load
	// failure of the fallback itself is final: no further retry.
	FallbackModel string
	// MaxResident bounds the number of cached handles; 0 means unbounded,
	// matching the historical behavior of clearing only on EvictAll.
	MaxResident int
	// ResolvePath maps a model identifier to a local artifact directory,
	// empty for hub ids. Optional.
	ResolvePath func(modelID string) string
	// Publisher receives lifecycle events. Optional.
	Publisher EventPublisher
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		runtime:       cfg.Runtime,
		device:        cfg.Device,
		fallbackModel: cfg.FallbackModel,
		maxResident:   cfg.MaxResident,
		resolvePath:   cfg.ResolvePath,
		publisher:     cfg.Publisher,
		handles:       make(map[string]*ModelHandle),
		loadLocks:     make(map[string]*loadLock),
	}
	if m.device == "" {
		m.device = runtime.DeviceCPU
	}
	if m.resolvePath == nil {
		m.resolvePath = func(string) string { return "" }
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	return m
}
