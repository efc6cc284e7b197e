package manager

import (
	"sort"
	"sync"

	"diffusiond/internal/runtime"
)

// Manager keeps at most one warm pipeline per model identifier and is the
// sole gate on device memory: loads go through Acquire, releases through
// EvictAll (or LRU eviction when a bound is configured).
type Manager struct {
	runtime       runtime.PipelineRuntime
	device        runtime.Device
	fallbackModel string
	maxResident   int
	resolvePath   func(modelID string) string
	publisher     EventPublisher

	mu      sync.RWMutex
	handles map[string]*ModelHandle

	// loadLocks serializes cold loads per identifier so concurrent callers
	// racing on the same uncached model share one load.
	lockMu    sync.Mutex
	loadLocks map[string]*loadLock
}

type loadLock struct {
	mu   sync.Mutex
	refs int
}

// Count reports the number of resident handles, for observability only.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}

// Device reports the device class handles are placed on.
func (m *Manager) Device() runtime.Device { return m.device }

// ResidentModels lists cached model identifiers, sorted.
func (m *Manager) ResidentModels() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.handles))
	for id := range m.handles {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
