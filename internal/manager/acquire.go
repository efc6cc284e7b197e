package manager

import (
	"context"
	"log"
	"time"

	"diffusiond/internal/runtime"
)

// Acquire returns the cached handle for modelID, loading it on miss. On load
// failure of a non-fallback id it retries exactly once with the configured
// fallback model; the returned handle then reports the fallback id. A load
// failure of the fallback itself fails the call with a load error.
func (m *Manager) Acquire(ctx context.Context, modelID string) (*ModelHandle, error) {
	if h := m.lookup(modelID); h != nil {
		return h, nil
	}

	// Serialize cold loads per identifier: late callers block here and pick
	// up the winner's handle instead of double-loading a multi-GB model.
	lk := m.acquireLoadLock(modelID)
	defer m.releaseLoadLock(modelID, lk)
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if h := m.lookup(modelID); h != nil {
		return h, nil
	}

	h, err := m.load(ctx, modelID)
	if err != nil {
		loadFailuresTotal.Inc()
		if modelID == m.fallbackModel || m.fallbackModel == "" {
			return nil, ErrModelLoad(modelID, err)
		}
		log.Printf("manager event=load_fallback model=%q fallback=%q err=%v", modelID, m.fallbackModel, err)
		m.publisher.Publish(Event{Name: "load_fallback", ModelID: modelID, Fields: map[string]any{"fallback": m.fallbackModel, "error": err.Error()}})
		fh, ferr := m.Acquire(ctx, m.fallbackModel)
		if ferr != nil {
			return nil, ErrModelLoad(modelID, err)
		}
		return fh, nil
	}

	m.insert(h)
	return h, nil
}

// lookup returns the cached handle and refreshes its last-use time.
func (m *Manager) lookup(modelID string) *ModelHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.handles[modelID]
	if h != nil {
		h.lastUsed = time.Now()
	}
	return h
}

// load places the model on the device with the memory-optimization strategy
// for the device class: attention slicing on CPU; memory-efficient attention
// on an accelerator, downgrading to attention slicing when the runtime does
// not support it.
func (m *Manager) load(ctx context.Context, modelID string) (*ModelHandle, error) {
	start := time.Now()
	log.Printf("manager event=load_start model=%q device=%s", modelID, m.device)
	m.publisher.Publish(Event{Name: "load_start", ModelID: modelID, Fields: map[string]any{"device": string(m.device)}})

	opts := runtime.LoadOpts{
		Device:    m.device,
		Precision: runtime.PrecisionFor(m.device),
	}
	applied := "attention_slicing"
	if m.device == runtime.DeviceCPU {
		opts.AttentionSlicing = true
	} else {
		opts.MemoryEfficientAttention = true
		applied = "memory_efficient_attention"
	}

	modelPath := m.resolvePath(modelID)
	pipe, err := m.runtime.Load(ctx, modelID, modelPath, opts)
	if err != nil && runtime.IsOptimizationUnsupported(err) {
		log.Printf("manager event=load_opt_fallback model=%q", modelID)
		opts.MemoryEfficientAttention = false
		opts.AttentionSlicing = true
		applied = "attention_slicing"
		pipe, err = m.runtime.Load(ctx, modelID, modelPath, opts)
	}
	if err != nil {
		log.Printf("manager event=load_error model=%q err=%v", modelID, err)
		m.publisher.Publish(Event{Name: "load_error", ModelID: modelID, Fields: map[string]any{"error": err.Error()}})
		return nil, err
	}

	now := time.Now()
	h := &ModelHandle{
		ModelID:       modelID,
		Device:        opts.Device,
		Precision:     opts.Precision,
		Optimizations: []string{applied},
		LoadedAt:      now,
		lastUsed:      now,
		pipeline:      pipe,
	}
	loadsTotal.Inc()
	log.Printf("manager event=load_ready model=%q dur_ms=%d opt=%s", modelID, time.Since(start)/time.Millisecond, applied)
	m.publisher.Publish(Event{Name: "load_ready", ModelID: modelID, Fields: map[string]any{"dur_ms": int(time.Since(start) / time.Millisecond), "opt": applied}})
	return h, nil
}

// insert commits a freshly loaded handle. An identifier never overwrites an
// existing entry; if a racing loader won, the incoming pipeline is released.
func (m *Manager) insert(h *ModelHandle) {
	m.mu.Lock()
	if _, exists := m.handles[h.ModelID]; exists {
		m.mu.Unlock()
		_ = h.pipeline.Close()
		return
	}
	if m.maxResident > 0 {
		for len(m.handles) >= m.maxResident {
			m.evictOldestLocked()
		}
	}
	m.handles[h.ModelID] = h
	n := len(m.handles)
	m.mu.Unlock()
	modelsLoaded.Set(float64(n))
}

func (m *Manager) acquireLoadLock(modelID string) *loadLock {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	lk := m.loadLocks[modelID]
	if lk == nil {
		lk = &loadLock{}
		m.loadLocks[modelID] = lk
	}
	lk.refs++
	return lk
}

func (m *Manager) releaseLoadLock(modelID string, lk *loadLock) {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	lk.refs--
	if lk.refs <= 0 {
		delete(m.loadLocks, modelID)
	}
}
