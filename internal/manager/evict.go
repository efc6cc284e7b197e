package manager

import (
	"log"
	"time"
)

// EvictAll drops every handle and releases their device memory. Idempotent
// on an empty cache. Handles obtained before the call must not be reused.
func (m *Manager) EvictAll() {
	m.mu.Lock()
	dropped := make([]*ModelHandle, 0, len(m.handles))
	for _, h := range m.handles {
		dropped = append(dropped, h)
	}
	m.handles = make(map[string]*ModelHandle)
	m.mu.Unlock()

	for _, h := range dropped {
		if err := h.pipeline.Close(); err != nil {
			log.Printf("manager event=evict_close_error model=%q err=%v", h.ModelID, err)
		}
		m.publisher.Publish(Event{Name: "evicted", ModelID: h.ModelID, Fields: map[string]any{}})
	}
	if len(dropped) > 0 {
		log.Printf("manager event=evict_all count=%d", len(dropped))
	}
	modelsLoaded.Set(0)
	evictionsTotal.Add(float64(len(dropped)))
}

// evictOldestLocked removes the least-recently-used handle. Caller holds mu.
func (m *Manager) evictOldestLocked() {
	var lru *ModelHandle
	var lruAt time.Time
	for _, h := range m.handles {
		if lru == nil || h.lastUsed.Before(lruAt) {
			lru = h
			lruAt = h.lastUsed
		}
	}
	if lru == nil {
		return
	}
	delete(m.handles, lru.ModelID)
	// Close outside the lock would be nicer, but insert holds mu for the
	// whole admission decision; pipeline Close must tolerate being called
	// while other handles serve traffic.
	_ = lru.pipeline.Close()
	evictionsTotal.Inc()
	log.Printf("manager event=evict_lru model=%q", lru.ModelID)
	m.publisher.Publish(Event{Name: "evict_lru", ModelID: lru.ModelID, Fields: map[string]any{}})
}
