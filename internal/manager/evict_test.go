package manager

import (
	"context"
	"testing"

	"diffusiond/internal/runtime"
)

func TestEvictAllDropsEverything(t *testing.T) {
	m := newTestManager(runtime.NewStubRuntime(), "")
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := m.Acquire(ctx, id); err != nil {
			t.Fatalf("acquire %s: %v", id, err)
		}
	}
	if m.Count() != 3 {
		t.Fatalf("expected 3 residents, got %d", m.Count())
	}
	m.EvictAll()
	if m.Count() != 0 {
		t.Fatalf("expected empty cache, got %d", m.Count())
	}
	// Idempotent on an empty cache.
	m.EvictAll()
	if m.Count() != 0 {
		t.Fatalf("expected empty cache after second EvictAll")
	}
}

func TestEvictAllInvalidatesHandles(t *testing.T) {
	m := newTestManager(runtime.NewStubRuntime(), "")
	h, err := m.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	m.EvictAll()
	if _, err := m.Generate(context.Background(), h, validParams()); err == nil {
		t.Fatalf("expected generation on evicted handle to fail")
	}
	// A re-acquire loads a fresh handle.
	h2, err := m.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if h2 == h {
		t.Fatalf("expected a fresh handle after eviction")
	}
}

func TestBoundedCacheEvictsLRU(t *testing.T) {
	m := NewWithConfig(ManagerConfig{
		Runtime:     runtime.NewStubRuntime(),
		Device:      runtime.DeviceCPU,
		MaxResident: 2,
	})
	ctx := context.Background()
	if _, err := m.Acquire(ctx, "a"); err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	if _, err := m.Acquire(ctx, "b"); err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	// Touch a so b becomes the LRU entry.
	if _, err := m.Acquire(ctx, "a"); err != nil {
		t.Fatalf("touch a: %v", err)
	}
	if _, err := m.Acquire(ctx, "c"); err != nil {
		t.Fatalf("acquire c: %v", err)
	}
	got := m.ResidentModels()
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("expected [a c], got %v", got)
	}
}

func TestUnboundedCacheNeverEvicts(t *testing.T) {
	m := newTestManager(runtime.NewStubRuntime(), "")
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		if _, err := m.Acquire(ctx, id); err != nil {
			t.Fatalf("acquire %s: %v", id, err)
		}
	}
	if m.Count() != 5 {
		t.Fatalf("expected 5 residents, got %d", m.Count())
	}
}
