package manager

import (
	"time"

	"diffusiond/internal/runtime"
)

// ModelHandle is a loaded, ready-to-run model instance. Handles are owned
// exclusively by the Manager: callers borrow them for generation and must not
// retain them across an EvictAll.
type ModelHandle struct {
	// ModelID is the identifier the handle was loaded from. After a fallback
	// substitution this is the fallback id, not the originally requested one.
	ModelID string
	// Device and Precision record placement chosen at load time.
	Device    runtime.Device
	Precision runtime.Precision
	// Optimizations lists the memory optimizations actually applied.
	Optimizations []string

	LoadedAt time.Time
	lastUsed time.Time

	pipeline runtime.Pipeline
}
