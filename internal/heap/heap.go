// Package heap implements the fluid heap (spec.md §4.1): a mark-and-sweep
// tracked allocator for fluid values. Design Note §9 recommends replacing
// the original's intrusive linked list of allocation records with a hash set
// keyed by pointer address; that is what Records below is, following the
// same map-tracked-allocation shape as the teacher's
// internal/allocator.SystemAllocatorImpl.
package heap

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// Config mirrors the teacher's functional-options pattern in
// internal/allocator/allocator.go.
type Config struct {
	GCThreshold int64 // total_bytes watermark past which callers should sweep
}

type Option func(*Config)

// WithGCThreshold sets the byte threshold at which a caller should trigger a
// mark-sweep pass. Zero (the default) means no automatic threshold signal.
func WithGCThreshold(bytes int64) Option {
	return func(c *Config) { c.GCThreshold = bytes }
}

type record struct {
	bytes  []byte
	marked bool
}

// FluidHeap tracks every live fluid allocation so sweep() can free orphans
// and the host can account for bytes live.
type FluidHeap struct {
	mu         sync.RWMutex
	records    map[uintptr]*record
	liveCount  int64
	totalBytes int64
	cfg        Config
}

// New returns an empty fluid heap.
func New(opts ...Option) *FluidHeap {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &FluidHeap{records: make(map[uintptr]*record), cfg: cfg}
}

// Alloc reserves size bytes and returns an opaque pointer identity; it fails
// by returning (0, false) only if size cannot be satisfied by the host
// allocator (out of memory), per spec §4.1.
func (h *FluidHeap) Alloc(size uintptr) (ptr uintptr, ok bool) {
	if size == 0 {
		size = 1
	}
	buf := make([]byte, size)
	ptr = uintptr(unsafe.Pointer(&buf[0]))

	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[ptr] = &record{bytes: buf}
	atomic.AddInt64(&h.liveCount, 1)
	atomic.AddInt64(&h.totalBytes, int64(size))
	return ptr, true
}

// Dealloc removes the record matching ptr and frees the block; deallocating
// a pointer not tracked is a no-op returning false.
func (h *FluidHeap) Dealloc(ptr uintptr) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, found := h.records[ptr]
	if !found {
		return false
	}
	delete(h.records, ptr)
	atomic.AddInt64(&h.liveCount, -1)
	atomic.AddInt64(&h.totalBytes, -int64(len(rec.bytes)))
	return true
}

// UnmarkAll clears every record's mark bit, preparing for a new mark phase.
func (h *FluidHeap) UnmarkAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, rec := range h.records {
		rec.marked = false
	}
}

// Mark flags ptr as reachable; marking an untracked pointer is a no-op.
func (h *FluidHeap) Mark(ptr uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rec, ok := h.records[ptr]; ok {
		rec.marked = true
	}
}

// Sweep frees every unmarked record and returns the count freed.
func (h *FluidHeap) Sweep() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	freed := 0
	for ptr, rec := range h.records {
		if !rec.marked {
			delete(h.records, ptr)
			atomic.AddInt64(&h.liveCount, -1)
			atomic.AddInt64(&h.totalBytes, -int64(len(rec.bytes)))
			freed++
		}
	}
	return freed
}

// LiveCount returns the number of currently tracked allocations.
func (h *FluidHeap) LiveCount() int64 { return atomic.LoadInt64(&h.liveCount) }

// TotalBytes returns the sum of all currently tracked allocation sizes.
func (h *FluidHeap) TotalBytes() int64 { return atomic.LoadInt64(&h.totalBytes) }

// Readable reports whether ptr is still a tracked, live allocation — used by
// tests to assert surviving records stay readable/writable after a sweep.
func (h *FluidHeap) Readable(ptr uintptr) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.records[ptr]
	return ok
}

// ShouldCollect reports whether TotalBytes has crossed the configured
// GCThreshold; zero threshold always reports false.
func (h *FluidHeap) ShouldCollect() bool {
	if h.cfg.GCThreshold <= 0 {
		return false
	}
	return h.TotalBytes() >= h.cfg.GCThreshold
}
