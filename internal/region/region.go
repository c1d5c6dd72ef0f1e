// Package region implements the RegionManager described in spec.md §4.2:
// epoch-versioned, refcounted bump-arena regions for crystal values.
//
// Grounded on the teacher's deleted internal/runtime/region_alloc.go
// (RegionID/RegionHeader/Region/RegionAllocator shape), simplified: no
// buddy-free-lists, NUMA hints, or observer hooks, and adding the epoch
// field the original lacked (see DESIGN.md). Pages are real mmap'd anonymous
// mappings (github.com/edsrzf/mmap-go) rather than make([]byte), and page
// size defaults to the host's actual page size via golang.org/x/sys/unix.
package region

import (
	"errors"
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"

	"github.com/lattice-lang/lattice/internal/value"
)

// ID identifies a region; the zero value is the "none" sentinel used by
// heap-backed (non-arena) LatValues (value.NoRegion).
type ID = value.RegionID

const NoRegion = value.NoRegion

// MinPageSize is the floor spec §4.2 requires ("default page size fixed ≥ 4
// KiB"); the manager uses the larger of this and the host's real page size.
const MinPageSize = 4 * 1024

const alignment = 8

var ErrOOM = errors.New("region: host out of memory")

func alignUp(n int) int {
	return (n + alignment - 1) &^ (alignment - 1)
}

// page is one chained bump-arena page backing a Region.
type page struct {
	backing mmap.MMap
	used    int
}

func newPage(size int) (*page, error) {
	m, err := mmap.MapRegion(nil, size, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, ErrOOM
	}
	return &page{backing: m}, nil
}

// Region is a bump-arena-backed container for the transitive memory of one
// or more crystal values, versioned by epoch (spec §4.2 / GLOSSARY).
type Region struct {
	id         ID
	epoch      uint64
	refCount   int64 // atomic
	mu         sync.Mutex
	pages      []*page
	oversize   []*page // dedicated pages for single allocations > page size
	totalBytes int64   // atomic
	pageSize   int
}

func (r *Region) ID() ID         { return r.id }
func (r *Region) Epoch() uint64  { return r.epoch }
func (r *Region) RefCount() int64 { return atomic.LoadInt64(&r.refCount) }
func (r *Region) TotalBytes() int64 { return atomic.LoadInt64(&r.totalBytes) }

// Alloc bump-allocates size bytes, 8-byte aligned, growing pages as needed;
// requests larger than a page get a dedicated oversize page.
func (r *Region) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		size = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if size > r.pageSize {
		p, err := newPage(size)
		if err != nil {
			return nil, err
		}
		r.oversize = append(r.oversize, p)
		p.used = size
		atomic.AddInt64(&r.totalBytes, int64(size))
		return p.backing[:size], nil
	}

	if len(r.pages) == 0 {
		p, err := newPage(r.pageSize)
		if err != nil {
			return nil, err
		}
		r.pages = append(r.pages, p)
	}
	last := r.pages[len(r.pages)-1]
	start := alignUp(last.used)
	if start+size > len(last.backing) {
		p, err := newPage(r.pageSize)
		if err != nil {
			return nil, err
		}
		r.pages = append(r.pages, p)
		last = p
		start = 0
	}
	last.used = start + size
	atomic.AddInt64(&r.totalBytes, int64(size))
	return last.backing[start : start+size], nil
}

// Calloc is Alloc with the zeroed-memory guarantee made explicit; mmap's
// anonymous mappings are already zero-filled, so this differs from Alloc
// only in naming, matching the distinction spec §4.2 draws between
// arena_alloc and arena_calloc.
func (r *Region) Calloc(size int) ([]byte, error) { return r.Alloc(size) }

// Strdup copies s into the region and returns the arena-backed bytes.
func (r *Region) Strdup(s string) ([]byte, error) {
	buf, err := r.Alloc(len(s))
	if err != nil {
		return nil, err
	}
	copy(buf, s)
	return buf, nil
}

func (r *Region) unmapAll() {
	for _, p := range r.pages {
		_ = p.backing.Unmap()
	}
	for _, p := range r.oversize {
		_ = p.backing.Unmap()
	}
	r.pages = nil
	r.oversize = nil
}

// Config controls a Manager's page sizing; follows the teacher's
// functional-options idiom (internal/allocator.Config/Option).
type Config struct {
	PageSize int
}

type Option func(*Config)

func WithPageSize(n int) Option {
	return func(c *Config) { c.PageSize = n }
}

// Manager is the RegionManager of spec §4.2.
type Manager struct {
	mu          sync.RWMutex
	regions     map[ID]*Region
	nextID      uint64 // atomic
	epoch       uint64 // atomic
	pageSize    int
	totalAllocs int64 // atomic
}

// NewManager returns an empty region manager.
func NewManager(opts ...Option) *Manager {
	cfg := Config{PageSize: hostPageSize()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.PageSize < MinPageSize {
		cfg.PageSize = MinPageSize
	}
	return &Manager{regions: make(map[ID]*Region), pageSize: cfg.PageSize}
}

func hostPageSize() int {
	n := unix.Getpagesize()
	if n < MinPageSize {
		return MinPageSize
	}
	return n
}

// AdvanceEpoch increments the manager's epoch counter and returns the new
// value (strictly monotonic, invariant 5).
func (m *Manager) AdvanceEpoch() uint64 {
	return atomic.AddUint64(&m.epoch, 1)
}

// CurrentEpoch returns the epoch new regions will adopt.
func (m *Manager) CurrentEpoch() uint64 {
	return atomic.LoadUint64(&m.epoch)
}

// Create allocates a fresh region at the manager's current epoch, with an
// initial ref_count of 1 held by the caller.
func (m *Manager) Create() *Region {
	id := ID(atomic.AddUint64(&m.nextID, 1))
	r := &Region{id: id, epoch: m.CurrentEpoch(), refCount: 1, pageSize: m.pageSize}
	m.mu.Lock()
	m.regions[id] = r
	atomic.AddInt64(&m.totalAllocs, 1)
	m.mu.Unlock()
	return r
}

// AllocateData creates a region and copies bytes into it in one step,
// returning the region's id.
func (m *Manager) AllocateData(data []byte) (ID, error) {
	r := m.Create()
	buf, err := r.Alloc(len(data))
	if err != nil {
		return NoRegion, err
	}
	copy(buf, data)
	return r.id, nil
}

// Get returns the region for id, or nil if it has been collected.
func (m *Manager) Get(id ID) *Region {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.regions[id]
}

// Retain increments id's ref_count; a no-op if id is unknown (already
// collected).
func (m *Manager) Retain(id ID) {
	m.mu.RLock()
	r, ok := m.regions[id]
	m.mu.RUnlock()
	if ok {
		atomic.AddInt64(&r.refCount, 1)
	}
}

// Release decrements id's ref_count, making the region eligible for the next
// Collect once it reaches zero (invariant in spec §4.2). A no-op if id is
// unknown.
func (m *Manager) Release(id ID) {
	m.mu.RLock()
	r, ok := m.regions[id]
	m.mu.RUnlock()
	if ok {
		atomic.AddInt64(&r.refCount, -1)
	}
}

// Collect frees every region whose id is absent from reachable and whose
// ref_count is zero, returning the count freed (spec §4.2, invariant 4).
func (m *Manager) Collect(reachable mapset.Set[ID]) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	freed := 0
	for id, r := range m.regions {
		if reachable != nil && reachable.Contains(id) {
			continue
		}
		if atomic.LoadInt64(&r.refCount) != 0 {
			continue
		}
		r.unmapAll()
		delete(m.regions, id)
		freed++
	}
	return freed
}

// Count returns the number of live regions, for tests and diagnostics.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.regions)
}
