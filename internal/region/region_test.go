package region

import (
	"testing"
	"unsafe"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/lattice-lang/lattice/internal/testrunner/assert"
)

func uintptrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}

func TestEpochMonotonic(t *testing.T) {
	m := NewManager()
	e0 := m.CurrentEpoch()
	e1 := m.AdvanceEpoch()
	e2 := m.AdvanceEpoch()
	assert.True(t, e1 > e0)
	assert.True(t, e2 > e1)
}

func TestCreateAdoptsCurrentEpoch(t *testing.T) {
	m := NewManager()
	m.AdvanceEpoch()
	r := m.Create()
	assert.Equal(t, m.CurrentEpoch(), r.Epoch())
}

func TestAllocAlignment(t *testing.T) {
	m := NewManager()
	r := m.Create()
	a, err := r.Alloc(1)
	assert.NoError(t, err)
	b, err := r.Alloc(1)
	assert.NoError(t, err)
	// Consecutive 1-byte requests must be separated by >= 8 bytes
	// (invariant 6): the backing pages are real mmap regions, so compare
	// offsets via the returned slice headers' relative positions.
	off := int(uintptrOf(b) - uintptrOf(a))
	assert.True(t, off >= alignment)
}

func TestCollectFreesUnreachableZeroRefRegions(t *testing.T) {
	m := NewManager()
	a := m.Create()
	b := m.Create()
	c := m.Create()

	m.Release(a.ID()) // ref_count 1 -> 0, eligible
	// b stays at ref_count 1 (never released): survives regardless of reachable set
	m.Release(c.ID())

	reachable := mapset.NewSet[ID](c.ID())
	freed := m.Collect(reachable)

	assert.Equal(t, 1, freed) // only 'a': unreachable and ref_count 0
	assert.Equal(t, 2, m.Count())
	assert.NotNil(t, m.Get(b.ID()))
	assert.NotNil(t, m.Get(c.ID()))
	assert.Nil(t, m.Get(a.ID()))
}

func TestArenaStrdup(t *testing.T) {
	m := NewManager()
	r := m.Create()
	buf, err := r.Strdup("hello")
	assert.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}
