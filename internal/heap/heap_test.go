package heap

import (
	"testing"

	"github.com/lattice-lang/lattice/internal/testrunner/assert"
)

func TestAllocIncrementsCounters(t *testing.T) {
	h := New()
	before := h.LiveCount()
	ptr, ok := h.Alloc(16)
	assert.True(t, ok)
	assert.Equal(t, before+1, h.LiveCount())
	assert.Equal(t, int64(16), h.TotalBytes())
	assert.True(t, h.Readable(ptr))
}

func TestDeallocDecrementsCountersOnlyForTrackedPointer(t *testing.T) {
	h := New()
	ptr, _ := h.Alloc(32)
	ok := h.Dealloc(9999) // untracked
	assert.False(t, ok)
	assert.Equal(t, int64(1), h.LiveCount())

	ok = h.Dealloc(ptr)
	assert.True(t, ok)
	assert.Equal(t, int64(0), h.LiveCount())
	assert.Equal(t, int64(0), h.TotalBytes())
}

// TestMarkSweepScenario implements spec §8 scenario 6: allocate three fluid
// objects, mark only the first and third, sweep — returns 1, and afterward
// live_count = 2 with total_bytes equal to the sum of the survivors.
func TestMarkSweepScenario(t *testing.T) {
	h := New()
	a, _ := h.Alloc(10)
	b, _ := h.Alloc(20)
	c, _ := h.Alloc(30)

	h.UnmarkAll()
	h.Mark(a)
	h.Mark(c)
	freed := h.Sweep()

	assert.Equal(t, 1, freed)
	assert.Equal(t, int64(2), h.LiveCount())
	assert.Equal(t, int64(40), h.TotalBytes())
	assert.True(t, h.Readable(a))
	assert.True(t, h.Readable(c))
	assert.False(t, h.Readable(b))
}

func TestUnmarkedAllocUntouchedByDeallocOfOtherPointer(t *testing.T) {
	h := New()
	a, _ := h.Alloc(8)
	before := h.TotalBytes()
	h.Dealloc(a + 1) // not a tracked key
	assert.Equal(t, before, h.TotalBytes())
}
