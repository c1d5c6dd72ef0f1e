package alloc

import (
	"testing"

	"github.com/lattice-lang/lattice/internal/heap"
	"github.com/lattice-lang/lattice/internal/region"
	"github.com/lattice-lang/lattice/internal/testrunner/assert"
	"github.com/lattice-lang/lattice/internal/value"
)

func TestDestinationRouting(t *testing.T) {
	var ctx Context
	assert.Equal(t, DestSystem, ctx.Destination())

	ctx.Fluid = heap.New()
	assert.Equal(t, DestFluid, ctx.Destination())

	mgr := region.NewManager()
	r := mgr.Create()
	restore := EnterArena(&ctx, r)
	assert.Equal(t, DestArena, ctx.Destination())
	restore()
	assert.Equal(t, DestFluid, ctx.Destination())
}

func TestFreezeTagsEveryNodeCrystalAndRegion(t *testing.T) {
	var ctx Context
	mgr := region.NewManager()

	a := value.Array(value.Int(1), value.Int(2), value.Int(3))
	a.Phase = value.FLUID

	frozen, err := Freeze(&ctx, mgr, a)
	assert.NoError(t, err)
	assert.Equal(t, value.CRYSTAL, frozen.Phase)
	assert.True(t, frozen.Region != value.NoRegion)

	frozen.Data.(*value.ArrayData).Elems.ForEach(func(_ int, e value.LatValue) {
		assert.Equal(t, value.CRYSTAL, e.Phase)
		assert.Equal(t, frozen.Region, e.Region)
	})

	// ctx.Arena must be restored (nil) after Freeze returns.
	assert.Nil(t, ctx.Arena)
}

func TestThawReleasesSourceRegion(t *testing.T) {
	var ctx Context
	mgr := region.NewManager()
	a := value.Array(value.Int(1))
	frozen, _ := Freeze(&ctx, mgr, a)

	r := mgr.Get(frozen.Region)
	assert.NotNil(t, r)
	before := r.RefCount()

	thawed := Thaw(&ctx, mgr, frozen)
	assert.Equal(t, value.FLUID, thawed.Phase)
	assert.Equal(t, before-1, r.RefCount())
}
