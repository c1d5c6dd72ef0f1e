package value

import (
	"math/rand"
	"testing"

	"github.com/lattice-lang/lattice/internal/testrunner/assert"
	"github.com/lattice-lang/lattice/internal/testrunner/prop"
)

func TestDeepCloneIndependence(t *testing.T) {
	arr := Array(Int(1), Int(2), Int(3))
	clone := DeepClone(arr)
	assert.True(t, Eq(arr, clone))

	// mutating the clone's backing array must not affect the original.
	clone.Data.(*ArrayData).Elems.Set(0, Int(99))
	assert.False(t, Eq(arr, clone))
	assert.Equal(t, int64(1), arr.Data.(*ArrayData).Elems.Get(0).I)
}

func TestFreezeThawRoundTrip(t *testing.T) {
	a := Array(Int(1), Int(2), Int(3))
	a.Phase = FLUID

	b := Freeze(a)
	assert.Equal(t, CRYSTAL, b.Phase)
	b.Data.(*ArrayData).Elems.ForEach(func(_ int, e LatValue) {
		assert.Equal(t, CRYSTAL, e.Phase)
	})

	c := Thaw(b)
	assert.Equal(t, FLUID, c.Phase)
	c.Data.(*ArrayData).Elems.ForEach(func(_ int, e LatValue) {
		assert.Equal(t, FLUID, e.Phase)
	})

	assert.True(t, Eq(c, a))
	assert.Equal(t, FLUID, a.Phase)
}

func TestTupleAlwaysCrystal(t *testing.T) {
	tup := Tuple(Int(1), Str("x"))
	assert.Equal(t, CRYSTAL, tup.Phase)
	for _, e := range tup.Data.(*TupleData).Elems {
		assert.Equal(t, CRYSTAL, e.Phase)
	}
}

func TestCrystalMutationStructInvariant(t *testing.T) {
	s := Struct("Point", []string{"x", "y"}, []LatValue{Int(1), Int(2)})
	frozen := Freeze(s)
	for _, fv := range frozen.Data.(*StructData).FieldValues {
		assert.Equal(t, CRYSTAL, fv.Phase)
	}
}

func TestChannelEqualityIsIdentity(t *testing.T) {
	h1 := &ChannelHandle{ID: 1}
	h2 := &ChannelHandle{ID: 1}
	a := LatValue{Kind: KindChannel, Data: &ChannelData{Handle: h1}}
	b := LatValue{Kind: KindChannel, Data: &ChannelData{Handle: h1}}
	c := LatValue{Kind: KindChannel, Data: &ChannelData{Handle: h2}}
	assert.True(t, Eq(a, b))
	assert.False(t, Eq(a, c))
}

func TestClosureEqualityAlwaysFalse(t *testing.T) {
	cl := LatValue{Kind: KindClosure, Data: &ClosureData{ParamCount: 0}}
	assert.False(t, Eq(cl, cl))
}

func TestMapEqualityStructural(t *testing.T) {
	a := NewMap()
	a.Data.(*MapData).Entries.Put("x", Int(1))
	a.Data.(*MapData).Entries.Put("y", Int(2))

	b := NewMap()
	b.Data.(*MapData).Entries.Put("y", Int(2))
	b.Data.(*MapData).Entries.Put("x", Int(1))

	assert.True(t, Eq(a, b))
}

// genLatValue produces a bounded-depth random LatValue tree for property
// checks; nesting depth is capped at 3 so generation always terminates.
func genLatValue(r *rand.Rand, size int) LatValue {
	return genLatValueDepth(r, size, 3)
}

func genLatValueDepth(r *rand.Rand, size, depth int) LatValue {
	choices := 4
	if depth > 0 {
		choices = 7
	}
	switch r.Intn(choices) {
	case 0:
		return Int(r.Int63())
	case 1:
		return Float(r.Float64())
	case 2:
		return Bool(r.Intn(2) == 0)
	case 3:
		return Str(randString(r, size%8+1))
	case 4:
		n := r.Intn(4)
		elems := make([]LatValue, n)
		for i := range elems {
			elems[i] = genLatValueDepth(r, size, depth-1)
		}
		return Array(elems...)
	case 5:
		n := r.Intn(3)
		names := make([]string, n)
		vals := make([]LatValue, n)
		for i := range vals {
			names[i] = randString(r, 4)
			vals[i] = genLatValueDepth(r, size, depth-1)
		}
		return Struct("T", names, vals)
	default:
		return Range(r.Int63n(100), r.Int63n(100))
	}
}

func randString(r *rand.Rand, n int) string {
	const letters = "abcdefghijklmnop"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[r.Intn(len(letters))]
	}
	return string(b)
}

// TestValueEqDeepCloneProperty checks invariant 7: for any value v,
// value_eq(v, value_deep_clone(v)) holds.
func TestValueEqDeepCloneProperty(t *testing.T) {
	res := prop.ForAll1(genLatValue, nil, func(v LatValue) bool {
		return Eq(v, DeepClone(v))
	}, prop.Options{Trials: 200})
	if res.Failed {
		t.Fatalf("value_eq(v, deep_clone(v)) failed for %#v", res.FailingInput)
	}
}
