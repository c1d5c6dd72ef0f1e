package env

import (
	"testing"

	"github.com/lattice-lang/lattice/internal/testrunner/assert"
	"github.com/lattice-lang/lattice/internal/value"
)

func TestLookupWalksChain(t *testing.T) {
	g := NewGlobal()
	g.Define("x", value.Int(1))
	child := NewChild(g)
	child.Define("y", value.Int(2))

	v, ok := child.Get("x")
	assert.True(t, ok)
	assert.Equal(t, int64(1), v.I)

	v, ok = child.Get("y")
	assert.True(t, ok)
	assert.Equal(t, int64(2), v.I)

	_, ok = g.Get("y")
	assert.False(t, ok)
}

func TestSetUpdatesEnclosingBinding(t *testing.T) {
	g := NewGlobal()
	g.Define("x", value.Int(1))
	child := NewChild(g)

	ok := child.Set("x", value.Int(42))
	assert.True(t, ok)
	v, _ := g.Get("x")
	assert.Equal(t, int64(42), v.I)

	ok = child.Set("undefined", value.Int(0))
	assert.False(t, ok)
}

func TestRetainReleaseChain(t *testing.T) {
	g := NewGlobal()
	child := NewChild(g)
	assert.Equal(t, int64(2), g.RefCount())

	child.Release()
	assert.Equal(t, int64(1), g.RefCount())
}

func TestCloneIsIndependentAndSharesGlobal(t *testing.T) {
	g := NewGlobal()
	g.Define("g", value.Int(7))
	child := NewChild(g)
	child.Define("x", value.Array(value.Int(1)))

	clone := child.Clone()
	v, _ := clone.Get("x")
	v.Data.(*value.ArrayData).Elems.Set(0, value.Int(99))

	orig, _ := child.Get("x")
	assert.Equal(t, int64(1), orig.Data.(*value.ArrayData).Elems.Get(0).I)

	// global frame is shared, not copied
	assert.Equal(t, g, clone.Parent())
}
