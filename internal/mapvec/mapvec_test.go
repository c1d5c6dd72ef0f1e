package mapvec

import (
	"testing"

	"github.com/lattice-lang/lattice/internal/testrunner/assert"
)

func TestVecPushPopDoubling(t *testing.T) {
	v := NewVec[int]()
	for i := 0; i < 20; i++ {
		v.Push(i)
	}
	assert.Equal(t, 20, v.Len())
	assert.True(t, v.Cap() >= 20)

	for i := 19; i >= 0; i-- {
		val, ok := v.Pop()
		assert.True(t, ok)
		assert.Equal(t, i, val)
	}
	_, ok := v.Pop()
	assert.False(t, ok)
}

func TestVecGetSet(t *testing.T) {
	v := NewVec[string]()
	v.Push("a")
	v.Push("b")
	v.Set(1, "c")
	assert.Equal(t, "a", v.Get(0))
	assert.Equal(t, "c", v.Get(1))
}

func TestMapPutGetDelete(t *testing.T) {
	m := NewMap[int]()
	for i := 0; i < 100; i++ {
		m.Put(string(rune('a'+(i%26)))+string(rune('0'+(i/26))), i)
	}
	assert.Equal(t, 100, m.Len())

	ok := m.Delete("a0")
	assert.True(t, ok)
	_, found := m.Get("a0")
	assert.False(t, found)
	assert.Equal(t, 99, m.Len())
}

func TestMapRehashPreservesEntries(t *testing.T) {
	m := NewMap[int]()
	const n = 500
	for i := 0; i < n; i++ {
		key := "k" + string(rune(i))
		m.Put(key, i)
	}
	assert.Equal(t, n, m.Len())
	for i := 0; i < n; i++ {
		key := "k" + string(rune(i))
		val, ok := m.Get(key)
		assert.True(t, ok)
		assert.Equal(t, i, val)
	}
}

func TestMapOverwrite(t *testing.T) {
	m := NewMap[int]()
	m.Put("x", 1)
	m.Put("x", 2)
	assert.Equal(t, 1, m.Len())
	val, _ := m.Get("x")
	assert.Equal(t, 2, val)
}

func TestMapTombstoneReuse(t *testing.T) {
	m := NewMap[int]()
	m.Put("a", 1)
	m.Delete("a")
	m.Put("b", 2)
	assert.Equal(t, 1, m.Len())
	_, ok := m.Get("a")
	assert.False(t, ok)
	val, ok := m.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, val)
}
