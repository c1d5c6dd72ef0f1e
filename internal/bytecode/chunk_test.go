package bytecode

import (
	"testing"

	"github.com/lattice-lang/lattice/internal/testrunner/assert"
	"github.com/lattice-lang/lattice/internal/value"
)

func TestNewChunkStampsMagicAndVersion(t *testing.T) {
	c := NewChunk("main")
	assert.NoError(t, c.CheckCompatible())
}

func TestCheckCompatibleRejectsWrongMagic(t *testing.T) {
	c := NewChunk("main")
	c.Magic = [4]byte{'X', 'X', 'X', 'X'}
	assert.Error(t, c.CheckCompatible())
}

func TestEmitAndConstants(t *testing.T) {
	c := NewChunk("main")
	idx := c.AddConstant(value.Int(19))
	off := c.Emit(OpConstant, 1)
	c.EmitByte(byte(idx), 1)
	assert.Equal(t, 0, off)
	assert.Equal(t, 2, len(c.Code))
	assert.Equal(t, 1, len(c.Constants))
}

func TestPICLookupInsertRoundTrip(t *testing.T) {
	p := NewPICTable()
	_, ok := p.Lookup(10, "Point")
	assert.False(t, ok)

	target := NewChunk("Point.dist")
	p.Insert(10, "Point", target)

	got, ok := p.Lookup(10, "Point")
	assert.True(t, ok)
	assert.Equal(t, target, got)

	_, ok = p.Lookup(10, "Vector")
	assert.False(t, ok)
}
