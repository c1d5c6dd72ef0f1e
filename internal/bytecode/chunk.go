package bytecode

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/lattice-lang/lattice/internal/stdlib/collections"
	"github.com/lattice-lang/lattice/internal/value"
)

// StackVMMagic distinguishes stack-VM chunks from the out-of-scope
// register-VM format (spec §6, §9).
var StackVMMagic = [4]byte{'L', 'V', 'M', '1'}

// FormatVersion is the bytecode format version this compiler stamps onto
// every chunk it emits.
var FormatVersion = semver.MustParse("1.0.0")

// SupportedFormat is the constraint a VM checks a loaded chunk's version
// against before executing it — the semver-gated compatibility idiom the
// teacher's own go.mod dependency is used for elsewhere in the pack.
var SupportedFormat = mustConstraint("^1.0.0")

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Chunk is the bytecode container of spec §6.
type Chunk struct {
	Magic         [4]byte
	FormatVersion *semver.Version

	Code      []byte
	Constants []value.LatValue
	Lines     []int // parallel to Code, one line per opcode byte

	LocalNames map[int]string // slot -> debug name

	Name          string
	ParamPhases   []value.Phase
	ExportNames   []string
	HasExports    bool
	DefaultValues []value.LatValue
	DefaultCount  int
	FnHasVariadic bool

	PIC *PICTable
}

// NewChunk returns an empty chunk stamped with the compiler's current
// format version and magic.
func NewChunk(name string) *Chunk {
	return &Chunk{
		Magic:         StackVMMagic,
		FormatVersion: FormatVersion,
		Name:          name,
		LocalNames:    make(map[int]string),
		PIC:           NewPICTable(),
	}
}

// CheckCompatible reports whether c's format version satisfies the
// constraint the VM supports, and that c's magic marks it as a stack-VM
// chunk (not the out-of-scope register-VM format).
func (c *Chunk) CheckCompatible() error {
	if c.Magic != StackVMMagic {
		return fmt.Errorf("bytecode: %q is not a stack-VM chunk (register-VM chunks are out of scope)", c.Magic)
	}
	if c.FormatVersion == nil {
		return fmt.Errorf("bytecode: chunk %q has no format version", c.Name)
	}
	if !SupportedFormat.Check(c.FormatVersion) {
		return fmt.Errorf("bytecode: chunk %q format version %s does not satisfy %s", c.Name, c.FormatVersion, SupportedFormat)
	}
	return nil
}

// Emit appends one opcode byte (plus any immediate bytes the caller writes
// separately) at the given source line.
func (c *Chunk) Emit(op Op, line int) int {
	c.Code = append(c.Code, byte(op))
	c.Lines = append(c.Lines, line)
	return len(c.Code) - 1
}

// EmitByte appends a raw operand byte, recorded under the given line number.
func (c *Chunk) EmitByte(b byte, line int) int {
	c.Code = append(c.Code, b)
	c.Lines = append(c.Lines, line)
	return len(c.Code) - 1
}

// EmitU16 appends a big-endian u16 operand across two bytes.
func (c *Chunk) EmitU16(v uint16, line int) {
	c.EmitByte(byte(v>>8), line)
	c.EmitByte(byte(v), line)
}

// AddConstant appends v to the constant pool and returns its index.
func (c *Chunk) AddConstant(v value.LatValue) int {
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

// PICEntry is one polymorphic-inline-cache hit: the receiver shape (struct
// name, or a builtin-type tag) this call site last resolved against, and the
// resolved method chunk.
type PICEntry struct {
	ReceiverShape string
	Method        *Chunk
}

// picCapacity bounds the per-chunk cache; eviction reuses the teacher's
// generic LRU (internal/stdlib/collections/lru.go) rather than a hand-rolled
// cache, per SPEC_FULL.md's VictoriaMetrics/fastcache-vs-lru.go comparison.
const picCapacity = 256

// PICTable is the polymorphic inline cache keyed by call-site bytecode
// offset (spec §4.5/§9: "encapsulate behind an interface so the VM never
// sees direct mutation other than through a lookup-or-insert call").
type PICTable struct {
	cache *collections.LRU[int, PICEntry]
}

func NewPICTable() *PICTable {
	return &PICTable{cache: collections.NewLRU[int, PICEntry](picCapacity)}
}

// Lookup returns the cached entry for offset and whether it matches shape;
// a shape mismatch is a cache miss from the caller's point of view even
// though an entry exists (the call site's receiver shape changed).
func (p *PICTable) Lookup(offset int, shape string) (*Chunk, bool) {
	e, ok := p.cache.Get(offset)
	if !ok || e.ReceiverShape != shape {
		return nil, false
	}
	return e.Method, true
}

// Insert records offset's resolution for future lookups (a miss followed by
// insert, per spec §4.5).
func (p *PICTable) Insert(offset int, shape string, method *Chunk) {
	p.cache.Put(offset, PICEntry{ReceiverShape: shape, Method: method})
}
