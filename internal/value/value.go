// Package value implements LatValue, the tagged value representation at the
// center of the execution core (spec.md §3), plus deep clone, structural
// equality, and display.
package value

import "github.com/lattice-lang/lattice/internal/mapvec"

// Kind is the closed set of LatValue variants. Every function that switches
// on Kind is expected to handle every case explicitly and panic on an
// unrecognized one rather than silently defaulting — see Design Note §9
// ("forbid the wildcard default").
type Kind uint8

const (
	KindInt Kind = iota
	KindFloat
	KindBool
	KindUnit
	KindNil
	KindString
	KindBuffer
	KindArray
	KindTuple
	KindMap
	KindSet
	KindStruct
	KindEnum
	KindRange
	KindChannel
	KindRef
	KindClosure
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindBool:
		return "Bool"
	case KindUnit:
		return "Unit"
	case KindNil:
		return "Nil"
	case KindString:
		return "String"
	case KindBuffer:
		return "Buffer"
	case KindArray:
		return "Array"
	case KindTuple:
		return "Tuple"
	case KindMap:
		return "Map"
	case KindSet:
		return "Set"
	case KindStruct:
		return "Struct"
	case KindEnum:
		return "Enum"
	case KindRange:
		return "Range"
	case KindChannel:
		return "Channel"
	case KindRef:
		return "Ref"
	case KindClosure:
		return "Closure"
	default:
		panic("value: unhandled Kind in String")
	}
}

// Phase governs mutability and copy semantics (spec §3).
type Phase uint8

const (
	UNPHASED Phase = iota
	FLUID
	CRYSTAL
)

func (p Phase) String() string {
	switch p {
	case UNPHASED:
		return "unphased"
	case FLUID:
		return "fluid"
	case CRYSTAL:
		return "crystal"
	default:
		panic("value: unhandled Phase in String")
	}
}

// RegionID tags a value with the arena that owns its memory; NoRegion is the
// sentinel for heap-backed (non-arena) values.
type RegionID uint64

const NoRegion RegionID = 0

// LatValue is the tagged union described by spec §3. Primitive payloads are
// stored inline; composite payloads are boxed behind the Data field so that
// LatValue itself stays small and copyable by value for UNPHASED/primitive
// cases.
type LatValue struct {
	Kind   Kind
	Phase  Phase
	Region RegionID

	I int64
	F float64
	B bool
	S string // String-kind payload

	Data any // composite payload, one of the *Data types below
}

type BufferData struct{ Bytes []byte }

type ArrayData struct{ Elems *mapvec.Vec[LatValue] }

// TupleData is always phase CRYSTAL by construction (invariant 4).
type TupleData struct{ Elems []LatValue }

// MapData carries an optional per-key phase table alongside the value table,
// used by FREEZE_FIELD/FREEZE_EXCEPT to mark a subset of entries crystal.
type MapData struct {
	Entries    *mapvec.Map[LatValue]
	KeyPhases  *mapvec.Map[Phase] // nil unless any key has a phase override
}

type SetData struct{ Keys *mapvec.Map[struct{}] }

type StructData struct {
	Name        string
	FieldNames  []string
	FieldValues []LatValue
	FieldPhases []Phase // nil unless any field has a phase override
}

type EnumData struct {
	EnumName    string
	VariantName string
	Payload     []LatValue
}

type RangeData struct{ Start, End int64 }

// ChannelData wraps a shared handle; equality for channels is identity
// (invariant 5), so the handle pointer itself is the comparison key.
type ChannelData struct {
	Handle *ChannelHandle
	Retain *int64 // shared retain count, atomics applied by caller
}

// ChannelHandle is an identity token for the real channel object defined in
// internal/runtime; value.go only needs pointer identity, not channel
// operations, to satisfy equality/display, so Body is an opaque `any`
// (a *runtime.LatChannel) rather than an import of that package.
type ChannelHandle struct {
	ID   uint64
	Body any
}

type RefData struct{ Cell *LatValue }

// ClosureData lifts the teacher's dual-use "captured_env" field (spec Design
// Note §9) into an explicit tagged variant instead of overloading region_id.
type ClosureData struct {
	ParamNames  []string
	ParamCount  int
	HasVariadic bool
	Upvalues    []UpvalueRef // bytecode-closure case
	Env         any          // *env.Env for tree-walk fallback case; nil if Upvalues is used
	ChunkRef    any          // *bytecode.Chunk, kept as `any` to avoid an import cycle
	Defaults    []LatValue

	// Native holds a host-provided implementation for builtin functions
	// (print, println, assert, channel); ChunkRef is nil when Native is set.
	Native func([]LatValue) (LatValue, error)

	// BoundUpvalues holds the VM's resolved upvalue cells once a closure
	// template (Upvalues descriptors above) has actually been instantiated
	// by OP_CLOSURE/SCOPE/SELECT; each element is a *vm-package-private
	// upvalue cell, kept as `any` so this package never imports internal/vm.
	// nil on a compile-time template, populated on every runtime instance.
	BoundUpvalues []any
}

type UpvalueRef struct {
	Index   int
	IsLocal bool
}

// Constructors for the primitive/UNPHASED cases.

func Int(i int64) LatValue     { return LatValue{Kind: KindInt, I: i} }
func Float(f float64) LatValue { return LatValue{Kind: KindFloat, F: f} }
func Bool(b bool) LatValue     { return LatValue{Kind: KindBool, B: b} }
func Unit() LatValue           { return LatValue{Kind: KindUnit} }
func Nil() LatValue            { return LatValue{Kind: KindNil} }
func Str(s string) LatValue    { return LatValue{Kind: KindString, S: s} }

func Buffer(b []byte) LatValue {
	return LatValue{Kind: KindBuffer, Data: &BufferData{Bytes: b}}
}

func Array(elems ...LatValue) LatValue {
	v := mapvec.NewVec[LatValue]()
	for _, e := range elems {
		v.Push(e)
	}
	return LatValue{Kind: KindArray, Data: &ArrayData{Elems: v}}
}

// Tuple is always CRYSTAL per invariant 4.
func Tuple(elems ...LatValue) LatValue {
	frozen := make([]LatValue, len(elems))
	for i, e := range elems {
		frozen[i] = withPhaseDeep(e, CRYSTAL)
	}
	return LatValue{Kind: KindTuple, Phase: CRYSTAL, Data: &TupleData{Elems: frozen}}
}

func NewMap() LatValue {
	return LatValue{Kind: KindMap, Data: &MapData{Entries: mapvec.NewMap[LatValue]()}}
}

func NewSet() LatValue {
	return LatValue{Kind: KindSet, Data: &SetData{Keys: mapvec.NewMap[struct{}]()}}
}

func Struct(name string, fieldNames []string, fieldValues []LatValue) LatValue {
	return LatValue{Kind: KindStruct, Data: &StructData{Name: name, FieldNames: fieldNames, FieldValues: fieldValues}}
}

func Enum(enumName, variantName string, payload []LatValue) LatValue {
	return LatValue{Kind: KindEnum, Data: &EnumData{EnumName: enumName, VariantName: variantName, Payload: payload}}
}

func Range(start, end int64) LatValue {
	return LatValue{Kind: KindRange, Data: &RangeData{Start: start, End: end}}
}

func Ref(init LatValue) LatValue {
	cell := init
	return LatValue{Kind: KindRef, Data: &RefData{Cell: &cell}}
}

// IsTruthy implements the language's truthiness rule used by JUMP_IF_FALSE
// and friends: Bool is its own value; Nil and Unit are false; everything
// else is true.
func (v LatValue) IsTruthy() bool {
	switch v.Kind {
	case KindBool:
		return v.B
	case KindNil, KindUnit:
		return false
	default:
		return true
	}
}

// withPhaseDeep stamps phase on v and, for composites, every reachable node
// (phase monotonicity, invariant 1). It does not clone; callers that need a
// fresh copy should clone first (see DeepClone).
func withPhaseDeep(v LatValue, phase Phase) LatValue {
	v.Phase = phase
	switch v.Kind {
	case KindInt, KindFloat, KindBool, KindUnit, KindNil, KindString, KindBuffer, KindRange, KindChannel, KindClosure:
		// no reachable LatValue children
	case KindArray:
		d := v.Data.(*ArrayData)
		nd := &ArrayData{Elems: mapvec.NewVec[LatValue]()}
		d.Elems.ForEach(func(_ int, e LatValue) { nd.Elems.Push(withPhaseDeep(e, phase)) })
		v.Data = nd
	case KindTuple:
		d := v.Data.(*TupleData)
		out := make([]LatValue, len(d.Elems))
		for i, e := range d.Elems {
			out[i] = withPhaseDeep(e, phase)
		}
		v.Data = &TupleData{Elems: out}
	case KindMap:
		d := v.Data.(*MapData)
		nd := &MapData{Entries: mapvec.NewMap[LatValue]()}
		d.Entries.ForEach(func(k string, val LatValue) bool {
			nd.Entries.Put(k, withPhaseDeep(val, phase))
			return true
		})
		v.Data = nd
	case KindSet:
		// set keys carry no LatValue payload beyond the key string itself
	case KindStruct:
		d := v.Data.(*StructData)
		out := make([]LatValue, len(d.FieldValues))
		for i, fv := range d.FieldValues {
			out[i] = withPhaseDeep(fv, phase)
		}
		v.Data = &StructData{Name: d.Name, FieldNames: d.FieldNames, FieldValues: out}
	case KindEnum:
		d := v.Data.(*EnumData)
		out := make([]LatValue, len(d.Payload))
		for i, pv := range d.Payload {
			out[i] = withPhaseDeep(pv, phase)
		}
		v.Data = &EnumData{EnumName: d.EnumName, VariantName: d.VariantName, Payload: out}
	case KindRef:
		d := v.Data.(*RefData)
		inner := withPhaseDeep(*d.Cell, phase)
		v.Data = &RefData{Cell: &inner}
	default:
		panic("value: unhandled Kind in withPhaseDeep: " + v.Kind.String())
	}
	return v
}
