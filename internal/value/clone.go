package value

import "github.com/lattice-lang/lattice/internal/mapvec"

// DeepClone returns a fully independent copy of v: every composite payload
// is rebuilt rather than shared. Phase and Region tags are copied as-is;
// callers that need a phase transition should pass the result through
// withPhaseDeep equivalents (see freeze/thaw in internal/region, which deep
// clone while simultaneously re-tagging phase — doing both walks at once
// would duplicate this function, so freeze/thaw compose DeepClone with their
// own phase stamp instead of reimplementing traversal).
func DeepClone(v LatValue) LatValue {
	switch v.Kind {
	case KindInt, KindFloat, KindBool, KindUnit, KindNil, KindString:
		return v // no reachable payload, value semantics already copy it
	case KindBuffer:
		d := v.Data.(*BufferData)
		nb := make([]byte, len(d.Bytes))
		copy(nb, d.Bytes)
		v.Data = &BufferData{Bytes: nb}
		return v
	case KindArray:
		d := v.Data.(*ArrayData)
		nv := mapvec.NewVec[LatValue]()
		d.Elems.ForEach(func(_ int, e LatValue) { nv.Push(DeepClone(e)) })
		v.Data = &ArrayData{Elems: nv}
		return v
	case KindTuple:
		d := v.Data.(*TupleData)
		out := make([]LatValue, len(d.Elems))
		for i, e := range d.Elems {
			out[i] = DeepClone(e)
		}
		v.Data = &TupleData{Elems: out}
		return v
	case KindMap:
		d := v.Data.(*MapData)
		nd := &MapData{Entries: mapvec.NewMap[LatValue]()}
		d.Entries.ForEach(func(k string, val LatValue) bool {
			nd.Entries.Put(k, DeepClone(val))
			return true
		})
		if d.KeyPhases != nil {
			nd.KeyPhases = d.KeyPhases.Clone()
		}
		v.Data = nd
		return v
	case KindSet:
		d := v.Data.(*SetData)
		v.Data = &SetData{Keys: d.Keys.Clone()}
		return v
	case KindStruct:
		d := v.Data.(*StructData)
		out := make([]LatValue, len(d.FieldValues))
		for i, fv := range d.FieldValues {
			out[i] = DeepClone(fv)
		}
		names := append([]string(nil), d.FieldNames...)
		var phases []Phase
		if d.FieldPhases != nil {
			phases = append([]Phase(nil), d.FieldPhases...)
		}
		v.Data = &StructData{Name: d.Name, FieldNames: names, FieldValues: out, FieldPhases: phases}
		return v
	case KindEnum:
		d := v.Data.(*EnumData)
		out := make([]LatValue, len(d.Payload))
		for i, pv := range d.Payload {
			out[i] = DeepClone(pv)
		}
		v.Data = &EnumData{EnumName: d.EnumName, VariantName: d.VariantName, Payload: out}
		return v
	case KindRange:
		d := v.Data.(*RangeData)
		v.Data = &RangeData{Start: d.Start, End: d.End}
		return v
	case KindChannel:
		// channels are shared-handle, reference semantics: cloning a channel
		// value clones the handle reference, not the channel itself.
		return v
	case KindRef:
		d := v.Data.(*RefData)
		inner := DeepClone(*d.Cell)
		v.Data = &RefData{Cell: &inner}
		return v
	case KindClosure:
		d := v.Data.(*ClosureData)
		nc := *d
		nc.Upvalues = append([]UpvalueRef(nil), d.Upvalues...)
		nc.Defaults = make([]LatValue, len(d.Defaults))
		for i, dv := range d.Defaults {
			nc.Defaults[i] = DeepClone(dv)
		}
		v.Data = &nc
		return v
	default:
		panic("value: unhandled Kind in DeepClone: " + v.Kind.String())
	}
}

// Freeze returns a deep clone of v with every reachable node tagged CRYSTAL
// (invariant 1), independent of any region assignment — internal/region
// composes this with arena bookkeeping to implement the FREEZE opcode.
func Freeze(v LatValue) LatValue {
	return withPhaseDeep(DeepClone(v), CRYSTAL)
}

// Thaw returns a deep clone of v with every reachable node tagged FLUID and
// Region reset to NoRegion.
func Thaw(v LatValue) LatValue {
	out := withPhaseDeep(DeepClone(v), FLUID)
	return clearRegionDeep(out)
}

func clearRegionDeep(v LatValue) LatValue {
	v.Region = NoRegion
	switch v.Kind {
	case KindInt, KindFloat, KindBool, KindUnit, KindNil, KindString, KindBuffer, KindRange, KindChannel, KindClosure:
	case KindArray:
		d := v.Data.(*ArrayData)
		nv := mapvec.NewVec[LatValue]()
		d.Elems.ForEach(func(_ int, e LatValue) { nv.Push(clearRegionDeep(e)) })
		v.Data = &ArrayData{Elems: nv}
	case KindTuple:
		d := v.Data.(*TupleData)
		out := make([]LatValue, len(d.Elems))
		for i, e := range d.Elems {
			out[i] = clearRegionDeep(e)
		}
		v.Data = &TupleData{Elems: out}
	case KindMap:
		d := v.Data.(*MapData)
		nd := &MapData{Entries: mapvec.NewMap[LatValue]()}
		d.Entries.ForEach(func(k string, val LatValue) bool {
			nd.Entries.Put(k, clearRegionDeep(val))
			return true
		})
		v.Data = nd
	case KindSet:
	case KindStruct:
		d := v.Data.(*StructData)
		out := make([]LatValue, len(d.FieldValues))
		for i, fv := range d.FieldValues {
			out[i] = clearRegionDeep(fv)
		}
		v.Data = &StructData{Name: d.Name, FieldNames: d.FieldNames, FieldValues: out}
	case KindEnum:
		d := v.Data.(*EnumData)
		out := make([]LatValue, len(d.Payload))
		for i, pv := range d.Payload {
			out[i] = clearRegionDeep(pv)
		}
		v.Data = &EnumData{EnumName: d.EnumName, VariantName: d.VariantName, Payload: out}
	case KindRef:
		d := v.Data.(*RefData)
		inner := clearRegionDeep(*d.Cell)
		v.Data = &RefData{Cell: &inner}
	default:
		panic("value: unhandled Kind in clearRegionDeep: " + v.Kind.String())
	}
	return v
}
