package value

// Eq implements invariant 5 and the Map-equality Open Question decision: all
// types use structural equality except Channel (identity, by shared handle
// pointer) and Closure (always false, even against itself by reference —
// two closure values are never considered equal by ==).
func Eq(a, b LatValue) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindInt:
		return a.I == b.I
	case KindFloat:
		return a.F == b.F
	case KindBool:
		return a.B == b.B
	case KindUnit, KindNil:
		return true
	case KindString:
		return a.S == b.S
	case KindBuffer:
		ab, bb := a.Data.(*BufferData).Bytes, b.Data.(*BufferData).Bytes
		if len(ab) != len(bb) {
			return false
		}
		for i := range ab {
			if ab[i] != bb[i] {
				return false
			}
		}
		return true
	case KindArray:
		ae, be := a.Data.(*ArrayData).Elems, b.Data.(*ArrayData).Elems
		if ae.Len() != be.Len() {
			return false
		}
		for i := 0; i < ae.Len(); i++ {
			if !Eq(ae.Get(i), be.Get(i)) {
				return false
			}
		}
		return true
	case KindTuple:
		ae, be := a.Data.(*TupleData).Elems, b.Data.(*TupleData).Elems
		if len(ae) != len(be) {
			return false
		}
		for i := range ae {
			if !Eq(ae[i], be[i]) {
				return false
			}
		}
		return true
	case KindMap:
		// Structural: same key set, equal values per key — independent of
		// probe order or tombstone layout (Open Question decision).
		am, bm := a.Data.(*MapData).Entries, b.Data.(*MapData).Entries
		if am.Len() != bm.Len() {
			return false
		}
		equal := true
		am.ForEach(func(k string, av LatValue) bool {
			bv, ok := bm.Get(k)
			if !ok || !Eq(av, bv) {
				equal = false
				return false
			}
			return true
		})
		return equal
	case KindSet:
		as, bs := a.Data.(*SetData).Keys, b.Data.(*SetData).Keys
		if as.Len() != bs.Len() {
			return false
		}
		equal := true
		as.ForEach(func(k string, _ struct{}) bool {
			if !bs.Has(k) {
				equal = false
				return false
			}
			return true
		})
		return equal
	case KindStruct:
		as, bs := a.Data.(*StructData), b.Data.(*StructData)
		if as.Name != bs.Name || len(as.FieldValues) != len(bs.FieldValues) {
			return false
		}
		for i := range as.FieldValues {
			if as.FieldNames[i] != bs.FieldNames[i] || !Eq(as.FieldValues[i], bs.FieldValues[i]) {
				return false
			}
		}
		return true
	case KindEnum:
		ae, be := a.Data.(*EnumData), b.Data.(*EnumData)
		if ae.EnumName != be.EnumName || ae.VariantName != be.VariantName || len(ae.Payload) != len(be.Payload) {
			return false
		}
		for i := range ae.Payload {
			if !Eq(ae.Payload[i], be.Payload[i]) {
				return false
			}
		}
		return true
	case KindRange:
		ar, br := a.Data.(*RangeData), b.Data.(*RangeData)
		return ar.Start == br.Start && ar.End == br.End
	case KindChannel:
		return a.Data.(*ChannelData).Handle == b.Data.(*ChannelData).Handle
	case KindRef:
		return Eq(*a.Data.(*RefData).Cell, *b.Data.(*RefData).Cell)
	case KindClosure:
		return false
	default:
		panic("value: unhandled Kind in Eq: " + a.Kind.String())
	}
}
