package vm

import (
	"github.com/lattice-lang/lattice/internal/alloc"
	"github.com/lattice-lang/lattice/internal/bytecode"
	"strconv"

	"github.com/lattice-lang/lattice/internal/mapvec"
	"github.com/lattice-lang/lattice/internal/region"
	"github.com/lattice-lang/lattice/internal/value"
	"github.com/lattice-lang/lattice/internal/vmerr"
)

// arith implements the ADD..SHR family. ADD additionally overloads onto
// String (concatenation) and Array (concatenation), matching the
// language's `+` operator beyond pure arithmetic.
func arith(op bytecode.Op, l, r value.LatValue, line int) (value.LatValue, error) {
	if op == bytecode.OpAdd {
		if l.Kind == value.KindString && r.Kind == value.KindString {
			return value.Str(l.S + r.S), nil
		}
		if l.Kind == value.KindArray && r.Kind == value.KindArray {
			ld := l.Data.(*value.ArrayData)
			rd := r.Data.(*value.ArrayData)
			out := append(append([]value.LatValue{}, ld.Elems.Slice()...), rd.Elems.Slice()...)
			return value.Array(out...), nil
		}
	}

	if l.Kind == value.KindFloat || r.Kind == value.KindFloat {
		lf, ok1 := asFloat(l)
		rf, ok2 := asFloat(r)
		if !ok1 || !ok2 {
			return value.LatValue{}, vmerr.Runtime(line, "arithmetic on %s and %s", l.Kind, r.Kind)
		}
		switch op {
		case bytecode.OpAdd:
			return value.Float(lf + rf), nil
		case bytecode.OpSub:
			return value.Float(lf - rf), nil
		case bytecode.OpMul:
			return value.Float(lf * rf), nil
		case bytecode.OpDiv:
			if rf == 0 {
				return value.LatValue{}, vmerr.Runtime(line, "division by zero")
			}
			return value.Float(lf / rf), nil
		default:
			return value.LatValue{}, vmerr.Runtime(line, "operator not defined on Float")
		}
	}

	if l.Kind != value.KindInt || r.Kind != value.KindInt {
		return value.LatValue{}, vmerr.Runtime(line, "arithmetic on %s and %s", l.Kind, r.Kind)
	}
	switch op {
	case bytecode.OpAdd:
		return value.Int(l.I + r.I), nil
	case bytecode.OpSub:
		return value.Int(l.I - r.I), nil
	case bytecode.OpMul:
		return value.Int(l.I * r.I), nil
	case bytecode.OpDiv:
		if r.I == 0 {
			return value.LatValue{}, vmerr.Runtime(line, "division by zero")
		}
		return value.Int(l.I / r.I), nil
	case bytecode.OpMod:
		if r.I == 0 {
			return value.LatValue{}, vmerr.Runtime(line, "modulo by zero")
		}
		return value.Int(l.I % r.I), nil
	case bytecode.OpBitAnd:
		return value.Int(l.I & r.I), nil
	case bytecode.OpBitOr:
		return value.Int(l.I | r.I), nil
	case bytecode.OpBitXor:
		return value.Int(l.I ^ r.I), nil
	case bytecode.OpShl:
		return value.Int(l.I << uint64(r.I)), nil
	case bytecode.OpShr:
		return value.Int(l.I >> uint64(r.I)), nil
	default:
		return value.LatValue{}, vmerr.Runtime(line, "unrecognized arithmetic operator")
	}
}

func asFloat(v value.LatValue) (float64, bool) {
	switch v.Kind {
	case value.KindFloat:
		return v.F, true
	case value.KindInt:
		return float64(v.I), true
	default:
		return 0, false
	}
}

// compare implements LT/GT/LTEQ/GTEQ over Int, Float and String (lexical).
func compare(op bytecode.Op, l, r value.LatValue, line int) (value.LatValue, error) {
	var cmp int
	switch {
	case l.Kind == value.KindString && r.Kind == value.KindString:
		switch {
		case l.S < r.S:
			cmp = -1
		case l.S > r.S:
			cmp = 1
		}
	case (l.Kind == value.KindInt || l.Kind == value.KindFloat) && (r.Kind == value.KindInt || r.Kind == value.KindFloat):
		lf, _ := asFloat(l)
		rf, _ := asFloat(r)
		switch {
		case lf < rf:
			cmp = -1
		case lf > rf:
			cmp = 1
		}
	default:
		return value.LatValue{}, vmerr.Runtime(line, "cannot compare %s and %s", l.Kind, r.Kind)
	}
	switch op {
	case bytecode.OpLt:
		return value.Bool(cmp < 0), nil
	case bytecode.OpGt:
		return value.Bool(cmp > 0), nil
	case bytecode.OpLtEq:
		return value.Bool(cmp <= 0), nil
	case bytecode.OpGtEq:
		return value.Bool(cmp >= 0), nil
	default:
		return value.LatValue{}, vmerr.Runtime(line, "unrecognized comparison operator")
	}
}

func (vm *VM) buildArray(f *frame) error {
	count := int(vm.readByte(f))
	elems := make([]value.LatValue, count)
	for i := count - 1; i >= 0; i-- {
		elems[i] = vm.pop()
	}
	vm.push(value.Array(elems...))
	return nil
}

func (vm *VM) buildTuple(f *frame) error {
	count := int(vm.readByte(f))
	elems := make([]value.LatValue, count)
	for i := count - 1; i >= 0; i-- {
		elems[i] = vm.pop()
	}
	vm.push(value.Tuple(elems...))
	return nil
}

func (vm *VM) buildStruct(f *frame) error {
	nameIdx := vm.readByte(f)
	fieldsIdx := vm.readByte(f)
	count := int(vm.readByte(f))
	name := f.chunk.Constants[nameIdx].S
	fieldsArr := f.chunk.Constants[fieldsIdx].Data.(*value.ArrayData)
	fieldSlice := fieldsArr.Elems.Slice()
	fieldNames := make([]string, len(fieldSlice))
	for i, fv := range fieldSlice {
		fieldNames[i] = fv.S
	}
	values := make([]value.LatValue, count)
	for i := count - 1; i >= 0; i-- {
		values[i] = vm.pop()
	}
	vm.push(value.Struct(name, fieldNames, values))
	return nil
}

func (vm *VM) buildEnum(f *frame) error {
	enumIdx := vm.readByte(f)
	variantIdx := vm.readByte(f)
	count := int(vm.readByte(f))
	enumName := f.chunk.Constants[enumIdx].S
	variantName := f.chunk.Constants[variantIdx].S
	payload := make([]value.LatValue, count)
	for i := count - 1; i >= 0; i-- {
		payload[i] = vm.pop()
	}
	vm.push(value.Enum(enumName, variantName, payload))
	return nil
}

// indexValue implements INDEX for Array/Tuple/Map/String/Range.
func indexValue(obj, idx value.LatValue, line int) (value.LatValue, error) {
	switch obj.Kind {
	case value.KindArray:
		d := obj.Data.(*value.ArrayData)
		i, err := asIndex(idx, int64(d.Elems.Len()), line)
		if err != nil {
			return value.LatValue{}, err
		}
		return d.Elems.Get(int(i)), nil
	case value.KindTuple:
		d := obj.Data.(*value.TupleData)
		i, err := asIndex(idx, int64(len(d.Elems)), line)
		if err != nil {
			return value.LatValue{}, err
		}
		return d.Elems[i], nil
	case value.KindString:
		i, err := asIndex(idx, int64(len(obj.S)), line)
		if err != nil {
			return value.LatValue{}, err
		}
		return value.Str(string(obj.S[i])), nil
	case value.KindMap:
		d := obj.Data.(*value.MapData)
		key := mapKeyString(idx)
		v, ok := d.Entries.Get(key)
		if !ok {
			return value.LatValue{}, vmerr.Runtime(line, "key not found in map")
		}
		return v, nil
	case value.KindRange:
		d := obj.Data.(*value.RangeData)
		if idx.Kind != value.KindInt {
			return value.LatValue{}, vmerr.Runtime(line, "range index must be Int")
		}
		v := d.Start + idx.I
		if v < d.Start || v >= d.End {
			return value.LatValue{}, vmerr.Runtime(line, "range index out of bounds")
		}
		return value.Int(v), nil
	default:
		return value.LatValue{}, vmerr.Runtime(line, "cannot index a %s", obj.Kind)
	}
}

func asIndex(idx value.LatValue, length int64, line int) (int64, error) {
	if idx.Kind != value.KindInt {
		return 0, vmerr.Runtime(line, "index must be Int, got %s", idx.Kind)
	}
	i := idx.I
	if i < 0 {
		i += length
	}
	if i < 0 || i >= length {
		return 0, vmerr.Runtime(line, "index %d out of bounds (length %d)", idx.I, length)
	}
	return i, nil
}

func mapKeyString(k value.LatValue) string {
	switch k.Kind {
	case value.KindString:
		return k.S
	case value.KindInt:
		return "i:" + strconv.FormatInt(k.I, 10)
	default:
		return k.S
	}
}

func setIndexValue(obj, idx, val value.LatValue, line int) error {
	if obj.Phase == value.CRYSTAL {
		return vmerr.Phase(line, "cannot mutate a crystal value through index assignment")
	}
	switch obj.Kind {
	case value.KindArray:
		d := obj.Data.(*value.ArrayData)
		i, err := asIndex(idx, int64(d.Elems.Len()), line)
		if err != nil {
			return err
		}
		d.Elems.Set(int(i), val)
		return nil
	case value.KindMap:
		d := obj.Data.(*value.MapData)
		d.Entries.Put(mapKeyString(idx), val)
		return nil
	default:
		return vmerr.Runtime(line, "cannot index-assign a %s", obj.Kind)
	}
}

func setSliceValue(obj, start, end, val value.LatValue, line int) error {
	if obj.Kind != value.KindArray {
		return vmerr.Runtime(line, "slice assignment target must be Array")
	}
	if obj.Phase == value.CRYSTAL {
		return vmerr.Phase(line, "cannot mutate a crystal value through slice assignment")
	}
	d := obj.Data.(*value.ArrayData)
	length := int64(d.Elems.Len())
	s, err := asIndex(start, length+1, line)
	if err != nil {
		return err
	}
	e, err := asIndex(end, length+1, line)
	if err != nil {
		return err
	}
	if val.Kind != value.KindArray {
		return vmerr.Runtime(line, "slice assignment value must be Array")
	}
	repl := val.Data.(*value.ArrayData).Elems.Slice()
	old := d.Elems.Slice()
	out := append(append(append([]value.LatValue{}, old[:s]...), repl...), old[e:]...)
	nv := mapvec.NewVec[value.LatValue]()
	for _, v := range out {
		nv.Push(v)
	}
	d.Elems = nv
	return nil
}

func getField(obj value.LatValue, name string, line int) (value.LatValue, error) {
	if obj.Kind != value.KindStruct {
		return value.LatValue{}, vmerr.Runtime(line, "cannot get field %q of a %s", name, obj.Kind)
	}
	d := obj.Data.(*value.StructData)
	for i, n := range d.FieldNames {
		if n == name {
			return d.FieldValues[i], nil
		}
	}
	return value.LatValue{}, vmerr.Runtime(line, "struct %s has no field %q", d.Name, name)
}

func setField(obj value.LatValue, name string, val value.LatValue, line int) error {
	if obj.Kind != value.KindStruct {
		return vmerr.Runtime(line, "cannot set field %q of a %s", name, obj.Kind)
	}
	d := obj.Data.(*value.StructData)
	if obj.Phase == value.CRYSTAL {
		return vmerr.Phase(line, "cannot mutate field %q of a crystal struct", name)
	}
	for i, n := range d.FieldNames {
		if n == name {
			if d.FieldPhases != nil && d.FieldPhases[i] == value.CRYSTAL {
				return vmerr.Phase(line, "cannot mutate crystal field %q", name)
			}
			d.FieldValues[i] = val
			return nil
		}
	}
	return vmerr.Runtime(line, "struct %s has no field %q", d.Name, name)
}

// freezeField implements FREEZE_FIELD nameIdx: freeze a single struct field
// or map entry in place, recording the override in FieldPhases/KeyPhases
// rather than freezing the whole container (spec §4.3's partial-freeze).
func freezeField(obj value.LatValue, name string, mgr *region.Manager, ctx *alloc.Context, line int) (value.LatValue, error) {
	switch obj.Kind {
	case value.KindStruct:
		d := obj.Data.(*value.StructData)
		nd := &value.StructData{Name: d.Name, FieldNames: d.FieldNames, FieldValues: append([]value.LatValue{}, d.FieldValues...)}
		nd.FieldPhases = make([]value.Phase, len(d.FieldNames))
		copy(nd.FieldPhases, d.FieldPhases)
		found := false
		for i, n := range d.FieldNames {
			if n == name {
				fz, err := alloc.Freeze(ctx, mgr, nd.FieldValues[i])
				if err != nil {
					return value.LatValue{}, vmerr.Runtime(line, "freeze field %q: %v", name, err)
				}
				nd.FieldValues[i] = fz
				nd.FieldPhases[i] = value.CRYSTAL
				found = true
				break
			}
		}
		if !found {
			return value.LatValue{}, vmerr.Runtime(line, "struct %s has no field %q", d.Name, name)
		}
		obj.Data = nd
		return obj, nil
	case value.KindMap:
		d := obj.Data.(*value.MapData)
		v, ok := d.Entries.Get(name)
		if !ok {
			return value.LatValue{}, vmerr.Runtime(line, "map has no key %q", name)
		}
		fz, err := alloc.Freeze(ctx, mgr, v)
		if err != nil {
			return value.LatValue{}, vmerr.Runtime(line, "freeze key %q: %v", name, err)
		}
		d.Entries.Put(name, fz)
		if d.KeyPhases == nil {
			d.KeyPhases = mapvec.NewMap[value.Phase]()
		}
		d.KeyPhases.Put(name, value.CRYSTAL)
		return obj, nil
	default:
		return value.LatValue{}, vmerr.Runtime(line, "cannot freeze field %q of a %s", name, obj.Kind)
	}
}

// freezeExcept implements FREEZE_EXCEPT exceptIdx: freeze the whole value
// except the struct fields named in the constant-pool string array.
func freezeExcept(v value.LatValue, exceptList value.LatValue, mgr *region.Manager, ctx *alloc.Context, line int) (value.LatValue, error) {
	if v.Kind != value.KindStruct {
		return value.LatValue{}, vmerr.Runtime(line, "freeze-except is only defined on Struct")
	}
	excluded := map[string]bool{}
	if exceptList.Kind == value.KindArray {
		for _, e := range exceptList.Data.(*value.ArrayData).Elems.Slice() {
			excluded[e.S] = true
		}
	}
	d := v.Data.(*value.StructData)
	nd := &value.StructData{Name: d.Name, FieldNames: d.FieldNames}
	nd.FieldValues = make([]value.LatValue, len(d.FieldValues))
	nd.FieldPhases = make([]value.Phase, len(d.FieldNames))
	for i, fn := range d.FieldNames {
		if excluded[fn] {
			nd.FieldValues[i] = d.FieldValues[i]
			continue
		}
		fz, err := alloc.Freeze(ctx, mgr, d.FieldValues[i])
		if err != nil {
			return value.LatValue{}, vmerr.Runtime(line, "freeze field %q: %v", fn, err)
		}
		nd.FieldValues[i] = fz
		nd.FieldPhases[i] = value.CRYSTAL
	}
	v.Data = nd
	v.Phase = value.CRYSTAL
	return v, nil
}
