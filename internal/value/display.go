package value

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"
)

// Display renders v the way a script's print builtin would: strings bare,
// composites bracketed.
func Display(v LatValue) string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.I, 10)
	case KindFloat:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.B)
	case KindUnit:
		return "()"
	case KindNil:
		return "nil"
	case KindString:
		return v.S
	case KindBuffer:
		return fmt.Sprintf("<buffer %d bytes>", len(v.Data.(*BufferData).Bytes))
	case KindArray:
		d := v.Data.(*ArrayData)
		parts := make([]string, 0, d.Elems.Len())
		d.Elems.ForEach(func(_ int, e LatValue) { parts = append(parts, reprOf(e)) })
		return "[" + strings.Join(parts, ", ") + "]"
	case KindTuple:
		d := v.Data.(*TupleData)
		parts := make([]string, len(d.Elems))
		for i, e := range d.Elems {
			parts[i] = reprOf(e)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case KindMap:
		d := v.Data.(*MapData)
		parts := []string{}
		d.Entries.ForEach(func(k string, val LatValue) bool {
			parts = append(parts, fmt.Sprintf("%s: %s", k, reprOf(val)))
			return true
		})
		return "{" + strings.Join(parts, ", ") + "}"
	case KindSet:
		d := v.Data.(*SetData)
		parts := d.Keys.Keys()
		return "{" + strings.Join(parts, ", ") + "}"
	case KindStruct:
		d := v.Data.(*StructData)
		parts := make([]string, len(d.FieldValues))
		for i, fv := range d.FieldValues {
			parts[i] = fmt.Sprintf("%s: %s", d.FieldNames[i], reprOf(fv))
		}
		return d.Name + " { " + strings.Join(parts, ", ") + " }"
	case KindEnum:
		d := v.Data.(*EnumData)
		if len(d.Payload) == 0 {
			return d.EnumName + "::" + d.VariantName
		}
		parts := make([]string, len(d.Payload))
		for i, pv := range d.Payload {
			parts[i] = reprOf(pv)
		}
		return fmt.Sprintf("%s::%s(%s)", d.EnumName, d.VariantName, strings.Join(parts, ", "))
	case KindRange:
		d := v.Data.(*RangeData)
		return fmt.Sprintf("%d..%d", d.Start, d.End)
	case KindChannel:
		return fmt.Sprintf("<channel %d>", v.Data.(*ChannelData).Handle.ID)
	case KindRef:
		return "&" + reprOf(*v.Data.(*RefData).Cell)
	case KindClosure:
		d := v.Data.(*ClosureData)
		return fmt.Sprintf("<closure/%d>", d.ParamCount)
	default:
		panic("value: unhandled Kind in Display: " + v.Kind.String())
	}
}

func reprOf(v LatValue) string {
	if v.Kind == KindString {
		return strconv.Quote(v.S)
	}
	return Display(v)
}

// Dump returns a structural go-spew dump of the value tree, for debugging
// rather than end-user output. No script builtin is registered for it.
func Dump(v LatValue) string {
	return spew.Sdump(v)
}
