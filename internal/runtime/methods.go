package runtime

import (
	"strings"

	"github.com/lattice-lang/lattice/internal/value"
	"github.com/lattice-lang/lattice/internal/vm"
	"github.com/lattice-lang/lattice/internal/vmerr"
)

// Host implements vm.Methods. OP_INVOKE's universal len/typeName/sliceFrom
// builtins are handled inside internal/vm itself (compileStructuralTest's
// pattern-match lowering relies on them being available regardless of
// whether a Host is wired in at all); Host covers the method calls a
// running program writes directly: channel send/recv/close and a small set
// of collection methods.
type Host struct{}

func (Host) TryRecv(ch value.LatValue) (value.LatValue, bool) {
	c, ok := channelOf(ch)
	if !ok {
		return value.LatValue{}, false
	}
	return c.TryRecv()
}

func (h Host) Invoke(_ *vm.VM, receiver value.LatValue, method string, args []value.LatValue) (value.LatValue, error) {
	switch receiver.Kind {
	case value.KindChannel:
		return h.invokeChannel(receiver, method, args)
	case value.KindArray:
		return invokeArray(receiver, method, args)
	case value.KindMap:
		return invokeMap(receiver, method, args)
	case value.KindSet:
		return invokeSet(receiver, method, args)
	case value.KindString:
		return invokeString(receiver, method, args)
	default:
		return value.LatValue{}, vmerr.Runtime(0, "no method %q on %s", method, receiver.Kind)
	}
}

func (Host) invokeChannel(receiver value.LatValue, method string, args []value.LatValue) (value.LatValue, error) {
	c, ok := channelOf(receiver)
	if !ok {
		return value.LatValue{}, vmerr.Runtime(0, "invalid channel handle")
	}
	switch method {
	case "send":
		if len(args) != 1 {
			return value.LatValue{}, vmerr.Runtime(0, "send expects 1 argument")
		}
		return value.Bool(c.Send(args[0])), nil
	case "trySend":
		if len(args) != 1 {
			return value.LatValue{}, vmerr.Runtime(0, "trySend expects 1 argument")
		}
		return value.Bool(c.TrySend(args[0])), nil
	case "recv":
		v, ok := c.Recv()
		if !ok {
			return value.Nil(), nil
		}
		return v, nil
	case "tryRecv":
		v, ok := c.TryRecv()
		return value.Tuple(v, value.Bool(ok)), nil
	case "close":
		c.Close()
		return value.Unit(), nil
	case "len":
		return value.Int(int64(c.Len())), nil
	case "cap":
		return value.Int(int64(c.Cap())), nil
	default:
		return value.LatValue{}, vmerr.Runtime(0, "channel has no method %q", method)
	}
}

func invokeArray(receiver value.LatValue, method string, args []value.LatValue) (value.LatValue, error) {
	d := receiver.Data.(*value.ArrayData)
	switch method {
	case "push":
		if receiver.Phase == value.CRYSTAL {
			return value.LatValue{}, vmerr.Phase(0, "cannot push onto a crystal array")
		}
		for _, a := range args {
			d.Elems.Push(a)
		}
		return receiver, nil
	case "pop":
		if receiver.Phase == value.CRYSTAL {
			return value.LatValue{}, vmerr.Phase(0, "cannot pop from a crystal array")
		}
		v, ok := d.Elems.Pop()
		if !ok {
			return value.Nil(), nil
		}
		return v, nil
	case "contains":
		if len(args) != 1 {
			return value.LatValue{}, vmerr.Runtime(0, "contains expects 1 argument")
		}
		found := false
		d.Elems.ForEach(func(_ int, e value.LatValue) {
			if value.Eq(e, args[0]) {
				found = true
			}
		})
		return value.Bool(found), nil
	case "indexOf":
		if len(args) != 1 {
			return value.LatValue{}, vmerr.Runtime(0, "indexOf expects 1 argument")
		}
		idx := int64(-1)
		d.Elems.ForEach(func(i int, e value.LatValue) {
			if idx == -1 && value.Eq(e, args[0]) {
				idx = int64(i)
			}
		})
		return value.Int(idx), nil
	default:
		return value.LatValue{}, vmerr.Runtime(0, "array has no method %q", method)
	}
}

func invokeMap(receiver value.LatValue, method string, args []value.LatValue) (value.LatValue, error) {
	d := receiver.Data.(*value.MapData)
	switch method {
	case "keys":
		ks := d.Entries.Keys()
		elems := make([]value.LatValue, len(ks))
		for i, k := range ks {
			elems[i] = value.Str(k)
		}
		return value.Array(elems...), nil
	case "has":
		if len(args) != 1 {
			return value.LatValue{}, vmerr.Runtime(0, "has expects 1 argument")
		}
		return value.Bool(d.Entries.Has(mapKey(args[0]))), nil
	case "remove":
		if len(args) != 1 {
			return value.LatValue{}, vmerr.Runtime(0, "remove expects 1 argument")
		}
		if receiver.Phase == value.CRYSTAL {
			return value.LatValue{}, vmerr.Phase(0, "cannot mutate a crystal map")
		}
		d.Entries.Delete(mapKey(args[0]))
		return value.Unit(), nil
	default:
		return value.LatValue{}, vmerr.Runtime(0, "map has no method %q", method)
	}
}

func invokeSet(receiver value.LatValue, method string, args []value.LatValue) (value.LatValue, error) {
	d := receiver.Data.(*value.SetData)
	switch method {
	case "has":
		if len(args) != 1 {
			return value.LatValue{}, vmerr.Runtime(0, "has expects 1 argument")
		}
		return value.Bool(d.Keys.Has(mapKey(args[0]))), nil
	case "add":
		if len(args) != 1 {
			return value.LatValue{}, vmerr.Runtime(0, "add expects 1 argument")
		}
		if receiver.Phase == value.CRYSTAL {
			return value.LatValue{}, vmerr.Phase(0, "cannot mutate a crystal set")
		}
		d.Keys.Put(mapKey(args[0]), struct{}{})
		return value.Unit(), nil
	case "remove":
		if len(args) != 1 {
			return value.LatValue{}, vmerr.Runtime(0, "remove expects 1 argument")
		}
		if receiver.Phase == value.CRYSTAL {
			return value.LatValue{}, vmerr.Phase(0, "cannot mutate a crystal set")
		}
		d.Keys.Delete(mapKey(args[0]))
		return value.Unit(), nil
	default:
		return value.LatValue{}, vmerr.Runtime(0, "set has no method %q", method)
	}
}

func invokeString(receiver value.LatValue, method string, args []value.LatValue) (value.LatValue, error) {
	switch method {
	case "upper":
		return value.Str(strings.ToUpper(receiver.S)), nil
	case "lower":
		return value.Str(strings.ToLower(receiver.S)), nil
	case "trim":
		return value.Str(strings.TrimSpace(receiver.S)), nil
	case "contains":
		if len(args) != 1 || args[0].Kind != value.KindString {
			return value.LatValue{}, vmerr.Runtime(0, "contains expects a String argument")
		}
		return value.Bool(strings.Contains(receiver.S, args[0].S)), nil
	case "split":
		if len(args) != 1 || args[0].Kind != value.KindString {
			return value.LatValue{}, vmerr.Runtime(0, "split expects a String argument")
		}
		parts := strings.Split(receiver.S, args[0].S)
		elems := make([]value.LatValue, len(parts))
		for i, p := range parts {
			elems[i] = value.Str(p)
		}
		return value.Array(elems...), nil
	default:
		return value.LatValue{}, vmerr.Runtime(0, "string has no method %q", method)
	}
}
