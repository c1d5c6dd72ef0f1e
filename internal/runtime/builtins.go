// Package runtime implements the VM's host-provided surface: builtin
// globals (print, assert, channel, ...) as Go closures over value.LatValue,
// and the vm.Methods implementation OP_INVOKE dispatches struct/channel/
// collection method calls through.
package runtime

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lattice-lang/lattice/internal/value"
	"github.com/lattice-lang/lattice/internal/vmerr"
)

func nativeFn(paramCount int, variadic bool, fn func([]value.LatValue) (value.LatValue, error)) value.LatValue {
	return value.LatValue{
		Kind: value.KindClosure,
		Data: &value.ClosureData{ParamCount: paramCount, HasVariadic: variadic, Native: fn},
	}
}

// Builtins returns the global name -> native-closure table a host installs
// via VM.DefineGlobal before running a chunk.
func Builtins() map[string]value.LatValue {
	return map[string]value.LatValue{
		"print":   nativeFn(0, true, builtinPrint),
		"println": nativeFn(0, true, builtinPrintln),
		"assert":  nativeFn(1, true, builtinAssert),
		"channel": nativeFn(0, true, builtinChannel),
	}
}

func builtinPrint(args []value.LatValue) (value.LatValue, error) {
	fmt.Print(joinDisplay(args))
	return value.Unit(), nil
}

func builtinPrintln(args []value.LatValue) (value.LatValue, error) {
	fmt.Println(joinDisplay(args))
	return value.Unit(), nil
}

func joinDisplay(args []value.LatValue) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = value.Display(a)
	}
	return strings.Join(parts, " ")
}

// builtinAssert implements the `assert(cond, msg?)` builtin: a failing
// assertion surfaces as a RuntimeError carrying the caller's message (or a
// generic one).
func builtinAssert(args []value.LatValue) (value.LatValue, error) {
	if len(args) < 1 || !args[0].IsTruthy() {
		msg := "assertion failed"
		if len(args) > 1 && args[1].Kind == value.KindString {
			msg = args[1].S
		}
		return value.LatValue{}, vmerr.Runtime(0, "%s", msg)
	}
	return value.Unit(), nil
}

func builtinChannel(args []value.LatValue) (value.LatValue, error) {
	capacity := 0
	if len(args) > 0 {
		if args[0].Kind != value.KindInt {
			return value.LatValue{}, vmerr.Runtime(0, "channel: capacity must be Int")
		}
		capacity = int(args[0].I)
	}
	return NewChannelValue(capacity), nil
}

// mapKey mirrors internal/vm/ops.go's unexported mapKeyString: the same
// string-vs-int key convention, duplicated here rather than exported across
// the package boundary since it's the only piece internal/runtime needs
// from that file.
func mapKey(k value.LatValue) string {
	switch k.Kind {
	case value.KindString:
		return k.S
	case value.KindInt:
		return "i:" + strconv.FormatInt(k.I, 10)
	default:
		return k.S
	}
}
