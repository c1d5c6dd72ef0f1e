package vm

import (
	"github.com/lattice-lang/lattice/internal/bytecode"
	"github.com/lattice-lang/lattice/internal/value"
	"github.com/lattice-lang/lattice/internal/vmerr"
)

// thrown wraps an explicit THROW payload so it can travel as a Go error
// through step()/run() alongside a *vmerr.VMError, without forcing every
// throw site to synthesize a VMError of its own.
type thrown struct {
	value value.LatValue
	line  int
}

func (t *thrown) Error() string {
	return "uncaught throw"
}

// errValue converts any error the VM's own execution can raise into the
// LatValue a catch clause binds: an explicit throw's raw payload passes
// through unchanged; a VMError (RuntimeError/PhaseError/ContractError) is
// wrapped as a small Error struct so catch code can inspect .kind/.message;
// anything else (a Go-level error from a host builtin) becomes its message
// string.
func errValue(err error) value.LatValue {
	switch e := err.(type) {
	case *thrown:
		return e.value
	case *vmerr.VMError:
		return value.Struct("Error", []string{"kind", "message"}, []value.LatValue{
			value.Str(e.Kind.String()),
			value.Str(e.Message),
		})
	default:
		return value.Str(err.Error())
	}
}

// unwind services a step() error by walking the handler stack installed by
// PUSH_EXCEPTION_HANDLER. Before truncating anything, it runs every
// deferred body (spec §4.5: "pop defers above that frame and run them in
// LIFO") and closes every open upvalue belonging to the frames being
// discarded, innermost frame first: each frame above the handler's own is
// being popped outright, so all of its defers run and all of its upvalues
// close; the handler's own frame survives, but the locals its guarded body
// declared above the handler's watermark are going away with the stack
// truncation, so only that portion of its defers/upvalues are run/closed.
// Only then does it truncate the stack to the handler's recorded height,
// push the caught value, and resume at the handler's catch IP. It reports
// whether some handler claimed the error; an unclaimed error propagates to
// the VM's caller as-is.
func (vm *VM) unwind(err error) bool {
	if len(vm.handlers) == 0 {
		return false
	}
	h := vm.handlers[len(vm.handlers)-1]
	vm.handlers = vm.handlers[:len(vm.handlers)-1]

	// runDefers drives vm.step() against vm.currentFrame(), so each discarded
	// frame must actually be the top of vm.frames while its defers run; pop
	// them one at a time rather than running defers first and truncating
	// after.
	for len(vm.frames) > h.frameIdx+1 {
		top := vm.frames[len(vm.frames)-1]
		vm.runDefers(top, 0)
		for slot := range top.openUps {
			vm.closeUpvalue(top, slot)
		}
		vm.frames = vm.frames[:len(vm.frames)-1]
	}

	hf := vm.frames[h.frameIdx]
	vm.runDefers(hf, h.scopeDepth+1)
	for slot := range hf.openUps {
		if slot >= h.stackLen {
			vm.closeUpvalue(hf, slot)
		}
	}

	vm.sp = h.stackLen
	vm.push(errValue(err))

	hf.ip = h.catchIP
	return true
}

// runDefers executes DEFER_RUN scopeDepth: every deferred body registered
// at scopeDepth or deeper, most-recently-pushed first (LIFO per spec §4.2),
// inlined directly into f's own code via the body's absolute [start, end)
// span. Deferred bodies run with the frame's own locals/upvalues still
// live, since DEFER_RUN always executes before the epilogue pops them.
func (vm *VM) runDefers(f *frame, scopeDepth int) error {
	for i := len(f.defers) - 1; i >= 0; i-- {
		d := f.defers[i]
		if d.scopeDepth < scopeDepth {
			continue
		}
		savedIP := f.ip
		f.ip = d.start
		baseFrameCount := len(vm.frames)
		for {
			cur := vm.currentFrame()
			if cur == f && f.ip >= d.end {
				break
			}
			op := bytecode.Op(cur.chunk.Code[cur.ip])
			cur.ip++
			_, done, err := vm.step(cur, op)
			if err != nil {
				return err
			}
			if done || len(vm.frames) < baseFrameCount {
				break
			}
		}
		f.ip = savedIP
		f.defers = append(f.defers[:i], f.defers[i+1:]...)
	}
	return nil
}
