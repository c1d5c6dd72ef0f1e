// Package vm implements the stack machine of spec.md §4.5/§6: it executes a
// *bytecode.Chunk produced by internal/compiler, one activation frame per
// call, against a value stack shared by the whole call chain.
package vm

import (
	"fmt"

	"github.com/lattice-lang/lattice/internal/alloc"
	"github.com/lattice-lang/lattice/internal/bytecode"
	"github.com/lattice-lang/lattice/internal/env"
	"github.com/lattice-lang/lattice/internal/heap"
	"github.com/lattice-lang/lattice/internal/region"
	"github.com/lattice-lang/lattice/internal/value"
	"github.com/lattice-lang/lattice/internal/vmerr"
)

// stackSize bounds the value stack; it is allocated once so that upvalues
// can hold direct pointers into it without risking reallocation moving
// them (spec §4.5 calls for "open" upvalues that alias the stack slot until
// the frame that owns it returns).
const stackSize = 1 << 16

// frameLimit bounds call depth, surfaced as a RuntimeError rather than a Go
// stack overflow.
const frameLimit = 1024

// Methods resolves INVOKE call sites against a receiver's runtime shape
// (struct name, or a builtin-type tag such as "array"/"string"/"range").
// internal/runtime implements this without vm importing it back.
type Methods interface {
	Invoke(vm *VM, receiver value.LatValue, method string, args []value.LatValue) (value.LatValue, error)

	// TryRecv services a SELECT channel arm: it reports whether a value was
	// immediately available on ch without blocking.
	TryRecv(ch value.LatValue) (value.LatValue, bool)
}

// upvalue is an open or closed upvalue cell (spec §4.5: CLOSE_UPVALUE
// migrates an open upvalue, aliasing a stack slot, to its own heap cell).
type upvalue struct {
	location *value.LatValue // points into vm.stack while open, &closed while closed
	closed   value.LatValue
	isOpen   bool
}

func (u *upvalue) get() value.LatValue { return *u.location }
func (u *upvalue) set(v value.LatValue) { *u.location = v }

func (u *upvalue) close() {
	u.closed = *u.location
	u.location = &u.closed
	u.isOpen = false
}

type deferEntry struct {
	scopeDepth int
	start, end int
}

type handlerEntry struct {
	frameIdx   int // index into vm.frames at push time
	stackLen   int // stack height to restore to before running the catch body
	catchIP    int
	scopeDepth int // handler frame's scope depth at push time: a watermark separating the guarded body's own defers/upvalues (deeper) from the surrounding scope's (at or above)
}

// frame is one function activation (spec §4.5: "chunk, ip, stack base,
// return info, upvalue array, defer scope boundary").
type frame struct {
	chunk     *bytecode.Chunk
	ip        int
	stackBase int
	upvalues  []*upvalue
	openUps   map[int]*upvalue // local slot -> open upvalue, for reuse/closing
	defers    []deferEntry
	name      string
}

// VM is one independent execution of a chunk. It is not safe for concurrent
// use by multiple goroutines against the same stack; structured-concurrency
// spawns (OP_SCOPE) each run on a freshly-forked VM sharing globals/heap/
// region state (see scope.go).
type VM struct {
	stack []value.LatValue
	sp    int
	frames []*frame

	globals *env.Env

	handlers []handlerEntry

	RegionMgr *region.Manager
	FluidHeap *heap.FluidHeap
	AllocCtx  alloc.Context

	Methods Methods
}

// New returns a VM with fresh heap/region/global state.
func New(methods Methods) *VM {
	fh := heap.New()
	mgr := region.NewManager()
	return &VM{
		stack:     make([]value.LatValue, stackSize),
		globals:   env.NewGlobal(),
		RegionMgr: mgr,
		FluidHeap: fh,
		AllocCtx:  alloc.Context{Fluid: fh},
		Methods:   methods,
	}
}

// DefineGlobal binds name in the VM's global scope before execution starts
// (used to install builtins).
func (vm *VM) DefineGlobal(name string, v value.LatValue) {
	vm.globals.Define(name, v)
}

func (vm *VM) push(v value.LatValue) {
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *VM) pop() value.LatValue {
	vm.sp--
	return vm.stack[vm.sp]
}

func (vm *VM) peek(back int) value.LatValue {
	return vm.stack[vm.sp-1-back]
}

// Run executes chunk as a fresh top-level call and returns the chunk's
// final result: the value left on the stack by the chunk's own RETURN
// (scripts/modules push UNIT or main's result; REPL chunks push the last
// bare expression's value).
func (vm *VM) Run(chunk *bytecode.Chunk) (value.LatValue, error) {
	if err := chunk.CheckCompatible(); err != nil {
		return value.LatValue{}, err
	}
	f := &frame{chunk: chunk, stackBase: vm.sp, openUps: map[int]*upvalue{}, name: chunk.Name}
	vm.push(value.Unit()) // reserved slot 0, the compiler's callee slot
	vm.frames = append(vm.frames, f)
	return vm.run()
}

func (vm *VM) currentFrame() *frame { return vm.frames[len(vm.frames)-1] }

// run is the main fetch-decode-execute loop. It returns when the outermost
// frame (pushed by Run) executes RETURN.
func (vm *VM) run() (value.LatValue, error) {
	for {
		f := vm.currentFrame()
		if f.ip >= len(f.chunk.Code) {
			return value.Unit(), nil
		}
		op := bytecode.Op(f.chunk.Code[f.ip])
		f.ip++

		result, done, err := vm.step(f, op)
		if err != nil {
			if handled := vm.unwind(err); handled {
				continue
			}
			return value.LatValue{}, err
		}
		if done {
			return result, nil
		}
	}
}

func (vm *VM) readByte(f *frame) byte {
	b := f.chunk.Code[f.ip]
	f.ip++
	return b
}

func (vm *VM) readU16(f *frame) uint16 {
	hi := vm.readByte(f)
	lo := vm.readByte(f)
	return uint16(hi)<<8 | uint16(lo)
}

func (vm *VM) readConstant(f *frame, wide bool) value.LatValue {
	var idx int
	if wide {
		idx = int(vm.readU16(f))
	} else {
		idx = int(vm.readByte(f))
	}
	return f.chunk.Constants[idx]
}

// step executes exactly one opcode. It returns (result, true, nil) only
// when this was the outermost frame's RETURN; otherwise done is false and
// result is ignored, or err is set (a RuntimeError/PhaseError/ContractError
// the THROW/exception machinery should try to handle).
func (vm *VM) step(f *frame, op bytecode.Op) (value.LatValue, bool, error) {
	line := f.chunk.Lines[f.ip-1]
	switch op {
	case bytecode.OpConstant:
		vm.push(vm.readConstant(f, false))
	case bytecode.OpConstant16:
		vm.push(vm.readConstant(f, true))
	case bytecode.OpLoadInt8:
		b := int8(vm.readByte(f))
		vm.push(value.Int(int64(b)))
	case bytecode.OpTrue:
		vm.push(value.Bool(true))
	case bytecode.OpFalse:
		vm.push(value.Bool(false))
	case bytecode.OpNil:
		vm.push(value.Nil())
	case bytecode.OpUnit:
		vm.push(value.Unit())

	case bytecode.OpGetLocal:
		slot := int(vm.readByte(f))
		vm.push(vm.stack[f.stackBase+slot])
	case bytecode.OpSetLocal:
		slot := int(vm.readByte(f))
		vm.stack[f.stackBase+slot] = vm.peek(0)
	case bytecode.OpSetLocalPop:
		slot := int(vm.readByte(f))
		vm.stack[f.stackBase+slot] = vm.pop()

	case bytecode.OpGetUpvalue:
		idx := int(vm.readByte(f))
		vm.push(f.upvalues[idx].get())
	case bytecode.OpSetUpvalue:
		idx := int(vm.readByte(f))
		f.upvalues[idx].set(vm.peek(0))

	case bytecode.OpGetGlobal, bytecode.OpGetGlobal16:
		name := vm.readConstant(f, op == bytecode.OpGetGlobal16)
		v, ok := vm.globals.Get(name.S)
		if !ok {
			return value.LatValue{}, false, vmerr.Runtime(line, "undefined name %q", name.S)
		}
		vm.push(v)
	case bytecode.OpSetGlobal, bytecode.OpSetGlobal16:
		name := vm.readConstant(f, op == bytecode.OpSetGlobal16)
		if !vm.globals.Set(name.S, vm.peek(0)) {
			return value.LatValue{}, false, vmerr.Runtime(line, "undefined name %q", name.S)
		}
	case bytecode.OpDefineGlobal, bytecode.OpDefineGlobal16:
		name := vm.readConstant(f, op == bytecode.OpDefineGlobal16)
		vm.globals.Define(name.S, vm.pop())

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod,
		bytecode.OpBitAnd, bytecode.OpBitOr, bytecode.OpBitXor, bytecode.OpShl, bytecode.OpShr:
		r := vm.pop()
		l := vm.pop()
		v, err := arith(op, l, r, line)
		if err != nil {
			return value.LatValue{}, false, err
		}
		vm.push(v)
	case bytecode.OpNeg:
		v := vm.pop()
		switch v.Kind {
		case value.KindInt:
			vm.push(value.Int(-v.I))
		case value.KindFloat:
			vm.push(value.Float(-v.F))
		default:
			return value.LatValue{}, false, vmerr.Runtime(line, "cannot negate a %s", v.Kind)
		}
	case bytecode.OpNot:
		vm.push(value.Bool(!vm.pop().IsTruthy()))
	case bytecode.OpBitNot:
		v := vm.pop()
		if v.Kind != value.KindInt {
			return value.LatValue{}, false, vmerr.Runtime(line, "cannot bitwise-not a %s", v.Kind)
		}
		vm.push(value.Int(^v.I))

	case bytecode.OpEq:
		r, l := vm.pop(), vm.pop()
		vm.push(value.Bool(value.Eq(l, r)))
	case bytecode.OpNeq:
		r, l := vm.pop(), vm.pop()
		vm.push(value.Bool(!value.Eq(l, r)))
	case bytecode.OpLt, bytecode.OpGt, bytecode.OpLtEq, bytecode.OpGtEq:
		r := vm.pop()
		l := vm.pop()
		v, err := compare(op, l, r, line)
		if err != nil {
			return value.LatValue{}, false, err
		}
		vm.push(v)

	case bytecode.OpJump:
		off := int16(vm.readU16(f))
		f.ip += int(off)
	case bytecode.OpJumpIfFalse:
		off := int16(vm.readU16(f))
		if !vm.peek(0).IsTruthy() {
			f.ip += int(off)
		}
	case bytecode.OpJumpIfTrue:
		off := int16(vm.readU16(f))
		if vm.peek(0).IsTruthy() {
			f.ip += int(off)
		}
	case bytecode.OpJumpIfNotNil:
		off := int16(vm.readU16(f))
		if vm.peek(0).Kind != value.KindNil {
			f.ip += int(off)
		}
	case bytecode.OpLoop:
		off := int(vm.readU16(f))
		f.ip -= off

	case bytecode.OpCall:
		argc := int(vm.readByte(f))
		return vm.call(argc, line)

	case bytecode.OpClosure:
		return value.LatValue{}, false, vm.makeClosure(f)
	case bytecode.OpCloseUpvalue:
		// No operand: the compiler emits this in place of the POP for a
		// captured local on top of the stack (see endScope), so that slot is
		// always the one being closed; this opcode then pops it.
		vm.closeUpvalue(f, vm.sp-1)
		vm.pop()
	case bytecode.OpReturn:
		return vm.doReturn(f)

	case bytecode.OpBuildArray:
		return value.LatValue{}, false, vm.buildArray(f)
	case bytecode.OpBuildTuple:
		return value.LatValue{}, false, vm.buildTuple(f)
	case bytecode.OpBuildRange:
		end := vm.pop()
		start := vm.pop()
		if start.Kind != value.KindInt || end.Kind != value.KindInt {
			return value.LatValue{}, false, vmerr.Runtime(line, "range bounds must be Int")
		}
		vm.push(value.Range(start.I, end.I))
	case bytecode.OpBuildStruct:
		return value.LatValue{}, false, vm.buildStruct(f)
	case bytecode.OpBuildEnum:
		return value.LatValue{}, false, vm.buildEnum(f)

	case bytecode.OpIndex:
		idx := vm.pop()
		obj := vm.pop()
		v, err := indexValue(obj, idx, line)
		if err != nil {
			return value.LatValue{}, false, err
		}
		vm.push(v)
	case bytecode.OpSetIndex:
		val := vm.pop()
		idx := vm.pop()
		obj := vm.pop()
		if err := setIndexValue(obj, idx, val, line); err != nil {
			return value.LatValue{}, false, err
		}
		vm.push(val)
	case bytecode.OpGetField:
		name := vm.readConstant(f, false)
		obj := vm.pop()
		v, err := getField(obj, name.S, line)
		if err != nil {
			return value.LatValue{}, false, err
		}
		vm.push(v)
	case bytecode.OpSetField:
		name := vm.readConstant(f, false)
		val := vm.pop()
		obj := vm.pop()
		if err := setField(obj, name.S, val, line); err != nil {
			return value.LatValue{}, false, err
		}
		vm.push(val)
	case bytecode.OpInvoke:
		return value.LatValue{}, false, vm.invoke(f, line)

	// Fast paths: functionally equivalent to their general counterparts,
	// specialized for a local-slot receiver so the common case skips a
	// GET_LOCAL round trip.
	case bytecode.OpIndexLocal:
		slot := int(vm.readByte(f))
		idx := vm.pop()
		v, err := indexValue(vm.stack[f.stackBase+slot], idx, line)
		if err != nil {
			return value.LatValue{}, false, err
		}
		vm.push(v)
	case bytecode.OpGetFieldLocal:
		slot := int(vm.readByte(f))
		name := vm.readConstant(f, false)
		v, err := getField(vm.stack[f.stackBase+slot], name.S, line)
		if err != nil {
			return value.LatValue{}, false, err
		}
		vm.push(v)
	case bytecode.OpInvokeLocal:
		slot := int(vm.readByte(f))
		nameIdx := vm.readByte(f)
		argc := int(vm.readByte(f))
		return value.LatValue{}, false, vm.invokeOn(vm.stack[f.stackBase+slot], f.chunk.Constants[nameIdx].S, argc, line)
	case bytecode.OpInvokeGlobal:
		nameIdx := vm.readByte(f)
		argc := int(vm.readByte(f))
		callee, ok := vm.globals.Get(f.chunk.Constants[nameIdx].S)
		if !ok {
			return value.LatValue{}, false, vmerr.Runtime(line, "undefined name %q", f.chunk.Constants[nameIdx].S)
		}
		vm.push(callee)
		args := make([]value.LatValue, argc)
		for i := argc - 1; i >= 0; i-- {
			args[i] = vm.pop()
		}
		vm.pop() // callee
		return vm.callClosureValue(callee, args, line)
	case bytecode.OpIncLocal:
		slot := int(vm.readByte(f))
		cur := vm.stack[f.stackBase+slot]
		if cur.Kind != value.KindInt {
			return value.LatValue{}, false, vmerr.Runtime(line, "++ on a %s", cur.Kind)
		}
		cur.I++
		vm.stack[f.stackBase+slot] = cur
	case bytecode.OpDecLocal:
		slot := int(vm.readByte(f))
		cur := vm.stack[f.stackBase+slot]
		if cur.Kind != value.KindInt {
			return value.LatValue{}, false, vmerr.Runtime(line, "-- on a %s", cur.Kind)
		}
		cur.I--
		vm.stack[f.stackBase+slot] = cur
	case bytecode.OpAppendStrLocal:
		slot := int(vm.readByte(f))
		suffix := vm.pop()
		cur := vm.stack[f.stackBase+slot]
		if cur.Kind != value.KindString || suffix.Kind != value.KindString {
			return value.LatValue{}, false, vmerr.Runtime(line, "+= on a non-String")
		}
		cur.S += suffix.S
		vm.stack[f.stackBase+slot] = cur
	case bytecode.OpSetIndexLocal:
		slot := int(vm.readByte(f))
		val := vm.pop()
		idx := vm.pop()
		if err := setIndexValue(vm.stack[f.stackBase+slot], idx, val, line); err != nil {
			return value.LatValue{}, false, err
		}
	case bytecode.OpSetSliceLocal:
		slot := int(vm.readByte(f))
		val := vm.pop()
		end := vm.pop()
		start := vm.pop()
		if err := setSliceValue(vm.stack[f.stackBase+slot], start, end, val, line); err != nil {
			return value.LatValue{}, false, err
		}

	case bytecode.OpFreeze:
		v := vm.pop()
		fz, err := alloc.Freeze(&vm.AllocCtx, vm.RegionMgr, v)
		if err != nil {
			return value.LatValue{}, false, vmerr.Runtime(line, "freeze: %v", err)
		}
		vm.push(fz)
	case bytecode.OpThaw:
		v := vm.pop()
		vm.push(alloc.Thaw(&vm.AllocCtx, vm.RegionMgr, v))
	case bytecode.OpClone:
		vm.push(value.DeepClone(vm.peek(0)))
	case bytecode.OpFreezeVar:
		slot := int(vm.readByte(f))
		fz, err := alloc.Freeze(&vm.AllocCtx, vm.RegionMgr, vm.stack[f.stackBase+slot])
		if err != nil {
			return value.LatValue{}, false, vmerr.Runtime(line, "freeze: %v", err)
		}
		vm.stack[f.stackBase+slot] = fz
	case bytecode.OpThawVar:
		slot := int(vm.readByte(f))
		vm.stack[f.stackBase+slot] = alloc.Thaw(&vm.AllocCtx, vm.RegionMgr, vm.stack[f.stackBase+slot])
	case bytecode.OpFreezeField:
		nameIdx := vm.readByte(f)
		obj := vm.pop()
		fz, err := freezeField(obj, f.chunk.Constants[nameIdx].S, vm.RegionMgr, &vm.AllocCtx, line)
		if err != nil {
			return value.LatValue{}, false, err
		}
		vm.push(fz)
	case bytecode.OpFreezeExcept:
		exceptIdx := vm.readByte(f)
		v := vm.pop()
		fz, err := freezeExcept(v, f.chunk.Constants[exceptIdx], vm.RegionMgr, &vm.AllocCtx, line)
		if err != nil {
			return value.LatValue{}, false, err
		}
		vm.push(fz)
	case bytecode.OpSublimate:
		v := vm.pop()
		fz, err := alloc.Freeze(&vm.AllocCtx, vm.RegionMgr, v)
		if err != nil {
			return value.LatValue{}, false, vmerr.Runtime(line, "sublimate: %v", err)
		}
		vm.push(fz)
	case bytecode.OpMarkFluid:
		v := vm.pop()
		vm.push(value.Thaw(v))
	case bytecode.OpIsCrystal:
		vm.push(value.Bool(vm.pop().Phase == value.CRYSTAL))
	case bytecode.OpIsFluid:
		vm.push(value.Bool(vm.pop().Phase == value.FLUID))
	case bytecode.OpRequireCrystal:
		v := vm.pop()
		if v.Phase != value.CRYSTAL {
			return value.LatValue{}, false, vmerr.Phase(line, "anneal: target is not crystal")
		}
		vm.push(v)

	case bytecode.OpPushExceptionHandler:
		watermark := int(vm.readByte(f))
		off := int16(vm.readU16(f))
		vm.handlers = append(vm.handlers, handlerEntry{
			frameIdx:   len(vm.frames) - 1,
			stackLen:   vm.sp,
			catchIP:    f.ip + int(off),
			scopeDepth: watermark,
		})
	case bytecode.OpPopExceptionHandler:
		if len(vm.handlers) > 0 {
			vm.handlers = vm.handlers[:len(vm.handlers)-1]
		}
	case bytecode.OpThrow:
		v := vm.pop()
		return value.LatValue{}, false, &thrown{value: v, line: line}
	case bytecode.OpThrowWrapped:
		prefixIdx := vm.readByte(f)
		prefix := f.chunk.Constants[prefixIdx].S
		v := vm.pop()
		wrapped := value.Str(prefix + value.Display(v))
		return value.LatValue{}, false, &thrown{value: wrapped, line: line}
	case bytecode.OpTryUnwrap:
		v := vm.pop()
		if v.Kind == value.KindNil {
			return value.LatValue{}, false, vmerr.Runtime(line, "try-unwrap of nil")
		}
		vm.push(v)

	case bytecode.OpDeferPush:
		scopeDepth := int(vm.readByte(f))
		start := int(vm.readU16(f))
		length := int(vm.readU16(f))
		f.defers = append(f.defers, deferEntry{scopeDepth: scopeDepth, start: start, end: start + length})
	case bytecode.OpDeferRun:
		scopeDepth := int(vm.readByte(f))
		if err := vm.runDefers(f, scopeDepth); err != nil {
			return value.LatValue{}, false, err
		}

	case bytecode.OpScope:
		return value.LatValue{}, false, vm.execScope(f, line)
	case bytecode.OpSelect:
		return value.LatValue{}, false, vm.execSelect(f, line)
	case bytecode.OpImport:
		return value.LatValue{}, false, vmerr.Runtime(line, "import: module loading is a host-level concern, not wired into this VM")

	case bytecode.OpCheckType:
		slot := int(vm.readByte(f))
		typeIdx := vm.readByte(f)
		msgIdx := vm.readByte(f)
		want := f.chunk.Constants[typeIdx].S
		got := vm.stack[f.stackBase+slot]
		if got.Kind.String() != want {
			return value.LatValue{}, false, vmerr.Runtime(line, "%s", f.chunk.Constants[msgIdx].S)
		}
	case bytecode.OpCheckReturnType:
		typeIdx := vm.readByte(f)
		msgIdx := vm.readByte(f)
		want := f.chunk.Constants[typeIdx].S
		got := vm.peek(0)
		if got.Kind.String() != want {
			return value.LatValue{}, false, vmerr.Runtime(line, "%s", f.chunk.Constants[msgIdx].S)
		}

	case bytecode.OpResetEphemeral:
		// No-op at this layer: ephemeral (region-scratch) bookkeeping lives
		// in internal/region's epoch counter, advanced by the host between
		// top-level executions rather than per-opcode.

	case bytecode.OpPop:
		vm.pop()
	case bytecode.OpDup:
		vm.push(vm.peek(0))

	default:
		panic(fmt.Sprintf("vm: unhandled opcode %s", op))
	}
	return value.LatValue{}, false, nil
}
