package vm

import (
	"github.com/lattice-lang/lattice/internal/alloc"
	"github.com/lattice-lang/lattice/internal/bytecode"
	"github.com/lattice-lang/lattice/internal/value"
	"github.com/lattice-lang/lattice/internal/vmerr"
)

// captureUpvalue returns the open upvalue for the absolute stack slot,
// creating and recording it in f.openUps on first capture so later closures
// over the same local alias the same cell (spec §4.5).
func (vm *VM) captureUpvalue(f *frame, slot int) *upvalue {
	if u, ok := f.openUps[slot]; ok {
		return u
	}
	u := &upvalue{location: &vm.stack[slot], isOpen: true}
	f.openUps[slot] = u
	return u
}

func (vm *VM) closeUpvalue(f *frame, slot int) {
	if u, ok := f.openUps[slot]; ok {
		u.close()
		delete(f.openUps, slot)
	}
}

// bindSubChunkClosure instantiates the closure template at f.chunk's
// constant idx against f's current locals/upvalues, returning a runtime
// closure value with BoundUpvalues resolved (used by OP_CLOSURE and, with
// the same resolution logic, by SCOPE/SELECT sub-chunks that were compiled
// without an explicit OP_CLOSURE site — see compileSubChunkClosure).
func (vm *VM) bindSubChunkClosure(f *frame, constIdx int) value.LatValue {
	template := f.chunk.Constants[constIdx].Data.(*value.ClosureData)
	bound := make([]*upvalue, len(template.Upvalues))
	for i, u := range template.Upvalues {
		if u.IsLocal {
			bound[i] = vm.captureUpvalue(f, f.stackBase+u.Index)
		} else {
			bound[i] = f.upvalues[u.Index]
		}
	}
	nc := *template
	boxed := make([]any, len(bound))
	for i, u := range bound {
		boxed[i] = u
	}
	nc.BoundUpvalues = boxed
	return value.LatValue{Kind: value.KindClosure, Data: &nc}
}

// makeClosure executes OP_CLOSURE: const idx, upvalue count, then
// (is_local, index) pairs resolved against the currently executing frame.
func (vm *VM) makeClosure(f *frame) error {
	idx := int(vm.readByte(f))
	upCount := int(vm.readByte(f))
	bound := make([]*upvalue, upCount)
	for i := 0; i < upCount; i++ {
		isLocal := vm.readByte(f) == 1
		index := int(vm.readByte(f))
		if isLocal {
			bound[i] = vm.captureUpvalue(f, f.stackBase+index)
		} else {
			bound[i] = f.upvalues[index]
		}
	}
	template := f.chunk.Constants[idx].Data.(*value.ClosureData)
	nc := *template
	boxed := make([]any, len(bound))
	for i, u := range bound {
		boxed[i] = u
	}
	nc.BoundUpvalues = boxed
	vm.push(value.LatValue{Kind: value.KindClosure, Data: &nc})
	return nil
}

// call executes OP_CALL argc: the callee sits on the stack below its argc
// arguments.
func (vm *VM) call(argc int, line int) (value.LatValue, bool, error) {
	calleeIdx := vm.sp - argc - 1
	return vm.invokeCallee(vm.stack[calleeIdx], calleeIdx, argc, line)
}

// callClosureValue invokes a closure value already resolved by the caller
// (e.g. OP_INVOKE_GLOBAL's lookup), pushing it and its args itself so
// invokeCallee's stack-relative bookkeeping stays uniform.
func (vm *VM) callClosureValue(callee value.LatValue, args []value.LatValue, line int) (value.LatValue, bool, error) {
	calleeIdx := vm.sp
	vm.push(callee)
	for _, a := range args {
		vm.push(a)
	}
	return vm.invokeCallee(callee, calleeIdx, len(args), line)
}

// invokeCallee performs the call: calleeIdx is the callee's own stack slot
// (the reserved slot-0 of the callee's own activation frame per spec §4.4),
// with argc values above it.
func (vm *VM) invokeCallee(callee value.LatValue, calleeIdx, argc int, line int) (value.LatValue, bool, error) {
	if callee.Kind != value.KindClosure {
		return value.LatValue{}, false, vmerr.Runtime(line, "cannot call a %s", callee.Kind)
	}
	cd := callee.Data.(*value.ClosureData)

	if cd.Native != nil {
		args := make([]value.LatValue, argc)
		copy(args, vm.stack[calleeIdx+1:calleeIdx+1+argc])
		vm.sp = calleeIdx
		result, err := cd.Native(args)
		if err != nil {
			return value.LatValue{}, false, err
		}
		vm.push(result)
		return value.LatValue{}, false, nil
	}

	chunk, ok := cd.ChunkRef.(*bytecode.Chunk)
	if !ok || chunk == nil {
		return value.LatValue{}, false, vmerr.Runtime(line, "closure has no body")
	}
	if len(vm.frames) >= frameLimit {
		return value.LatValue{}, false, vmerr.Runtime(line, "call stack overflow")
	}

	fixed := cd.ParamCount
	if cd.HasVariadic {
		fixed--
	}
	// The compiler counts default-valued parameters (ast.Param.Default) but
	// never lowers an expression to materialize one (see DESIGN.md); a short
	// call pads the gap with Unit rather than erroring, so a declared
	// default at least yields a well-typed-if-empty value instead of a
	// spurious arity RuntimeError.
	for argc < fixed {
		vm.push(value.Unit())
		argc++
	}
	if cd.HasVariadic {
		restCount := argc - fixed
		if restCount < 0 {
			restCount = 0
		}
		rest := make([]value.LatValue, restCount)
		copy(rest, vm.stack[calleeIdx+1+fixed:calleeIdx+1+fixed+restCount])
		vm.sp = calleeIdx + 1 + fixed
		vm.push(value.Array(rest...))
	} else if argc > fixed {
		return value.LatValue{}, false, vmerr.Runtime(line, "expected %d arguments, got %d", fixed, argc)
	}

	f := &frame{chunk: chunk, stackBase: calleeIdx, openUps: map[int]*upvalue{}, name: chunk.Name}
	f.upvalues = make([]*upvalue, len(cd.BoundUpvalues))
	for i, u := range cd.BoundUpvalues {
		f.upvalues[i] = u.(*upvalue)
	}
	vm.frames = append(vm.frames, f)
	return value.LatValue{}, false, nil
}

// doReturn executes OP_RETURN: pop the result, close any upvalues the
// returning frame still has open (a `return` jumps straight to the shared
// epilogue, bypassing the per-scope CLOSE_UPVALUE a normal endScope would
// have emitted — see compileFunctionDecl), and restore the stack to the
// caller's frame.
func (vm *VM) doReturn(f *frame) (value.LatValue, bool, error) {
	result := vm.pop()
	for _, u := range f.openUps {
		u.close()
	}
	vm.frames = vm.frames[:len(vm.frames)-1]
	vm.sp = f.stackBase
	if len(vm.frames) == 0 {
		return result, true, nil
	}
	vm.push(result)
	return value.LatValue{}, false, nil
}

// runClosureStandalone runs a zero-argument sub-chunk closure (scope spawn,
// scope sync, select channel/timeout expr) to completion on this VM's own
// stack and returns its result.
func (vm *VM) runClosureStandalone(cl value.LatValue) (value.LatValue, error) {
	cd := cl.Data.(*value.ClosureData)
	chunk, ok := cd.ChunkRef.(*bytecode.Chunk)
	if !ok {
		return value.LatValue{}, vmerr.Runtime(0, "closure has no body")
	}
	if err := chunk.CheckCompatible(); err != nil {
		return value.LatValue{}, err
	}
	f := &frame{chunk: chunk, stackBase: vm.sp, openUps: map[int]*upvalue{}, name: chunk.Name}
	f.upvalues = make([]*upvalue, len(cd.BoundUpvalues))
	for i, u := range cd.BoundUpvalues {
		f.upvalues[i] = u.(*upvalue)
	}
	vm.push(value.Unit()) // reserved slot 0, unused by a zero-arg sub-chunk
	vm.frames = append(vm.frames, f)
	return vm.run()
}

// runClosureWithArg is runClosureStandalone for a one-parameter sub-chunk
// closure (a SELECT arm's bound body).
func (vm *VM) runClosureWithArg(cl value.LatValue, arg value.LatValue) (value.LatValue, error) {
	cd := cl.Data.(*value.ClosureData)
	chunk, ok := cd.ChunkRef.(*bytecode.Chunk)
	if !ok {
		return value.LatValue{}, vmerr.Runtime(0, "closure has no body")
	}
	f := &frame{chunk: chunk, stackBase: vm.sp, openUps: map[int]*upvalue{}, name: chunk.Name}
	f.upvalues = make([]*upvalue, len(cd.BoundUpvalues))
	for i, u := range cd.BoundUpvalues {
		f.upvalues[i] = u.(*upvalue)
	}
	vm.push(value.Unit())
	vm.push(arg)
	vm.frames = append(vm.frames, f)
	return vm.run()
}

// fork returns a new VM that shares this one's globals, fluid heap, region
// manager and method table but has its own value stack and call frames —
// used to run a structured-concurrency spawn on its own goroutine (spec
// §4.4/§5) without the spawned goroutine racing this VM's own stack
// pointer.
func (vm *VM) fork() *VM {
	return &VM{
		stack:     make([]value.LatValue, stackSize),
		globals:   vm.globals,
		RegionMgr: vm.RegionMgr,
		FluidHeap: vm.FluidHeap,
		AllocCtx:  alloc.Context{Fluid: vm.FluidHeap},
		Methods:   vm.Methods,
	}
}

// invoke executes OP_INVOKE nameIdx argc: method name and receiver are
// resolved against the compiler's conventional method-call layout
// (receiver, then argc arguments, on the stack below the call site).
func (vm *VM) invoke(f *frame, line int) error {
	nameIdx := vm.readByte(f)
	argc := int(vm.readByte(f))
	name := f.chunk.Constants[nameIdx].S
	args := make([]value.LatValue, argc)
	for i := argc - 1; i >= 0; i-- {
		args[i] = vm.pop()
	}
	receiver := vm.pop()
	result, err := vm.dispatchMethod(receiver, name, args, line)
	if err != nil {
		return err
	}
	vm.push(result)
	return nil
}

// invokeOn is invoke's fast-path variant (OP_INVOKE_LOCAL): the receiver is
// read directly from a local slot rather than popped off the stack, so only
// the argc arguments above it are consumed here.
func (vm *VM) invokeOn(receiver value.LatValue, name string, argc int, line int) error {
	args := make([]value.LatValue, argc)
	for i := argc - 1; i >= 0; i-- {
		args[i] = vm.pop()
	}
	result, err := vm.dispatchMethod(receiver, name, args, line)
	if err != nil {
		return err
	}
	vm.push(result)
	return nil
}

// dispatchMethod resolves an OP_INVOKE call site. "len", "typeName" and
// "sliceFrom" are universal builtins the compiler itself emits as the
// lowering of structural match tests (see compileStructuralTest) regardless
// of receiver kind, so they are handled here ahead of any host-registered
// struct method.
func (vm *VM) dispatchMethod(receiver value.LatValue, name string, args []value.LatValue, line int) (value.LatValue, error) {
	switch name {
	case "len":
		return builtinLen(receiver, line)
	case "typeName":
		return builtinTypeName(receiver), nil
	case "sliceFrom":
		return builtinSliceFrom(receiver, args, line)
	}
	if vm.Methods == nil {
		return value.LatValue{}, vmerr.Runtime(line, "no method %q on %s", name, receiver.Kind)
	}
	return vm.Methods.Invoke(vm, receiver, name, args)
}

func builtinLen(v value.LatValue, line int) (value.LatValue, error) {
	switch v.Kind {
	case value.KindArray:
		return value.Int(int64(v.Data.(*value.ArrayData).Elems.Len())), nil
	case value.KindTuple:
		return value.Int(int64(len(v.Data.(*value.TupleData).Elems))), nil
	case value.KindString:
		return value.Int(int64(len(v.S))), nil
	case value.KindMap:
		return value.Int(int64(v.Data.(*value.MapData).Entries.Len())), nil
	case value.KindSet:
		return value.Int(int64(v.Data.(*value.SetData).Keys.Len())), nil
	case value.KindRange:
		d := v.Data.(*value.RangeData)
		n := d.End - d.Start
		if n < 0 {
			n = 0
		}
		return value.Int(n), nil
	case value.KindBuffer:
		return value.Int(int64(len(v.Data.(*value.BufferData).Bytes))), nil
	default:
		return value.LatValue{}, vmerr.Runtime(line, "len: unsupported receiver %s", v.Kind)
	}
}

// builtinTypeName names a struct by its declared name and an enum by
// "Enum.Variant" so structural match arms can test against them directly;
// every other kind reports its Kind name.
func builtinTypeName(v value.LatValue) value.LatValue {
	switch v.Kind {
	case value.KindStruct:
		return value.Str(v.Data.(*value.StructData).Name)
	case value.KindEnum:
		d := v.Data.(*value.EnumData)
		return value.Str(d.EnumName + "." + d.VariantName)
	default:
		return value.Str(v.Kind.String())
	}
}

func builtinSliceFrom(v value.LatValue, args []value.LatValue, line int) (value.LatValue, error) {
	if len(args) != 1 || args[0].Kind != value.KindInt {
		return value.LatValue{}, vmerr.Runtime(line, "sliceFrom expects a single Int argument")
	}
	start := args[0].I
	switch v.Kind {
	case value.KindArray:
		elems := v.Data.(*value.ArrayData).Elems.Slice()
		if start < 0 {
			start += int64(len(elems))
		}
		if start < 0 || start > int64(len(elems)) {
			return value.LatValue{}, vmerr.Runtime(line, "sliceFrom index out of bounds")
		}
		return value.Array(elems[start:]...), nil
	case value.KindString:
		if start < 0 {
			start += int64(len(v.S))
		}
		if start < 0 || start > int64(len(v.S)) {
			return value.LatValue{}, vmerr.Runtime(line, "sliceFrom index out of bounds")
		}
		return value.Str(v.S[start:]), nil
	default:
		return value.LatValue{}, vmerr.Runtime(line, "sliceFrom: unsupported receiver %s", v.Kind)
	}
}
