// Package bytecode defines the Chunk container and opcode inventory of
// spec.md §6: the format the compiler emits and the VM executes.
package bytecode

// Op is one opcode in a Chunk's code stream. Numeric values are an
// implementation choice (spec §6: "exact numeric encoding is implementation
// choice, but layout per opcode is fixed"); operand layout is documented per
// constant below.
type Op byte

const (
	OpConstant   Op = iota // u8 idx
	OpConstant16           // u16 idx
	OpLoadInt8             // i8
	OpTrue
	OpFalse
	OpNil
	OpUnit

	OpGetLocal // slot
	OpSetLocal
	OpSetLocalPop

	OpGetUpvalue // idx
	OpSetUpvalue

	OpGetGlobal // name const idx
	OpSetGlobal
	OpDefineGlobal
	OpGetGlobal16
	OpSetGlobal16
	OpDefineGlobal16

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg
	OpNot
	OpBitAnd
	OpBitOr
	OpBitXor
	OpBitNot
	OpShl
	OpShr

	OpEq
	OpNeq
	OpLt
	OpGt
	OpLtEq
	OpGtEq

	OpJump       // i16
	OpJumpIfFalse
	OpJumpIfTrue
	OpJumpIfNotNil
	OpLoop

	OpCall    // argc
	OpClosure // fn const idx, upvalue_count, (is_local, index)*
	OpCloseUpvalue
	OpReturn

	OpBuildArray // count
	OpBuildTuple
	OpBuildRange
	OpBuildStruct
	OpBuildEnum

	OpIndex    // —
	OpSetIndex
	OpGetField // name const idx
	OpSetField
	OpInvoke // name const idx, argc

	// Fast paths (spec §4.4): mutate named locals in place without full
	// clone.
	OpIndexLocal
	OpGetFieldLocal
	OpInvokeLocal
	OpInvokeGlobal
	OpIncLocal
	OpDecLocal
	OpAppendStrLocal
	OpSetIndexLocal
	OpSetSliceLocal

	// Phase operations.
	OpFreeze
	OpThaw
	OpClone
	OpFreezeVar
	OpThawVar
	OpFreezeField
	OpFreezeExcept
	OpSublimate
	OpMarkFluid
	OpIsCrystal
	OpIsFluid
	OpRequireCrystal // — pops, PhaseErrors if not crystal, else pushes back

	// Error handling.
	OpPushExceptionHandler // watermark scope depth, offset
	OpPopExceptionHandler
	OpThrow
	OpThrowWrapped // msg prefix const idx — wraps the caught value's Display with a prefix and rethrows
	OpTryUnwrap

	// Defer.
	OpDeferPush // scope_depth, u16 body start, u16 body length
	OpDeferRun  // scope_depth

	// Concurrency / modules.
	OpScope  // spawn_count, sync_idx, spawn_idx*
	OpSelect
	OpImport

	// Contracts.
	OpCheckType       // slot, type idx, msg idx
	OpCheckReturnType

	OpResetEphemeral

	OpPop
	OpDup
)

func (op Op) String() string {
	names := [...]string{
		"CONSTANT", "CONSTANT_16", "LOAD_INT8", "TRUE", "FALSE", "NIL", "UNIT",
		"GET_LOCAL", "SET_LOCAL", "SET_LOCAL_POP",
		"GET_UPVALUE", "SET_UPVALUE",
		"GET_GLOBAL", "SET_GLOBAL", "DEFINE_GLOBAL", "GET_GLOBAL_16", "SET_GLOBAL_16", "DEFINE_GLOBAL_16",
		"ADD", "SUB", "MUL", "DIV", "MOD", "NEG", "NOT", "BIT_AND", "BIT_OR", "BIT_XOR", "BIT_NOT", "SHL", "SHR",
		"EQ", "NEQ", "LT", "GT", "LTEQ", "GTEQ",
		"JUMP", "JUMP_IF_FALSE", "JUMP_IF_TRUE", "JUMP_IF_NOT_NIL", "LOOP",
		"CALL", "CLOSURE", "CLOSE_UPVALUE", "RETURN",
		"BUILD_ARRAY", "BUILD_TUPLE", "BUILD_RANGE", "BUILD_STRUCT", "BUILD_ENUM",
		"INDEX", "SET_INDEX", "GET_FIELD", "SET_FIELD", "INVOKE",
		"INDEX_LOCAL", "GET_FIELD_LOCAL", "INVOKE_LOCAL", "INVOKE_GLOBAL", "INC_LOCAL", "DEC_LOCAL",
		"APPEND_STR_LOCAL", "SET_INDEX_LOCAL", "SET_SLICE_LOCAL",
		"FREEZE", "THAW", "CLONE", "FREEZE_VAR", "THAW_VAR", "FREEZE_FIELD", "FREEZE_EXCEPT",
		"SUBLIMATE", "MARK_FLUID", "IS_CRYSTAL", "IS_FLUID", "REQUIRE_CRYSTAL",
		"PUSH_EXCEPTION_HANDLER", "POP_EXCEPTION_HANDLER", "THROW", "THROW_WRAPPED", "TRY_UNWRAP",
		"DEFER_PUSH", "DEFER_RUN",
		"SCOPE", "SELECT", "IMPORT",
		"CHECK_TYPE", "CHECK_RETURN_TYPE",
		"RESET_EPHEMERAL",
		"POP", "DUP",
	}
	if int(op) < len(names) {
		return names[op]
	}
	return "UNKNOWN"
}
