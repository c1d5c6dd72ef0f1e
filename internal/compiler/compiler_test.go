package compiler

import (
	"testing"

	"github.com/lattice-lang/lattice/internal/ast"
	"github.com/lattice-lang/lattice/internal/bytecode"
	"github.com/lattice-lang/lattice/internal/testrunner/assert"
	"github.com/lattice-lang/lattice/internal/value"
)

// countOp counts the instructions in chunk whose opcode is want. It walks the
// code instruction by instruction, stepping over operand bytes, so an operand
// that happens to equal want's numeric value is not counted.
func countOp(chunk *bytecode.Chunk, want bytecode.Op) int {
	n := 0
	for i := 0; i < len(chunk.Code); i += 1 + operandWidth(chunk.Code, i) {
		if bytecode.Op(chunk.Code[i]) == want {
			n++
		}
	}
	return n
}

// operandWidth returns the number of operand bytes that follow the opcode at
// code[i], as the VM decodes them.
func operandWidth(code []byte, i int) int {
	switch bytecode.Op(code[i]) {
	case bytecode.OpConstant, bytecode.OpLoadInt8, bytecode.OpGetLocal, bytecode.OpSetLocal, bytecode.OpSetLocalPop,
		bytecode.OpGetUpvalue, bytecode.OpSetUpvalue, bytecode.OpGetGlobal, bytecode.OpSetGlobal, bytecode.OpDefineGlobal,
		bytecode.OpCall, bytecode.OpBuildArray, bytecode.OpBuildTuple, bytecode.OpGetField, bytecode.OpSetField,
		bytecode.OpIndexLocal, bytecode.OpIncLocal, bytecode.OpDecLocal, bytecode.OpAppendStrLocal,
		bytecode.OpSetIndexLocal, bytecode.OpSetSliceLocal, bytecode.OpFreezeVar, bytecode.OpThawVar,
		bytecode.OpFreezeField, bytecode.OpFreezeExcept, bytecode.OpThrowWrapped, bytecode.OpDeferRun:
		return 1
	case bytecode.OpConstant16, bytecode.OpGetGlobal16, bytecode.OpSetGlobal16, bytecode.OpDefineGlobal16,
		bytecode.OpJump, bytecode.OpJumpIfFalse, bytecode.OpJumpIfTrue, bytecode.OpJumpIfNotNil, bytecode.OpLoop,
		bytecode.OpInvoke, bytecode.OpGetFieldLocal, bytecode.OpInvokeGlobal, bytecode.OpCheckReturnType:
		return 2
	case bytecode.OpBuildStruct, bytecode.OpBuildEnum, bytecode.OpInvokeLocal, bytecode.OpPushExceptionHandler,
		bytecode.OpCheckType:
		return 3
	case bytecode.OpDeferPush:
		return 5
	case bytecode.OpClosure:
		return 2 + 2*int(code[i+2])
	case bytecode.OpScope:
		return 2 + int(code[i+1])
	case bytecode.OpSelect:
		return 1 + 5*int(code[i+1])
	default:
		return 0
	}
}

func lit(v value.LatValue) *ast.LiteralExpr { return &ast.LiteralExpr{Value: v} }

// (2+3)*4-1 must fold entirely at compile time: a single int constant 19,
// with no ADD/SUB/MUL opcodes anywhere in the chunk.
func TestConstantFoldingArithmetic(t *testing.T) {
	expr := &ast.BinaryExpr{
		Op: ast.OpSub,
		Left: &ast.BinaryExpr{
			Op: ast.OpMul,
			Left: &ast.BinaryExpr{
				Op:    ast.OpAdd,
				Left:  lit(value.Int(2)),
				Right: lit(value.Int(3)),
			},
			Right: lit(value.Int(4)),
		},
		Right: lit(value.Int(1)),
	}
	prog := &ast.Program{Items: []ast.Item{
		&ast.StmtItem{Stmt: &ast.LetStmt{Name: "x", Value: expr}},
	}}

	chunk, err := Compile(prog)
	assert.NoError(t, err)

	assert.Equal(t, 0, countOp(chunk, bytecode.OpAdd))
	assert.Equal(t, 0, countOp(chunk, bytecode.OpSub))
	assert.Equal(t, 0, countOp(chunk, bytecode.OpMul))
	assert.Equal(t, 1, countOp(chunk, bytecode.OpLoadInt8))

	foundIdx := -1
	for i, b := range chunk.Code {
		if bytecode.Op(b) == bytecode.OpLoadInt8 {
			foundIdx = i
			break
		}
	}
	assert.True(t, foundIdx >= 0)
	assert.Equal(t, int8(19), int8(chunk.Code[foundIdx+1]))
}

// AND/OR/nil-coalesce are short-circuit and must never be folded, even when
// both operands are literal.
func TestConstantFoldingSkipsShortCircuitOps(t *testing.T) {
	prog := &ast.Program{Items: []ast.Item{
		&ast.StmtItem{Stmt: &ast.LetStmt{Name: "x", Value: &ast.BinaryExpr{
			Op:    ast.OpAnd,
			Left:  lit(value.Bool(true)),
			Right: lit(value.Bool(false)),
		}}},
	}}
	chunk, err := Compile(prog)
	assert.NoError(t, err)
	assert.True(t, countOp(chunk, bytecode.OpJumpIfFalse) >= 1)
}

// Division by a literal zero is left for the VM, not folded away.
func TestConstantFoldingSkipsDivByLiteralZero(t *testing.T) {
	prog := &ast.Program{Items: []ast.Item{
		&ast.StmtItem{Stmt: &ast.LetStmt{Name: "x", Value: &ast.BinaryExpr{
			Op:    ast.OpDiv,
			Left:  lit(value.Int(10)),
			Right: lit(value.Int(0)),
		}}},
	}}
	chunk, err := Compile(prog)
	assert.NoError(t, err)
	assert.Equal(t, 1, countOp(chunk, bytecode.OpDiv))
}

// match(x) { n if n > 0 => n, _ => 0 } exercises a binding arm with a guard
// followed by an unconditional wildcard, and must compile without panicking
// or leaving the match's own scope unbalanced (the scrutinee slot is reused
// as the match's result slot; see endScopeKeepFirstLocal).
func TestMatchExprBindingWithGuard(t *testing.T) {
	matchExpr := &ast.MatchExpr{
		Scrutinee: &ast.IdentExpr{Name: "x"},
		Arms: []ast.MatchArm{
			{
				Kind:     ast.ArmBinding,
				BindName: "n",
				Guard: &ast.BinaryExpr{
					Op:    ast.OpGt,
					Left:  &ast.IdentExpr{Name: "n"},
					Right: lit(value.Int(0)),
				},
				Body: &ast.IdentExpr{Name: "n"},
			},
			{
				Kind: ast.ArmWildcard,
				Body: lit(value.Int(0)),
			},
		},
	}

	fn := &ast.FunctionItem{
		Name:   "classify",
		Params: []ast.Param{{Name: "x"}},
		Body: &ast.Block{Stmts: []ast.Stmt{
			&ast.ReturnStmt{Value: matchExpr},
		}},
	}
	prog := &ast.Program{Items: []ast.Item{fn}}

	chunk, err := Compile(prog)
	assert.NoError(t, err)
	assert.True(t, countOp(chunk, bytecode.OpClosure) >= 1)

	var fnChunk *bytecode.Chunk
	for _, c := range chunk.Constants {
		if c.Kind == value.KindClosure {
			cd := c.Data.(*value.ClosureData)
			if cd.ChunkRef.Name == "classify" {
				fnChunk = cd.ChunkRef
			}
		}
	}
	assert.NotNil(t, fnChunk)
	assert.Equal(t, 0, countOp(fnChunk, bytecode.OpThrow), "a match with no matching arm yields nil rather than throwing")
	assert.Equal(t, 1, countOp(fnChunk, bytecode.OpReturn))
	assert.Equal(t, 1, countOp(fnChunk, bytecode.OpDeferRun))
}

// require/ensure on a function compile to a single shared epilogue: both
// explicit and fallthrough return paths run the ensure check and DEFER_RUN
// exactly once, and the function emits exactly one final RETURN.
func TestFunctionRequireEnsureSharedEpilogue(t *testing.T) {
	fn := &ast.FunctionItem{
		Name:   "half",
		Params: []ast.Param{{Name: "n"}},
		Requires: []ast.Expr{
			&ast.BinaryExpr{Op: ast.OpGtEq, Left: &ast.IdentExpr{Name: "n"}, Right: lit(value.Int(0))},
		},
		Ensures: []*ast.EnsureClause{
			{ResultName: "result", Body: &ast.BinaryExpr{
				Op: ast.OpGtEq, Left: &ast.IdentExpr{Name: "result"}, Right: lit(value.Int(0)),
			}},
		},
		Body: &ast.Block{Stmts: []ast.Stmt{
			&ast.ReturnStmt{Value: &ast.BinaryExpr{
				Op:    ast.OpDiv,
				Left:  &ast.IdentExpr{Name: "n"},
				Right: lit(value.Int(2)),
			}},
		}},
	}
	prog := &ast.Program{Items: []ast.Item{fn}}

	chunk, err := Compile(prog)
	assert.NoError(t, err)

	var fnChunk *bytecode.Chunk
	for _, c := range chunk.Constants {
		if c.Kind == value.KindClosure {
			cd := c.Data.(*value.ClosureData)
			if cd.ChunkRef.Name == "half" {
				fnChunk = cd.ChunkRef
			}
		}
	}
	assert.NotNil(t, fnChunk)
	assert.Equal(t, 1, countOp(fnChunk, bytecode.OpReturn))
	assert.Equal(t, 1, countOp(fnChunk, bytecode.OpDeferRun))
	assert.Equal(t, 2, countOp(fnChunk, bytecode.OpThrow)) // one require + one ensure
}

// for x in xs { } lowers to an index-counted loop via "len"/INDEX rather
// than a dedicated iterator opcode.
func TestForLoopLowersToIndexCountedLoop(t *testing.T) {
	fn := &ast.FunctionItem{
		Name:   "sumAll",
		Params: []ast.Param{{Name: "xs"}},
		Body: &ast.Block{Stmts: []ast.Stmt{
			&ast.LetStmt{Name: "total", Value: lit(value.Int(0))},
			&ast.ForStmt{
				Binding: "v",
				Iter:    &ast.IdentExpr{Name: "xs"},
				Body: &ast.Block{Stmts: []ast.Stmt{
					&ast.ExprStmt{Expr: &ast.AssignExpr{
						Target: &ast.IdentExpr{Name: "total"},
						Value: &ast.BinaryExpr{
							Op:    ast.OpAdd,
							Left:  &ast.IdentExpr{Name: "total"},
							Right: &ast.IdentExpr{Name: "v"},
						},
					}},
				}},
			},
			&ast.ReturnStmt{Value: &ast.IdentExpr{Name: "total"}},
		}},
	}
	prog := &ast.Program{Items: []ast.Item{fn}}

	chunk, err := Compile(prog)
	assert.NoError(t, err)

	var fnChunk *bytecode.Chunk
	for _, c := range chunk.Constants {
		if c.Kind == value.KindClosure {
			cd := c.Data.(*value.ClosureData)
			if cd.ChunkRef.Name == "sumAll" {
				fnChunk = cd.ChunkRef
			}
		}
	}
	assert.NotNil(t, fnChunk)
	assert.True(t, countOp(fnChunk, bytecode.OpInvoke) >= 1)
	assert.True(t, countOp(fnChunk, bytecode.OpIndex) >= 1)
	assert.True(t, countOp(fnChunk, bytecode.OpLoop) >= 1)
	assert.Equal(t, 1, countOp(fnChunk, bytecode.OpReturn))
}

// defer { ... } emits DEFER_PUSH followed by a JUMP over the inlined body,
// so ordinary forward execution steps past it.
func TestDeferStmtPushesAndSkipsBody(t *testing.T) {
	fn := &ast.FunctionItem{
		Name: "withCleanup",
		Body: &ast.Block{Stmts: []ast.Stmt{
			&ast.DeferStmt{Body: &ast.Block{Stmts: []ast.Stmt{
				&ast.ExprStmt{Expr: lit(value.Int(1))},
			}}},
			&ast.ReturnStmt{Value: lit(value.Int(0))},
		}},
	}
	prog := &ast.Program{Items: []ast.Item{fn}}

	chunk, err := Compile(prog)
	assert.NoError(t, err)

	var fnChunk *bytecode.Chunk
	for _, c := range chunk.Constants {
		if c.Kind == value.KindClosure {
			cd := c.Data.(*value.ClosureData)
			if cd.ChunkRef.Name == "withCleanup" {
				fnChunk = cd.ChunkRef
			}
		}
	}
	assert.NotNil(t, fnChunk)
	assert.Equal(t, 1, countOp(fnChunk, bytecode.OpDeferPush))
	assert.True(t, countOp(fnChunk, bytecode.OpJump) >= 1)
}

// freeze(x) on a bare identifier uses the dedicated FREEZE_VAR fast path
// rather than the generic FREEZE opcode.
func TestFreezeIdentUsesFastPath(t *testing.T) {
	fn := &ast.FunctionItem{
		Name:   "lockIt",
		Params: []ast.Param{{Name: "x"}},
		Body: &ast.Block{Stmts: []ast.Stmt{
			&ast.ReturnStmt{Value: &ast.PhaseOpExpr{
				Kind:   ast.PhaseFreeze,
				Target: &ast.IdentExpr{Name: "x"},
			}},
		}},
	}
	prog := &ast.Program{Items: []ast.Item{fn}}

	chunk, err := Compile(prog)
	assert.NoError(t, err)

	var fnChunk *bytecode.Chunk
	for _, c := range chunk.Constants {
		if c.Kind == value.KindClosure {
			cd := c.Data.(*value.ClosureData)
			if cd.ChunkRef.Name == "lockIt" {
				fnChunk = cd.ChunkRef
			}
		}
	}
	assert.NotNil(t, fnChunk)
	assert.Equal(t, 1, countOp(fnChunk, bytecode.OpFreezeVar))
	assert.Equal(t, 0, countOp(fnChunk, bytecode.OpFreeze))
}

func TestCompileModuleCarriesExportNames(t *testing.T) {
	fn := &ast.FunctionItem{
		Name:     "public",
		Exported: true,
		Body:     &ast.Block{},
	}
	prog := &ast.Program{Items: []ast.Item{fn}}

	chunk, err := CompileModule(prog)
	assert.NoError(t, err)
	assert.True(t, chunk.HasExports)
	assert.Len(t, chunk.ExportNames, 1)
	assert.Equal(t, "public", chunk.ExportNames[0])
}

func TestRedeclaringLocalInSameScopeErrors(t *testing.T) {
	fn := &ast.FunctionItem{
		Name: "dup",
		Body: &ast.Block{Stmts: []ast.Stmt{
			&ast.LetStmt{Name: "a", Value: lit(value.Int(1))},
			&ast.LetStmt{Name: "a", Value: lit(value.Int(2))},
		}},
	}
	prog := &ast.Program{Items: []ast.Item{fn}}

	_, err := Compile(prog)
	assert.Error(t, err)
}
