package compiler

import (
	"fmt"

	"github.com/lattice-lang/lattice/internal/ast"
	"github.com/lattice-lang/lattice/internal/bytecode"
	"github.com/lattice-lang/lattice/internal/value"
)

// compileBlock compiles b's statements into the current scope without
// opening one of its own; callers that need a fresh lexical scope use
// compileNestedBlock instead.
func (c *Compiler) compileBlock(b *ast.Block) {
	for _, s := range b.Stmts {
		c.compileStmt(s)
	}
}

func (c *Compiler) compileNestedBlock(b *ast.Block) {
	c.beginScope()
	c.compileBlock(b)
	c.endScope(0)
}

// compileBlockAsExpr compiles b as an expression: if the last statement is a
// bare expression statement, its value becomes the block's result; otherwise
// the result is Unit. A synthetic result slot is declared first so that any
// locals the block declares can be discarded without disturbing the result
// (see endScopeKeepFirstLocal).
func (c *Compiler) compileBlockAsExpr(b *ast.Block) {
	c.beginScope()
	c.chunk.Emit(bytecode.OpUnit, 0)
	resultSlot := c.declareLocal("<block-result>", 0)
	for i, s := range b.Stmts {
		if i == len(b.Stmts)-1 {
			if es, ok := s.(*ast.ExprStmt); ok {
				c.compileExpr(es.Expr)
				c.chunk.Emit(bytecode.OpSetLocal, 0)
				c.chunk.EmitByte(byte(resultSlot), 0)
				c.chunk.Emit(bytecode.OpPop, 0)
				continue
			}
		}
		c.compileStmt(s)
	}
	c.endScopeKeepFirstLocal(0)
}

// endScopeKeepFirstLocal ends the current scope like endScope, except the
// scope's first-declared local is never popped — its value becomes whatever
// remains on top of the stack once every later local in the scope has been
// discarded. Used wherever a scope is also an expression (match, anneal,
// borrow, crystallize/forge bodies).
func (c *Compiler) endScopeKeepFirstLocal(line int) {
	c.scopeDepth--
	for len(c.locals) > 0 && c.locals[len(c.locals)-1].depth > c.scopeDepth {
		if len(c.locals) == 1 || c.locals[len(c.locals)-2].depth <= c.scopeDepth {
			c.locals = c.locals[:len(c.locals)-1]
			break
		}
		last := c.locals[len(c.locals)-1]
		if last.isCaptured {
			c.chunk.Emit(bytecode.OpCloseUpvalue, line)
		} else {
			c.chunk.Emit(bytecode.OpPop, line)
		}
		c.locals = c.locals[:len(c.locals)-1]
	}
}

func (c *Compiler) compileStmt(s ast.Stmt) {
	switch n := s.(type) {
	case *ast.LetStmt:
		c.compileExpr(n.Value)
		c.declareLocal(n.Name, 0)

	case *ast.ExprStmt:
		c.compileExpr(n.Expr)
		c.chunk.Emit(bytecode.OpPop, 0)

	case *ast.ReturnStmt:
		if n.Value != nil {
			c.compileExpr(n.Value)
		} else {
			c.chunk.Emit(bytecode.OpUnit, 0)
		}
		pos := c.emitJump(bytecode.OpJump, 0)
		c.epilogueJumps = append(c.epilogueJumps, pos)

	case *ast.IfStmt:
		c.compileExpr(n.Cond)
		thenJump := c.emitJump(bytecode.OpJumpIfFalse, 0)
		c.chunk.Emit(bytecode.OpPop, 0)
		c.compileNestedBlock(n.Then)
		if n.Else != nil {
			elseEnd := c.emitJump(bytecode.OpJump, 0)
			c.patchJump(thenJump)
			c.chunk.Emit(bytecode.OpPop, 0)
			c.compileNestedBlock(n.Else)
			c.patchJump(elseEnd)
		} else {
			c.patchJump(thenJump)
			c.chunk.Emit(bytecode.OpPop, 0)
		}

	case *ast.WhileStmt:
		c.compileWhileStmt(n)

	case *ast.ForStmt:
		c.compileForStmt(n)

	case *ast.BreakStmt:
		if len(c.loops) == 0 {
			c.errorf(0, "break used outside a loop")
			return
		}
		lc := c.loops[len(c.loops)-1]
		pos := c.emitJump(bytecode.OpJump, 0)
		lc.breakJumps = append(lc.breakJumps, pos)

	case *ast.ContinueStmt:
		if len(c.loops) == 0 {
			c.errorf(0, "continue used outside a loop")
			return
		}
		lc := c.loops[len(c.loops)-1]
		c.emitLoop(lc.loopStart, 0)

	case *ast.DeferStmt:
		c.compileDeferStmt(n)

	case *ast.ThrowStmt:
		c.compileExpr(n.Value)
		c.chunk.Emit(bytecode.OpThrow, 0)

	case *ast.TryStmt:
		c.compileTryStmt(n)

	case *ast.ScopeStmt:
		c.compileScopeStmt(n)

	case *ast.SelectStmt:
		c.compileSelectStmt(n)

	default:
		panic(fmt.Sprintf("compiler: unhandled ast.Stmt %T", s))
	}
}

func (c *Compiler) compileWhileStmt(n *ast.WhileStmt) {
	loopStart := len(c.chunk.Code)
	lc := &loopCtx{loopStart: loopStart, depthAtLoop: c.scopeDepth}
	c.loops = append(c.loops, lc)

	c.compileExpr(n.Cond)
	exitJump := c.emitJump(bytecode.OpJumpIfFalse, 0)
	c.chunk.Emit(bytecode.OpPop, 0)
	c.compileNestedBlock(n.Body)
	c.emitLoop(loopStart, 0)
	c.patchJump(exitJump)
	c.chunk.Emit(bytecode.OpPop, 0)

	for _, pos := range lc.breakJumps {
		c.patchJump(pos)
	}
	c.loops = c.loops[:len(c.loops)-1]
}

// compileForStmt lowers `for binding in iter { body }` to an index-counted
// loop driven by the runtime's uniform "len"/index-operator dispatch (spec
// §4.4 names no dedicated iterator-protocol opcode, so iteration over both
// arrays and ranges goes through INDEX + an INVOKE("len") call).
func (c *Compiler) compileForStmt(n *ast.ForStmt) {
	c.beginScope()
	c.compileExpr(n.Iter)
	iterSlot := c.declareLocal("<iter>", 0)
	c.chunk.Emit(bytecode.OpLoadInt8, 0)
	c.chunk.EmitByte(0, 0)
	idxSlot := c.declareLocal("<idx>", 0)
	c.chunk.Emit(bytecode.OpUnit, 0)
	bindSlot := c.declareLocal(n.Binding, 0)

	loopStart := len(c.chunk.Code)
	lc := &loopCtx{loopStart: loopStart, depthAtLoop: c.scopeDepth}
	c.loops = append(c.loops, lc)

	c.chunk.Emit(bytecode.OpGetLocal, 0)
	c.chunk.EmitByte(byte(idxSlot), 0)
	c.chunk.Emit(bytecode.OpGetLocal, 0)
	c.chunk.EmitByte(byte(iterSlot), 0)
	lenIdx := c.chunk.AddConstant(value.Str("len"))
	c.chunk.Emit(bytecode.OpInvoke, 0)
	c.chunk.EmitByte(byte(lenIdx), 0)
	c.chunk.EmitByte(0, 0)
	c.chunk.Emit(bytecode.OpLt, 0)
	exitJump := c.emitJump(bytecode.OpJumpIfFalse, 0)
	c.chunk.Emit(bytecode.OpPop, 0)

	c.chunk.Emit(bytecode.OpGetLocal, 0)
	c.chunk.EmitByte(byte(iterSlot), 0)
	c.chunk.Emit(bytecode.OpGetLocal, 0)
	c.chunk.EmitByte(byte(idxSlot), 0)
	c.chunk.Emit(bytecode.OpIndex, 0)
	c.chunk.Emit(bytecode.OpSetLocal, 0)
	c.chunk.EmitByte(byte(bindSlot), 0)
	c.chunk.Emit(bytecode.OpPop, 0)

	c.compileNestedBlock(n.Body)

	c.chunk.Emit(bytecode.OpGetLocal, 0)
	c.chunk.EmitByte(byte(idxSlot), 0)
	c.chunk.Emit(bytecode.OpLoadInt8, 0)
	c.chunk.EmitByte(1, 0)
	c.chunk.Emit(bytecode.OpAdd, 0)
	c.chunk.Emit(bytecode.OpSetLocal, 0)
	c.chunk.EmitByte(byte(idxSlot), 0)
	c.chunk.Emit(bytecode.OpPop, 0)

	c.emitLoop(loopStart, 0)
	c.patchJump(exitJump)
	c.chunk.Emit(bytecode.OpPop, 0)

	for _, pos := range lc.breakJumps {
		c.patchJump(pos)
	}
	c.loops = c.loops[:len(c.loops)-1]
	c.endScope(0)
}

// compileDeferStmt lowers `defer { body }` to DEFER_PUSH (scope_depth,
// body offset, body length) followed by the inlined body, guarded by a jump
// so normal (non-deferred) execution steps over it (spec §4.4: "DEFER_PUSH
// scope_depth,offset + inlined body"; the length operand is this compiler's
// own choice for locating the body's end, per spec §6's note that exact
// encoding is implementation-defined).
func (c *Compiler) compileDeferStmt(n *ast.DeferStmt) {
	c.chunk.Emit(bytecode.OpDeferPush, 0)
	c.chunk.EmitByte(byte(c.scopeDepth), 0)
	offsetPos := len(c.chunk.Code)
	c.chunk.EmitU16(0, 0)
	lengthPos := len(c.chunk.Code)
	c.chunk.EmitU16(0, 0)
	skip := c.emitJump(bytecode.OpJump, 0)

	bodyStart := len(c.chunk.Code)
	c.compileNestedBlock(n.Body)
	bodyLen := len(c.chunk.Code) - bodyStart

	c.chunk.Code[offsetPos] = byte(uint16(bodyStart) >> 8)
	c.chunk.Code[offsetPos+1] = byte(uint16(bodyStart))
	c.chunk.Code[lengthPos] = byte(uint16(bodyLen) >> 8)
	c.chunk.Code[lengthPos+1] = byte(uint16(bodyLen))
	c.patchJump(skip)
}

func (c *Compiler) compileTryStmt(n *ast.TryStmt) {
	handlerPos := c.emitHandlerPush(0)
	c.compileNestedBlock(n.Body)
	c.chunk.Emit(bytecode.OpPopExceptionHandler, 0)
	endJump := c.emitJump(bytecode.OpJump, 0)

	c.patchJump(handlerPos)
	c.beginScope()
	c.declareLocal(n.ErrName, 0)
	c.compileBlock(n.Catch)
	c.endScope(0)
	c.patchJump(endJump)
}

// compileScopeStmt lowers a structured-concurrency `scope { spawn ...; sync
// ... }` block: each spawned block and the sync block compile as their own
// zero-argument closures (spec §4.4: "sub-chunks compiled recursively"),
// referenced from SCOPE's operands by constant index.
func (c *Compiler) compileScopeStmt(n *ast.ScopeStmt) {
	spawnIdxs := make([]int, len(n.Spawns))
	for i, blk := range n.Spawns {
		spawnIdxs[i] = c.compileSubChunkClosure(fmt.Sprintf("<spawn %d>", i), nil, blk)
	}
	syncIdx := c.compileSubChunkClosure("<sync>", nil, n.Sync)

	c.chunk.Emit(bytecode.OpScope, 0)
	c.chunk.EmitByte(byte(len(n.Spawns)), 0)
	c.chunk.EmitByte(byte(syncIdx), 0)
	for _, idx := range spawnIdxs {
		c.chunk.EmitByte(byte(idx), 0)
	}
}

// compileSelectStmt lowers `select { arm... }`. Each arm's channel/timeout
// expression and body compile as their own sub-chunks, analogous to scope's
// spawns (spec §4.4).
func (c *Compiler) compileSelectStmt(n *ast.SelectStmt) {
	c.chunk.Emit(bytecode.OpSelect, 0)
	c.chunk.EmitByte(byte(len(n.Arms)), 0)
	for _, arm := range n.Arms {
		c.chunk.EmitByte(byte(arm.Kind), 0)
		if arm.Chan != nil {
			chanExpr := arm.Chan
			idx := c.compileSubChunkExprClosure("<select-chan>", chanExpr)
			c.chunk.EmitByte(byte(idx), 0)
		} else {
			c.chunk.EmitByte(0, 0)
		}
		if arm.Binding != "" {
			c.chunk.EmitByte(1, 0)
			nameIdx := c.chunk.AddConstant(value.Str(arm.Binding))
			c.chunk.EmitByte(byte(nameIdx), 0)
		} else {
			c.chunk.EmitByte(0, 0)
			c.chunk.EmitByte(0, 0)
		}
		var binding []string
		if arm.Binding != "" {
			binding = []string{arm.Binding}
		}
		idx := c.compileSubChunkClosure("<select-body>", binding, arm.Body)
		c.chunk.EmitByte(byte(idx), 0)
	}
}

// compileSubChunkClosure compiles block as a closure taking one parameter per
// name in params (none for a scope spawn or sync body) and returns its
// constant-pool index in c's chunk.
func (c *Compiler) compileSubChunkClosure(name string, params []string, block *ast.Block) int {
	sc := newCompiler(c, name)
	sc.beginScope()
	for _, p := range params {
		sc.declareLocal(p, 0)
	}
	sc.compileBlock(block)
	sc.chunk.Emit(bytecode.OpUnit, 0)
	for _, pos := range sc.epilogueJumps {
		sc.patchJump(pos)
	}
	sc.chunk.Emit(bytecode.OpDeferRun, 0)
	sc.chunk.EmitByte(0, 0)
	sc.chunk.Emit(bytecode.OpReturn, 0)
	cv := value.LatValue{Kind: value.KindClosure, Data: &value.ClosureData{
		ParamNames: params,
		ParamCount: len(params),
		Upvalues:   sc.upvalues,
		ChunkRef:   sc.chunk,
	}}
	return c.chunk.AddConstant(cv)
}

// compileSubChunkExprClosure compiles a single expression as a zero-argument
// closure returning that expression's value.
func (c *Compiler) compileSubChunkExprClosure(name string, expr ast.Expr) int {
	sc := newCompiler(c, name)
	sc.beginScope()
	sc.compileExpr(expr)
	sc.chunk.Emit(bytecode.OpReturn, 0)
	cv := value.LatValue{Kind: value.KindClosure, Data: &value.ClosureData{ChunkRef: sc.chunk}}
	return c.chunk.AddConstant(cv)
}
