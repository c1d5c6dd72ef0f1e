package compiler

import (
	"fmt"

	"github.com/lattice-lang/lattice/internal/ast"
	"github.com/lattice-lang/lattice/internal/bytecode"
	"github.com/lattice-lang/lattice/internal/value"
)

// compileMatchExpr lowers a match expression (spec §4.4: "scrutinee stays on
// stack"; literal/wildcard/range/binding/structural arms; guards; one rest
// element in array patterns"). The scrutinee's stack slot doubles as the
// eventual result slot: whichever arm matches overwrites it with its body's
// value before the match's own scope closes (see endScopeKeepFirstLocal).
func (c *Compiler) compileMatchExpr(m *ast.MatchExpr) {
	c.beginScope()
	c.compileExpr(m.Scrutinee)
	scrutSlot := c.declareLocal("<scrutinee>", 0)

	var endJumps []int
	for i := range m.Arms {
		arm := &m.Arms[i]
		c.beginScope()
		armBase := len(c.locals)
		nextArmJumps := c.compileArmTest(arm, scrutSlot)
		if arm.Guard != nil {
			c.compileExpr(arm.Guard)
			guardFail := c.emitJump(bytecode.OpJumpIfFalse, 0)
			c.chunk.Emit(bytecode.OpPop, 0)
			nextArmJumps = append(nextArmJumps, guardFail)
		}
		c.compileExpr(arm.Body)
		c.chunk.Emit(bytecode.OpSetLocal, 0)
		c.chunk.EmitByte(byte(scrutSlot), 0)
		c.chunk.Emit(bytecode.OpPop, 0)
		armLocals := len(c.locals) - armBase
		c.endScope(0)
		endJumps = append(endJumps, c.emitJump(bytecode.OpJump, 0))

		// A failed test or guard lands here with its bool on top of the
		// arm's bindings; drop both. The arm's scope is already closed above.
		for _, pos := range nextArmJumps {
			c.patchJump(pos)
		}
		if len(nextArmJumps) > 0 {
			for j := 0; j <= armLocals; j++ {
				c.chunk.Emit(bytecode.OpPop, 0)
			}
		}
	}

	c.chunk.Emit(bytecode.OpNil, 0)
	c.chunk.Emit(bytecode.OpSetLocal, 0)
	c.chunk.EmitByte(byte(scrutSlot), 0)
	c.chunk.Emit(bytecode.OpPop, 0)

	for _, pos := range endJumps {
		c.patchJump(pos)
	}
	c.endScopeKeepFirstLocal(0)
}

// compileArmTest compiles the pattern-match test for one arm against the
// value held in slot scrutSlot. It returns the positions of every
// JUMP_IF_FALSE emitted for a failed sub-test (to be patched to "try the
// next arm"); any bindings the pattern introduces are declared as locals of
// the caller's current (per-arm) scope.
func (c *Compiler) compileArmTest(arm *ast.MatchArm, scrutSlot int) []int {
	switch arm.Kind {
	case ast.ArmWildcard:
		if arm.Phase == value.UNPHASED {
			return nil
		}
		c.chunk.Emit(bytecode.OpGetLocal, 0)
		c.chunk.EmitByte(byte(scrutSlot), 0)
		if arm.Phase == value.CRYSTAL {
			c.chunk.Emit(bytecode.OpIsCrystal, 0)
		} else {
			c.chunk.Emit(bytecode.OpIsFluid, 0)
		}
		fail := c.emitJump(bytecode.OpJumpIfFalse, 0)
		c.chunk.Emit(bytecode.OpPop, 0)
		return []int{fail}

	case ast.ArmLiteral:
		c.chunk.Emit(bytecode.OpGetLocal, 0)
		c.chunk.EmitByte(byte(scrutSlot), 0)
		c.compileExpr(arm.Literal)
		c.chunk.Emit(bytecode.OpEq, 0)
		fail := c.emitJump(bytecode.OpJumpIfFalse, 0)
		c.chunk.Emit(bytecode.OpPop, 0)
		return []int{fail}

	case ast.ArmRange:
		c.chunk.Emit(bytecode.OpGetLocal, 0)
		c.chunk.EmitByte(byte(scrutSlot), 0)
		c.compileExpr(arm.RangeLow)
		c.chunk.Emit(bytecode.OpGtEq, 0)
		fail1 := c.emitJump(bytecode.OpJumpIfFalse, 0)
		c.chunk.Emit(bytecode.OpPop, 0)
		c.chunk.Emit(bytecode.OpGetLocal, 0)
		c.chunk.EmitByte(byte(scrutSlot), 0)
		c.compileExpr(arm.RangeHigh)
		c.chunk.Emit(bytecode.OpLtEq, 0)
		fail2 := c.emitJump(bytecode.OpJumpIfFalse, 0)
		c.chunk.Emit(bytecode.OpPop, 0)
		return []int{fail1, fail2}

	case ast.ArmBinding:
		c.chunk.Emit(bytecode.OpGetLocal, 0)
		c.chunk.EmitByte(byte(scrutSlot), 0)
		c.declareLocal(arm.BindName, 0)
		return nil

	case ast.ArmStructural:
		return c.compileStructuralTest(arm, scrutSlot)

	default:
		panic(fmt.Sprintf("compiler: unhandled ast.MatchArmKind %d", arm.Kind))
	}
}

func (c *Compiler) compileStructuralTest(arm *ast.MatchArm, scrutSlot int) []int {
	var jumps []int

	if arm.StructName != "" {
		c.chunk.Emit(bytecode.OpGetLocal, 0)
		c.chunk.EmitByte(byte(scrutSlot), 0)
		typeNameIdx := c.chunk.AddConstant(value.Str("typeName"))
		c.chunk.Emit(bytecode.OpInvoke, 0)
		c.chunk.EmitByte(byte(typeNameIdx), 0)
		c.chunk.EmitByte(0, 0)
		c.emitConstant(value.Str(arm.StructName), 0)
		c.chunk.Emit(bytecode.OpEq, 0)
		fail := c.emitJump(bytecode.OpJumpIfFalse, 0)
		c.chunk.Emit(bytecode.OpPop, 0)
		jumps = append(jumps, fail)

		for i, fieldName := range arm.FieldNames {
			c.chunk.Emit(bytecode.OpGetLocal, 0)
			c.chunk.EmitByte(byte(scrutSlot), 0)
			nameIdx := c.chunk.AddConstant(value.Str(fieldName))
			c.chunk.Emit(bytecode.OpGetField, 0)
			c.chunk.EmitByte(byte(nameIdx), 0)
			fieldSlot := c.declareLocal(fmt.Sprintf("<field %s>", fieldName), 0)
			jumps = append(jumps, c.compileArmTest(arm.FieldPats[i], fieldSlot)...)
		}
		return jumps
	}

	// Array pattern: test length, then each fixed element, with at most one
	// rest element absorbing the remainder (spec §4.4).
	c.chunk.Emit(bytecode.OpGetLocal, 0)
	c.chunk.EmitByte(byte(scrutSlot), 0)
	lenIdx := c.chunk.AddConstant(value.Str("len"))
	c.chunk.Emit(bytecode.OpInvoke, 0)
	c.chunk.EmitByte(byte(lenIdx), 0)
	c.chunk.EmitByte(0, 0)
	c.emitConstant(value.Int(int64(len(arm.ElemPats))), 0)
	if arm.RestAt >= 0 {
		c.chunk.Emit(bytecode.OpGtEq, 0)
	} else {
		c.chunk.Emit(bytecode.OpEq, 0)
	}
	fail := c.emitJump(bytecode.OpJumpIfFalse, 0)
	c.chunk.Emit(bytecode.OpPop, 0)
	jumps = append(jumps, fail)

	for i, sub := range arm.ElemPats {
		if i == arm.RestAt {
			c.chunk.Emit(bytecode.OpGetLocal, 0)
			c.chunk.EmitByte(byte(scrutSlot), 0)
			c.emitConstant(value.Int(int64(i)), 0)
			sliceIdx := c.chunk.AddConstant(value.Str("sliceFrom"))
			c.chunk.Emit(bytecode.OpInvoke, 0)
			c.chunk.EmitByte(byte(sliceIdx), 0)
			c.chunk.EmitByte(1, 0)
			restSlot := c.declareLocal(sub.BindName, 0)
			_ = restSlot
			continue
		}
		c.chunk.Emit(bytecode.OpGetLocal, 0)
		c.chunk.EmitByte(byte(scrutSlot), 0)
		c.emitConstant(value.Int(int64(i)), 0)
		c.chunk.Emit(bytecode.OpIndex, 0)
		elemSlot := c.declareLocal(fmt.Sprintf("<elem %d>", i), 0)
		jumps = append(jumps, c.compileArmTest(sub, elemSlot)...)
	}
	return jumps
}

// compilePhaseOpExpr lowers freeze/thaw/anneal/crystallize/borrow/forge/
// sublimate (spec §4.4, glossary) to the phase opcodes of spec §6.
func (c *Compiler) compilePhaseOpExpr(n *ast.PhaseOpExpr) {
	switch n.Kind {
	case ast.PhaseFreeze:
		c.compileFreeze(n)
	case ast.PhaseThaw:
		c.compileThaw(n)
	case ast.PhaseCrystallize, ast.PhaseForge:
		// Both compound forms run their body as an ordinary (fluid) block
		// and freeze the resulting value; they differ in source-level
		// intent (building vs. converting), not in the bytecode emitted.
		c.compileBlockAsExpr(n.Body)
		c.chunk.Emit(bytecode.OpFreeze, 0)
	case ast.PhaseBorrow:
		c.compileBorrow(n)
	case ast.PhaseAnneal:
		c.compileAnneal(n)
	case ast.PhaseSublimate:
		// One-way: freeze with no thaw-back path (see DESIGN.md open-question
		// decision on "sublimate").
		c.compileExpr(n.Target)
		c.chunk.Emit(bytecode.OpSublimate, 0)
	default:
		panic(fmt.Sprintf("compiler: unhandled ast.PhaseOpKind %d", n.Kind))
	}
}

func (c *Compiler) compileFreeze(n *ast.PhaseOpExpr) {
	if len(n.Except) > 0 {
		c.compileExpr(n.Target)
		exceptIdx := c.chunk.AddConstant(stringArrayValue(n.Except))
		c.chunk.Emit(bytecode.OpFreezeExcept, 0)
		c.chunk.EmitByte(byte(exceptIdx), 0)
		return
	}
	if fe, ok := n.Target.(*ast.FieldExpr); ok {
		c.compileExpr(fe.Object)
		nameIdx := c.chunk.AddConstant(value.Str(fe.Name))
		c.chunk.Emit(bytecode.OpFreezeField, 0)
		c.chunk.EmitByte(byte(nameIdx), 0)
		return
	}
	if id, ok := n.Target.(*ast.IdentExpr); ok {
		if slot := c.resolveLocal(id.Name); slot >= 0 {
			c.chunk.Emit(bytecode.OpFreezeVar, 0)
			c.chunk.EmitByte(byte(slot), 0)
			c.chunk.Emit(bytecode.OpGetLocal, 0)
			c.chunk.EmitByte(byte(slot), 0)
			return
		}
	}
	c.compileExpr(n.Target)
	c.chunk.Emit(bytecode.OpFreeze, 0)
}

func (c *Compiler) compileThaw(n *ast.PhaseOpExpr) {
	if id, ok := n.Target.(*ast.IdentExpr); ok {
		if slot := c.resolveLocal(id.Name); slot >= 0 {
			c.chunk.Emit(bytecode.OpThawVar, 0)
			c.chunk.EmitByte(byte(slot), 0)
			c.chunk.Emit(bytecode.OpGetLocal, 0)
			c.chunk.EmitByte(byte(slot), 0)
			return
		}
	}
	c.compileExpr(n.Target)
	c.chunk.Emit(bytecode.OpThaw, 0)
}

// compileBorrow thaws Target for the duration of Body (rebinding Target's
// own name to the fluid copy), then re-freezes and writes the result back.
func (c *Compiler) compileBorrow(n *ast.PhaseOpExpr) {
	id, ok := n.Target.(*ast.IdentExpr)
	if !ok {
		c.errorf(0, "borrow requires an identifier target")
		return
	}
	c.compileExpr(n.Target)
	c.chunk.Emit(bytecode.OpThaw, 0)
	c.compileAssignToIdent(id.Name)
	c.chunk.Emit(bytecode.OpPop, 0)

	c.compileNestedBlock(n.Body)

	c.compileExpr(n.Target)
	c.chunk.Emit(bytecode.OpFreeze, 0)
	c.compileAssignToIdent(id.Name)
}

// compileAnneal applies Fn to a thawed copy of Target, then refreezes the
// result back into Target's own storage (spec §4.4: anneal "refreezes into
// the original location"). Target must already be crystal — annealing a
// fluid value is a PhaseError (spec §7) — and must be an identifier, the
// same restriction compileBorrow applies, since there is no other storage
// class to write the refrozen result back into. A Fn that raises surfaces
// wrapped with an "anneal failed: " prefix rather than propagating as-is.
func (c *Compiler) compileAnneal(n *ast.PhaseOpExpr) {
	id, ok := n.Target.(*ast.IdentExpr)
	if !ok {
		c.errorf(0, "anneal requires an identifier target")
		return
	}

	c.beginScope()
	c.compileExpr(n.Target)
	c.chunk.Emit(bytecode.OpRequireCrystal, 0)
	c.chunk.Emit(bytecode.OpThaw, 0)
	thawedSlot := c.declareLocal("<anneal>", 0)

	handlerPos := c.emitHandlerPush(0)
	c.compileExpr(n.Fn)
	c.chunk.Emit(bytecode.OpGetLocal, 0)
	c.chunk.EmitByte(byte(thawedSlot), 0)
	c.chunk.Emit(bytecode.OpCall, 0)
	c.chunk.EmitByte(1, 0)
	c.chunk.Emit(bytecode.OpPopExceptionHandler, 0)
	afterCatch := c.emitJump(bytecode.OpJump, 0)

	c.patchJump(handlerPos)
	prefixIdx := c.chunk.AddConstant(value.Str("anneal failed: "))
	c.chunk.Emit(bytecode.OpThrowWrapped, 0)
	c.chunk.EmitByte(byte(prefixIdx), 0)

	c.patchJump(afterCatch)
	c.chunk.Emit(bytecode.OpFreeze, 0)
	c.chunk.Emit(bytecode.OpSetLocal, 0)
	c.chunk.EmitByte(byte(thawedSlot), 0)
	c.chunk.Emit(bytecode.OpPop, 0)

	c.chunk.Emit(bytecode.OpGetLocal, 0)
	c.chunk.EmitByte(byte(thawedSlot), 0)
	c.compileAssignToIdent(id.Name)
	c.chunk.Emit(bytecode.OpPop, 0)
	c.endScopeKeepFirstLocal(0)
}
