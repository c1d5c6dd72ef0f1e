package compiler

import (
	"fmt"

	"github.com/lattice-lang/lattice/internal/ast"
	"github.com/lattice-lang/lattice/internal/bytecode"
	"github.com/lattice-lang/lattice/internal/value"
)

func (c *Compiler) compileExpr(e ast.Expr) {
	switch n := e.(type) {
	case *ast.LiteralExpr:
		c.compileLiteral(n.Value)

	case *ast.IdentExpr:
		c.compileIdent(n.Name)

	case *ast.BinaryExpr:
		if v, ok := foldConst(n); ok {
			c.emitConstant(v, 0)
			return
		}
		c.compileBinary(n)

	case *ast.UnaryExpr:
		if v, ok := foldConst(n); ok {
			c.emitConstant(v, 0)
			return
		}
		c.compileExpr(n.Operand)
		switch n.Op {
		case ast.OpNeg:
			c.chunk.Emit(bytecode.OpNeg, 0)
		case ast.OpNot:
			c.chunk.Emit(bytecode.OpNot, 0)
		case ast.OpBitNot:
			c.chunk.Emit(bytecode.OpBitNot, 0)
		}

	case *ast.AssignExpr:
		c.compileAssignExpr(n)

	case *ast.CallExpr:
		c.compileExpr(n.Callee)
		for _, a := range n.Args {
			c.compileExpr(a)
		}
		c.chunk.Emit(bytecode.OpCall, 0)
		c.chunk.EmitByte(byte(len(n.Args)), 0)

	case *ast.IndexExpr:
		c.compileExpr(n.Object)
		c.compileExpr(n.Index)
		c.chunk.Emit(bytecode.OpIndex, 0)

	case *ast.FieldExpr:
		c.compileExpr(n.Object)
		nameIdx := c.chunk.AddConstant(value.Str(n.Name))
		c.chunk.Emit(bytecode.OpGetField, 0)
		c.chunk.EmitByte(byte(nameIdx), 0)

	case *ast.InvokeExpr:
		c.compileExpr(n.Receiver)
		for _, a := range n.Args {
			c.compileExpr(a)
		}
		nameIdx := c.chunk.AddConstant(value.Str(n.Method))
		c.chunk.Emit(bytecode.OpInvoke, 0)
		c.chunk.EmitByte(byte(nameIdx), 0)
		c.chunk.EmitByte(byte(len(n.Args)), 0)

	case *ast.ArrayExpr:
		for _, el := range n.Elems {
			c.compileExpr(el)
		}
		c.chunk.Emit(bytecode.OpBuildArray, 0)
		c.chunk.EmitByte(byte(len(n.Elems)), 0)

	case *ast.TupleExpr:
		for _, el := range n.Elems {
			c.compileExpr(el)
		}
		c.chunk.Emit(bytecode.OpBuildTuple, 0)
		c.chunk.EmitByte(byte(len(n.Elems)), 0)

	case *ast.RangeExpr:
		c.compileExpr(n.Start)
		c.compileExpr(n.End)
		c.chunk.Emit(bytecode.OpBuildRange, 0)

	case *ast.StructExpr:
		for _, v := range n.Values {
			c.compileExpr(v)
		}
		nameIdx := c.chunk.AddConstant(value.Str(n.Name))
		fieldsIdx := c.chunk.AddConstant(stringArrayValue(n.Fields))
		c.chunk.Emit(bytecode.OpBuildStruct, 0)
		c.chunk.EmitByte(byte(nameIdx), 0)
		c.chunk.EmitByte(byte(fieldsIdx), 0)
		c.chunk.EmitByte(byte(len(n.Values)), 0)

	case *ast.EnumExpr:
		for _, p := range n.Payload {
			c.compileExpr(p)
		}
		enumIdx := c.chunk.AddConstant(value.Str(n.EnumName))
		variantIdx := c.chunk.AddConstant(value.Str(n.VariantName))
		c.chunk.Emit(bytecode.OpBuildEnum, 0)
		c.chunk.EmitByte(byte(enumIdx), 0)
		c.chunk.EmitByte(byte(variantIdx), 0)
		c.chunk.EmitByte(byte(len(n.Payload)), 0)

	case *ast.FuncExpr:
		c.compileFuncExpr(n)

	case *ast.MatchExpr:
		c.compileMatchExpr(n)

	case *ast.PhaseOpExpr:
		c.compilePhaseOpExpr(n)

	default:
		panic(fmt.Sprintf("compiler: unhandled ast.Expr %T", e))
	}
}

func (c *Compiler) compileLiteral(v value.LatValue) {
	switch v.Kind {
	case value.KindBool:
		if v.B {
			c.chunk.Emit(bytecode.OpTrue, 0)
		} else {
			c.chunk.Emit(bytecode.OpFalse, 0)
		}
	case value.KindNil:
		c.chunk.Emit(bytecode.OpNil, 0)
	case value.KindUnit:
		c.chunk.Emit(bytecode.OpUnit, 0)
	default:
		c.emitConstant(v, 0)
	}
}

func (c *Compiler) emitConstant(v value.LatValue, line int) {
	if v.Kind == value.KindInt && v.I >= -128 && v.I <= 127 {
		c.chunk.Emit(bytecode.OpLoadInt8, line)
		c.chunk.EmitByte(byte(int8(v.I)), line)
		return
	}
	idx := c.chunk.AddConstant(v)
	c.emitGlobalOp(bytecode.OpConstant, bytecode.OpConstant16, idx, line)
}

func (c *Compiler) emitGlobalOp(op8, op16 bytecode.Op, idx int, line int) {
	if idx < 256 {
		c.chunk.Emit(op8, line)
		c.chunk.EmitByte(byte(idx), line)
	} else {
		c.chunk.Emit(op16, line)
		c.chunk.EmitU16(uint16(idx), line)
	}
}

func (c *Compiler) compileIdent(name string) {
	if slot := c.resolveLocal(name); slot >= 0 {
		c.chunk.Emit(bytecode.OpGetLocal, 0)
		c.chunk.EmitByte(byte(slot), 0)
		return
	}
	if idx := c.resolveUpvalue(name); idx >= 0 {
		c.chunk.Emit(bytecode.OpGetUpvalue, 0)
		c.chunk.EmitByte(byte(idx), 0)
		return
	}
	nameIdx := c.chunk.AddConstant(value.Str(name))
	c.emitGlobalOp(bytecode.OpGetGlobal, bytecode.OpGetGlobal16, nameIdx, 0)
}

var binaryOps = map[ast.BinaryOp]bytecode.Op{
	ast.OpAdd: bytecode.OpAdd, ast.OpSub: bytecode.OpSub, ast.OpMul: bytecode.OpMul,
	ast.OpDiv: bytecode.OpDiv, ast.OpMod: bytecode.OpMod,
	ast.OpEq: bytecode.OpEq, ast.OpNeq: bytecode.OpNeq,
	ast.OpLt: bytecode.OpLt, ast.OpGt: bytecode.OpGt, ast.OpLtEq: bytecode.OpLtEq, ast.OpGtEq: bytecode.OpGtEq,
	ast.OpBitAnd: bytecode.OpBitAnd, ast.OpBitOr: bytecode.OpBitOr, ast.OpBitXor: bytecode.OpBitXor,
	ast.OpShl: bytecode.OpShl, ast.OpShr: bytecode.OpShr,
}

func (c *Compiler) compileBinary(n *ast.BinaryExpr) {
	switch n.Op {
	case ast.OpAnd:
		c.compileExpr(n.Left)
		end := c.emitJump(bytecode.OpJumpIfFalse, 0)
		c.chunk.Emit(bytecode.OpPop, 0)
		c.compileExpr(n.Right)
		c.patchJump(end)
	case ast.OpOr:
		c.compileExpr(n.Left)
		elseJump := c.emitJump(bytecode.OpJumpIfFalse, 0)
		end := c.emitJump(bytecode.OpJump, 0)
		c.patchJump(elseJump)
		c.chunk.Emit(bytecode.OpPop, 0)
		c.compileExpr(n.Right)
		c.patchJump(end)
	case ast.OpNilCoalesce:
		c.compileExpr(n.Left)
		notNil := c.emitJump(bytecode.OpJumpIfNotNil, 0)
		c.chunk.Emit(bytecode.OpPop, 0)
		c.compileExpr(n.Right)
		c.patchJump(notNil)
	default:
		c.compileExpr(n.Left)
		c.compileExpr(n.Right)
		op, ok := binaryOps[n.Op]
		if !ok {
			c.errorf(0, "unsupported binary operator %d", n.Op)
			return
		}
		c.chunk.Emit(op, 0)
	}
}

func (c *Compiler) compileAssignExpr(n *ast.AssignExpr) {
	switch t := n.Target.(type) {
	case *ast.IdentExpr:
		c.compileExpr(n.Value)
		c.compileAssignToIdent(t.Name)
	case *ast.IndexExpr:
		c.compileExpr(t.Object)
		c.compileExpr(t.Index)
		c.compileExpr(n.Value)
		c.chunk.Emit(bytecode.OpSetIndex, 0)
	case *ast.FieldExpr:
		c.compileExpr(t.Object)
		nameIdx := c.chunk.AddConstant(value.Str(t.Name))
		c.compileExpr(n.Value)
		c.chunk.Emit(bytecode.OpSetField, 0)
		c.chunk.EmitByte(byte(nameIdx), 0)
	default:
		c.errorf(0, "unsupported assignment target %T", n.Target)
	}
}

// compileAssignToIdent stores the value already on top of the stack into
// name's binding, leaving the value on the stack (assignment is itself an
// expression).
func (c *Compiler) compileAssignToIdent(name string) {
	if slot := c.resolveLocal(name); slot >= 0 {
		c.chunk.Emit(bytecode.OpSetLocal, 0)
		c.chunk.EmitByte(byte(slot), 0)
		return
	}
	if idx := c.resolveUpvalue(name); idx >= 0 {
		c.chunk.Emit(bytecode.OpSetUpvalue, 0)
		c.chunk.EmitByte(byte(idx), 0)
		return
	}
	nameIdx := c.chunk.AddConstant(value.Str(name))
	c.emitGlobalOp(bytecode.OpSetGlobal, bytecode.OpSetGlobal16, nameIdx, 0)
}

func (c *Compiler) compileFuncExpr(fe *ast.FuncExpr) {
	fc := newCompiler(c, "<closure>")
	fc.beginScope()
	for _, p := range fe.Params {
		fc.declareLocal(p.Name, 0)
	}
	fc.compileBlock(fe.Body)
	fc.chunk.Emit(bytecode.OpUnit, 0)
	for _, pos := range fc.epilogueJumps {
		fc.patchJump(pos)
	}
	fc.chunk.Emit(bytecode.OpDeferRun, 0)
	fc.chunk.EmitByte(0, 0)
	fc.chunk.Emit(bytecode.OpReturn, 0)

	fc.chunk.ParamPhases = make([]value.Phase, len(fe.Params))
	for i, p := range fe.Params {
		fc.chunk.ParamPhases[i] = p.Phase
		if p.Variadic {
			fc.chunk.FnHasVariadic = true
		}
	}

	closureVal := value.LatValue{Kind: value.KindClosure, Data: &value.ClosureData{
		ParamNames:  paramNames(fe.Params),
		ParamCount:  len(fe.Params),
		HasVariadic: fc.chunk.FnHasVariadic,
		Upvalues:    fc.upvalues,
		ChunkRef:    fc.chunk,
	}}
	idx := c.chunk.AddConstant(closureVal)
	c.chunk.Emit(bytecode.OpClosure, 0)
	c.chunk.EmitByte(byte(idx), 0)
	c.chunk.EmitByte(byte(len(fc.upvalues)), 0)
	for _, u := range fc.upvalues {
		if u.IsLocal {
			c.chunk.EmitByte(1, 0)
		} else {
			c.chunk.EmitByte(0, 0)
		}
		c.chunk.EmitByte(byte(u.Index), 0)
	}
}

func stringArrayValue(names []string) value.LatValue {
	elems := make([]value.LatValue, len(names))
	for i, n := range names {
		elems[i] = value.Str(n)
	}
	return value.Array(elems...)
}

// --- constant folding (spec §4.4) ---
//
// Folds arithmetic, comparison, bitwise, unary, and string-concatenation
// operators over literal operands. Short-circuit operators (AND/OR/nil
// coalesce) are never folded, and division/modulo by a literal zero is left
// for the VM to report as a RuntimeError rather than folded away.

func foldConst(e ast.Expr) (value.LatValue, bool) {
	switch n := e.(type) {
	case *ast.LiteralExpr:
		return n.Value, true
	case *ast.UnaryExpr:
		v, ok := foldConst(n.Operand)
		if !ok {
			return value.LatValue{}, false
		}
		switch n.Op {
		case ast.OpNeg:
			switch v.Kind {
			case value.KindInt:
				return value.Int(-v.I), true
			case value.KindFloat:
				return value.Float(-v.F), true
			}
		case ast.OpNot:
			if v.Kind == value.KindBool {
				return value.Bool(!v.B), true
			}
		case ast.OpBitNot:
			if v.Kind == value.KindInt {
				return value.Int(^v.I), true
			}
		}
		return value.LatValue{}, false
	case *ast.BinaryExpr:
		if n.Op == ast.OpAnd || n.Op == ast.OpOr || n.Op == ast.OpNilCoalesce {
			return value.LatValue{}, false
		}
		l, lok := foldConst(n.Left)
		if !lok {
			return value.LatValue{}, false
		}
		r, rok := foldConst(n.Right)
		if !rok {
			return value.LatValue{}, false
		}
		return foldBinary(n.Op, l, r)
	default:
		return value.LatValue{}, false
	}
}

func foldBinary(op ast.BinaryOp, l, r value.LatValue) (value.LatValue, bool) {
	if op == ast.OpAdd && l.Kind == value.KindString && r.Kind == value.KindString {
		return value.Str(l.S + r.S), true
	}
	if l.Kind == value.KindInt && r.Kind == value.KindInt {
		switch op {
		case ast.OpAdd:
			return value.Int(l.I + r.I), true
		case ast.OpSub:
			return value.Int(l.I - r.I), true
		case ast.OpMul:
			return value.Int(l.I * r.I), true
		case ast.OpDiv:
			if r.I == 0 {
				return value.LatValue{}, false
			}
			return value.Int(l.I / r.I), true
		case ast.OpMod:
			if r.I == 0 {
				return value.LatValue{}, false
			}
			return value.Int(l.I % r.I), true
		case ast.OpBitAnd:
			return value.Int(l.I & r.I), true
		case ast.OpBitOr:
			return value.Int(l.I | r.I), true
		case ast.OpBitXor:
			return value.Int(l.I ^ r.I), true
		case ast.OpShl:
			return value.Int(l.I << uint(r.I)), true
		case ast.OpShr:
			return value.Int(l.I >> uint(r.I)), true
		case ast.OpEq:
			return value.Bool(l.I == r.I), true
		case ast.OpNeq:
			return value.Bool(l.I != r.I), true
		case ast.OpLt:
			return value.Bool(l.I < r.I), true
		case ast.OpGt:
			return value.Bool(l.I > r.I), true
		case ast.OpLtEq:
			return value.Bool(l.I <= r.I), true
		case ast.OpGtEq:
			return value.Bool(l.I >= r.I), true
		}
		return value.LatValue{}, false
	}
	isNum := func(v value.LatValue) bool { return v.Kind == value.KindInt || v.Kind == value.KindFloat }
	if isNum(l) && isNum(r) {
		asFloat := func(v value.LatValue) float64 {
			if v.Kind == value.KindInt {
				return float64(v.I)
			}
			return v.F
		}
		lf, rf := asFloat(l), asFloat(r)
		switch op {
		case ast.OpAdd:
			return value.Float(lf + rf), true
		case ast.OpSub:
			return value.Float(lf - rf), true
		case ast.OpMul:
			return value.Float(lf * rf), true
		case ast.OpDiv:
			if rf == 0 {
				return value.LatValue{}, false
			}
			return value.Float(lf / rf), true
		case ast.OpEq:
			return value.Bool(lf == rf), true
		case ast.OpNeq:
			return value.Bool(lf != rf), true
		case ast.OpLt:
			return value.Bool(lf < rf), true
		case ast.OpGt:
			return value.Bool(lf > rf), true
		case ast.OpLtEq:
			return value.Bool(lf <= rf), true
		case ast.OpGtEq:
			return value.Bool(lf >= rf), true
		}
		return value.LatValue{}, false
	}
	if l.Kind == value.KindBool && r.Kind == value.KindBool {
		switch op {
		case ast.OpEq:
			return value.Bool(l.B == r.B), true
		case ast.OpNeq:
			return value.Bool(l.B != r.B), true
		}
	}
	return value.LatValue{}, false
}
