package vm_test

import (
	"testing"

	"github.com/lattice-lang/lattice/internal/ast"
	"github.com/lattice-lang/lattice/internal/compiler"
	"github.com/lattice-lang/lattice/internal/runtime"
	"github.com/lattice-lang/lattice/internal/value"
	"github.com/lattice-lang/lattice/internal/vm"
)

func lit(v value.LatValue) ast.Expr { return &ast.LiteralExpr{Value: v} }

func newMachine() *vm.VM {
	machine := vm.New(runtime.Host{})
	for name, fn := range runtime.Builtins() {
		machine.DefineGlobal(name, fn)
	}
	return machine
}

func runProgram(t *testing.T, prog *ast.Program) value.LatValue {
	t.Helper()
	chunk, err := compiler.Compile(prog)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	result, err := newMachine().Run(chunk)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return result
}

func TestArithmeticAndReturn(t *testing.T) {
	prog := &ast.Program{Items: []ast.Item{
		&ast.StmtItem{Stmt: &ast.ReturnStmt{Value: &ast.BinaryExpr{
			Op:    ast.OpAdd,
			Left:  lit(value.Int(1)),
			Right: &ast.BinaryExpr{Op: ast.OpMul, Left: lit(value.Int(2)), Right: lit(value.Int(3))},
		}}},
	}}
	got := runProgram(t, prog)
	if got.Kind != value.KindInt || got.I != 7 {
		t.Fatalf("expected Int(7), got %v", got)
	}
}

func TestRecursiveCall(t *testing.T) {
	nLt2 := &ast.BinaryExpr{Op: ast.OpLt, Left: &ast.IdentExpr{Name: "n"}, Right: lit(value.Int(2))}
	fibBody := &ast.Block{Stmts: []ast.Stmt{
		&ast.IfStmt{
			Cond: nLt2,
			Then: &ast.Block{Stmts: []ast.Stmt{&ast.ReturnStmt{Value: &ast.IdentExpr{Name: "n"}}}},
		},
		&ast.ReturnStmt{Value: &ast.BinaryExpr{
			Op: ast.OpAdd,
			Left: &ast.CallExpr{Callee: &ast.IdentExpr{Name: "fib"}, Args: []ast.Expr{
				&ast.BinaryExpr{Op: ast.OpSub, Left: &ast.IdentExpr{Name: "n"}, Right: lit(value.Int(1))},
			}},
			Right: &ast.CallExpr{Callee: &ast.IdentExpr{Name: "fib"}, Args: []ast.Expr{
				&ast.BinaryExpr{Op: ast.OpSub, Left: &ast.IdentExpr{Name: "n"}, Right: lit(value.Int(2))},
			}},
		}},
	}}
	mainBody := &ast.Block{Stmts: []ast.Stmt{
		&ast.ReturnStmt{Value: &ast.CallExpr{Callee: &ast.IdentExpr{Name: "fib"}, Args: []ast.Expr{lit(value.Int(10))}}},
	}}
	prog := &ast.Program{Items: []ast.Item{
		&ast.FunctionItem{Name: "fib", Params: []ast.Param{{Name: "n"}}, Body: fibBody},
		&ast.FunctionItem{Name: "main", Body: mainBody},
	}}
	got := runProgram(t, prog)
	if got.Kind != value.KindInt || got.I != 55 {
		t.Fatalf("expected fib(10) == 55, got %v", got)
	}
}

func TestFreezeFieldThenMutateIsPhaseError(t *testing.T) {
	mainBody := &ast.Block{Stmts: []ast.Stmt{
		&ast.LetStmt{Name: "p", Value: &ast.StructExpr{
			Name:   "Point",
			Fields: []string{"x", "y"},
			Values: []ast.Expr{lit(value.Int(1)), lit(value.Int(2))},
		}},
		&ast.LetStmt{Name: "frozen", Value: &ast.PhaseOpExpr{
			Kind:   ast.PhaseFreeze,
			Target: &ast.FieldExpr{Object: &ast.IdentExpr{Name: "p"}, Name: "x"},
		}},
		&ast.ExprStmt{Expr: &ast.AssignExpr{
			Target: &ast.FieldExpr{Object: &ast.IdentExpr{Name: "frozen"}, Name: "x"},
			Value:  lit(value.Int(99)),
		}},
	}}
	prog := &ast.Program{Items: []ast.Item{&ast.FunctionItem{Name: "main", Body: mainBody}}}

	chunk, err := compiler.Compile(prog)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, err := newMachine().Run(chunk); err == nil {
		t.Fatal("expected a PhaseError mutating a frozen field, got nil")
	}
}

func TestArrayPushAndLen(t *testing.T) {
	mainBody := &ast.Block{Stmts: []ast.Stmt{
		&ast.LetStmt{Name: "xs", Value: &ast.ArrayExpr{Elems: []ast.Expr{lit(value.Int(1)), lit(value.Int(2))}}},
		&ast.ExprStmt{Expr: &ast.InvokeExpr{Receiver: &ast.IdentExpr{Name: "xs"}, Method: "push", Args: []ast.Expr{lit(value.Int(3))}}},
		&ast.ReturnStmt{Value: &ast.InvokeExpr{Receiver: &ast.IdentExpr{Name: "xs"}, Method: "len"}},
	}}
	prog := &ast.Program{Items: []ast.Item{&ast.FunctionItem{Name: "main", Body: mainBody}}}
	got := runProgram(t, prog)
	if got.Kind != value.KindInt || got.I != 3 {
		t.Fatalf("expected len(xs) == 3 after push, got %v", got)
	}
}
