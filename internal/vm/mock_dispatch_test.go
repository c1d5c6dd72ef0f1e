package vm_test

import (
	"testing"

	gomock "go.uber.org/mock/gomock"

	"github.com/lattice-lang/lattice/internal/ast"
	"github.com/lattice-lang/lattice/internal/compiler"
	"github.com/lattice-lang/lattice/internal/value"
	"github.com/lattice-lang/lattice/internal/vm"
)

// TestInvokeDispatchesThroughMethods exercises OP_INVOKE's handoff to the
// host-provided vm.Methods for a receiver kind (Struct) that the universal
// len/typeName/sliceFrom builtins in internal/vm don't cover themselves —
// confirming the VM calls out to the host rather than handling it inline.
func TestInvokeDispatchesThroughMethods(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockHost := NewMockMethods(ctrl)

	greeting := value.Str("hello, p")
	mockHost.EXPECT().
		Invoke(gomock.Any(), gomock.Any(), "greet", gomock.Any()).
		Return(greeting, nil).
		Times(1)

	mainBody := &ast.Block{Stmts: []ast.Stmt{
		&ast.LetStmt{Name: "p", Value: &ast.StructExpr{
			Name:   "Point",
			Fields: []string{"x"},
			Values: []ast.Expr{lit(value.Int(1))},
		}},
		&ast.ReturnStmt{Value: &ast.InvokeExpr{
			Receiver: &ast.IdentExpr{Name: "p"},
			Method:   "greet",
		}},
	}}
	prog := &ast.Program{Items: []ast.Item{&ast.FunctionItem{Name: "main", Body: mainBody}}}

	chunk, err := compiler.Compile(prog)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	machine := vm.New(mockHost)
	got, err := machine.Run(chunk)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.Kind != value.KindString || got.S != greeting.S {
		t.Fatalf("expected %q, got %v", greeting.S, got)
	}
}
