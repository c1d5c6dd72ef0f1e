package main

import (
	"github.com/lattice-lang/lattice/internal/ast"
	"github.com/lattice-lang/lattice/internal/value"
)

// demo builds a named *ast.Program the way an embedding host would, by
// constructing the tree directly — this module's input contract starts at
// internal/ast, not source text (lexing/parsing is explicitly out of scope;
// see DESIGN.md), so the CLI's demo programs stand in for what a real
// front end would hand the compiler.
type demo struct {
	name string
	doc  string
	prog *ast.Program
}

func demos() []demo {
	return []demo{
		{"fib", "recursive fibonacci(10) via main()", fibDemo()},
		{"phase", "freeze one field of a struct and print it", phaseDemo()},
		{"scope", "spawn two concurrent printers, then run a sync body", scopeDemo()},
	}
}

func lit(v value.LatValue) ast.Expr { return &ast.LiteralExpr{Value: v} }

// fibDemo computes fib(10) recursively and prints it.
func fibDemo() *ast.Program {
	// fn fib(n) { if n < 2 { return n } return fib(n - 1) + fib(n - 2) }
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
		&ast.ExprStmt{Expr: &ast.CallExpr{Callee: &ast.IdentExpr{Name: "println"}, Args: []ast.Expr{
			&ast.CallExpr{Callee: &ast.IdentExpr{Name: "fib"}, Args: []ast.Expr{lit(value.Int(10))}},
		}}},
	}}

	return &ast.Program{Items: []ast.Item{
		&ast.FunctionItem{Name: "fib", Params: []ast.Param{{Name: "n"}}, Body: fibBody},
		&ast.FunctionItem{Name: "main", Body: mainBody},
	}}
}

// phaseDemo builds a Point struct, freezes its "x" field (OP_FREEZE_FIELD),
// and prints the frozen copy's "x". It does not mutate the frozen field.
func phaseDemo() *ast.Program {
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
		&ast.ExprStmt{Expr: &ast.CallExpr{Callee: &ast.IdentExpr{Name: "println"}, Args: []ast.Expr{
			&ast.FieldExpr{Object: &ast.IdentExpr{Name: "frozen"}, Name: "x"},
		}}},
	}}
	return &ast.Program{Items: []ast.Item{
		&ast.FunctionItem{Name: "main", Body: mainBody},
	}}
}

// scopeDemo spawns two blocks concurrently and joins them with a sync body
// — demonstrating OP_SCOPE's structured concurrency.
func scopeDemo() *ast.Program {
	mainBody := &ast.Block{Stmts: []ast.Stmt{
		&ast.ScopeStmt{
			Spawns: []*ast.Block{
				{Stmts: []ast.Stmt{&ast.ExprStmt{Expr: &ast.CallExpr{Callee: &ast.IdentExpr{Name: "println"}, Args: []ast.Expr{lit(value.Str("spawn 1"))}}}}},
				{Stmts: []ast.Stmt{&ast.ExprStmt{Expr: &ast.CallExpr{Callee: &ast.IdentExpr{Name: "println"}, Args: []ast.Expr{lit(value.Str("spawn 2"))}}}}},
			},
			Sync: &ast.Block{Stmts: []ast.Stmt{
				&ast.ExprStmt{Expr: &ast.CallExpr{Callee: &ast.IdentExpr{Name: "println"}, Args: []ast.Expr{lit(value.Str("synced"))}}},
			}},
		},
	}}
	return &ast.Program{Items: []ast.Item{
		&ast.FunctionItem{Name: "main", Body: mainBody},
	}}
}
