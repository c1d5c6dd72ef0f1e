// Package vmerr implements the error taxonomy of spec.md §7: CompileError
// (reported by internal/compiler directly), RuntimeError, PhaseError (a
// runtime-error subkind), and ContractError, plus the formatting the host
// CLI uses to report an error that escaped every handler.
package vmerr

import (
	"fmt"

	"github.com/fatih/color"
)

// Kind distinguishes the three error families a running chunk can raise.
// CompileError is not represented here: it is reported directly by
// internal/compiler as a *compiler.CompileError before the VM ever runs.
type Kind int

const (
	KindRuntime Kind = iota
	KindPhase
	KindContract
)

func (k Kind) String() string {
	switch k {
	case KindRuntime:
		return "RuntimeError"
	case KindPhase:
		return "PhaseError"
	case KindContract:
		return "ContractError"
	default:
		panic("vmerr: unhandled Kind in String")
	}
}

// VMError is the value a RuntimeError/PhaseError/ContractError carries
// through the VM's exception-handler stack. An uncaught THROW is not
// wrapped in a VMError; it reaches the host as internal/vm's own error type.
type VMError struct {
	Kind    Kind
	Line    int
	Message string
}

func (e *VMError) Error() string {
	return fmt.Sprintf("%d:1: %s: %s", e.Line, e.Kind, e.Message)
}

// Runtime builds a RuntimeError for a type mismatch, arity mismatch,
// divide-by-zero, bad index, or missing field/export (spec §7).
func Runtime(line int, format string, args ...any) *VMError {
	return &VMError{Kind: KindRuntime, Line: line, Message: fmt.Sprintf(format, args...)}
}

// Phase builds a PhaseError: freeze-contract violation, anneal on a
// non-crystal value, or mutation of a crystal field (spec §7).
func Phase(line int, format string, args ...any) *VMError {
	return &VMError{Kind: KindPhase, Line: line, Message: fmt.Sprintf(format, args...)}
}

// Contract builds a ContractError in the exact wording spec §7 mandates:
// "require failed in '<fn>': <msg>" / "ensure failed in '<fn>': <msg>".
// The bytecode path does not use this: internal/compiler lowers a failed
// require/ensure clause to a THROW of the plain string
// "require failed in '<fn>'" / "ensure failed in '<fn>'", with no ": <msg>"
// suffix. Contract builds the full form for a contract failure observed
// outside the bytecode path.
func Contract(line int, fnName, clause, msg string) *VMError {
	return &VMError{Kind: KindContract, Line: line, Message: fmt.Sprintf("%s failed in '%s': %s", clause, fnName, msg)}
}

// PrintUncaught writes a colorized banner for an error that unwound past
// every exception handler, in the style of a CLI error report rather than a
// Go panic trace.
func PrintUncaught(w interface{ Write([]byte) (int, error) }, err error) {
	banner := color.New(color.FgRed, color.Bold)
	banner.Fprint(w, "uncaught error: ")
	fmt.Fprintln(w, err.Error())
}
