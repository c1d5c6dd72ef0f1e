// Command lattice is a small demo/inspection CLI for the execution core:
// it runs one of a handful of embedded demo programs (this module's input
// contract starts at internal/ast, not source text — there is no lexer or
// parser here) and, in REPL mode, lets you step through them interactively.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/lattice-lang/lattice/internal/compiler"
	"github.com/lattice-lang/lattice/internal/runtime"
	"github.com/lattice-lang/lattice/internal/value"
	"github.com/lattice-lang/lattice/internal/vm"
	"github.com/lattice-lang/lattice/internal/vmerr"
)

var (
	version = "0.1.0-dev"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		listDemos   = flag.Bool("list", false, "list the available demo programs")
		runDemo     = flag.String("run", "", "run a demo program by name and exit")
		repl        = flag.Bool("repl", false, "start the interactive demo shell")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("lattice %s\n", version)
		return
	}

	if *listDemos {
		for _, d := range demos() {
			fmt.Printf("%-8s %s\n", d.name, d.doc)
		}
		return
	}

	if *runDemo != "" {
		if err := runByName(*runDemo); err != nil {
			vmerr.PrintUncaught(os.Stdout, err)
			os.Exit(1)
		}
		return
	}

	if *repl {
		runREPL()
		return
	}

	flag.Usage()
}

func findDemo(name string) *demo {
	for _, d := range demos() {
		if d.name == name {
			return &d
		}
	}
	return nil
}

func runByName(name string) error {
	d := findDemo(name)
	if d == nil {
		return fmt.Errorf("no such demo %q", name)
	}
	return execute(d)
}

func execute(d *demo) error {
	chunk, err := compiler.Compile(d.prog)
	if err != nil {
		return err
	}
	machine := vm.New(runtime.Host{})
	for name, fn := range runtime.Builtins() {
		machine.DefineGlobal(name, fn)
	}
	result, err := machine.Run(chunk)
	if err != nil {
		return err
	}
	if result.Kind != value.KindUnit {
		fmt.Println(value.Display(result))
	}
	return nil
}

// runREPL drives a readline loop over the demo catalogue: ":list", ":run
// <name>", ":quit". It is not a language REPL — there is no parser to turn
// typed-in source into an ast.Program — but it lets a user step through the
// execution core's sample programs interactively, which is the CLI's
// actual job.
func runREPL() {
	rl, err := readline.New("lattice> ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer rl.Close()

	banner := color.New(color.FgCyan, color.Bold)
	banner.Println("lattice demo shell — :list, :run <name>, :quit")

	for {
		line, err := rl.Readline()
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == ":quit" || line == ":q":
			return
		case line == ":list":
			for _, d := range demos() {
				fmt.Printf("  %-8s %s\n", d.name, d.doc)
			}
		case strings.HasPrefix(line, ":run "):
			name := strings.TrimSpace(strings.TrimPrefix(line, ":run "))
			if err := runByName(name); err != nil {
				vmerr.PrintUncaught(os.Stdout, err)
			}
		default:
			fmt.Println("unrecognized command; try :list, :run <name>, :quit")
		}
	}
}
