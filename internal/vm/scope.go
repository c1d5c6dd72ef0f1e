package vm

import (
	"sync"
	"time"

	"github.com/lattice-lang/lattice/internal/ast"
	"github.com/lattice-lang/lattice/internal/value"
	"github.com/lattice-lang/lattice/internal/vmerr"
)

// execScope implements OP_SCOPE: spawnCount, syncIdx, then spawnCount
// constant-pool indices of sub-chunk closure templates. Each spawn runs
// concurrently on a forked VM (spec §5's structured-concurrency scope);
// execScope blocks until every spawn has finished, then runs the sync body
// on the calling VM before returning, so the statement is net-zero stack
// effect and the scope as a whole cannot outlive the statement that opened
// it.
func (vm *VM) execScope(f *frame, line int) error {
	spawnCount := int(vm.readByte(f))
	syncIdx := int(vm.readByte(f))
	spawnIdxs := make([]int, spawnCount)
	for i := range spawnIdxs {
		spawnIdxs[i] = int(vm.readByte(f))
	}

	var wg sync.WaitGroup
	errs := make([]error, spawnCount)
	for i, idx := range spawnIdxs {
		cl := vm.bindSubChunkClosure(f, idx)
		wg.Add(1)
		go func(i int, cl value.LatValue) {
			defer wg.Done()
			child := vm.fork()
			_, err := child.runClosureStandalone(cl)
			errs[i] = err
		}(i, cl)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	syncCl := vm.bindSubChunkClosure(f, syncIdx)
	_, err := vm.runClosureStandalone(syncCl)
	return err
}

// evalSubChunkExpr binds and runs a zero-argument sub-chunk closure used as
// an inline expression (a SELECT arm's channel or timeout-duration
// expression), on the calling VM itself rather than a fork, since it must
// observe the caller's own locals/upvalues synchronously.
func (vm *VM) evalSubChunkExpr(f *frame, idx int) (value.LatValue, error) {
	cl := vm.bindSubChunkClosure(f, idx)
	return vm.runClosureStandalone(cl)
}

type selectArm struct {
	kind           ast.SelectArmKind
	chanIdx        byte
	hasBinding     bool
	bindingNameIdx byte
	bodyIdx        byte
}

// execSelect implements OP_SELECT. It busy-polls the channel arms through
// vm.Methods.TryRecv in round-robin order, rather than a reflect-based
// dynamic select over a channel
// slice — structured concurrency in this language only ever multiplexes a
// handful of arms known at compile time, so the poll loop's latency (1ms)
// is an acceptable tradeoff against the complexity of real multi-channel
// parking.
func (vm *VM) execSelect(f *frame, line int) error {
	armCount := int(vm.readByte(f))
	arms := make([]selectArm, armCount)
	for i := range arms {
		arms[i] = selectArm{
			kind:           ast.SelectArmKind(vm.readByte(f)),
			chanIdx:        vm.readByte(f),
			hasBinding:     vm.readByte(f) == 1,
			bindingNameIdx: vm.readByte(f),
			bodyIdx:        vm.readByte(f),
		}
	}

	var chanArms []selectArm
	var defaultArm *selectArm
	var timeoutArm *selectArm
	var deadline time.Time
	hasDeadline := false

	for i := range arms {
		a := arms[i]
		switch a.kind {
		case ast.SelectArmDefault:
			defaultArm = &arms[i]
		case ast.SelectArmTimeout:
			durVal, err := vm.evalSubChunkExpr(f, int(a.chanIdx))
			if err != nil {
				return err
			}
			if durVal.Kind != value.KindInt {
				return vmerr.Runtime(line, "select timeout duration must be Int (milliseconds)")
			}
			deadline = time.Now().Add(time.Duration(durVal.I) * time.Millisecond)
			hasDeadline = true
			timeoutArm = &arms[i]
		case ast.SelectArmChannel:
			chanArms = append(chanArms, a)
		default:
			return vmerr.Runtime(line, "select: unrecognized arm kind")
		}
	}

	for {
		for _, a := range chanArms {
			chVal, err := vm.evalSubChunkExpr(f, int(a.chanIdx))
			if err != nil {
				return err
			}
			if v, ok := vm.Methods.TryRecv(chVal); ok {
				return vm.runSelectBody(f, a, v)
			}
		}
		if hasDeadline && !time.Now().Before(deadline) {
			return vm.runSelectBody(f, *timeoutArm, value.Unit())
		}
		if defaultArm != nil {
			return vm.runSelectBody(f, *defaultArm, value.Unit())
		}
		time.Sleep(time.Millisecond)
	}
}

// runSelectBody runs the body sub-chunk closure of the winning arm,
// supplying the received channel value as its sole bound parameter when the
// arm declared a binding.
func (vm *VM) runSelectBody(f *frame, a selectArm, received value.LatValue) error {
	bodyCl := vm.bindSubChunkClosure(f, int(a.bodyIdx))
	if a.hasBinding {
		_, err := vm.runClosureWithArg(bodyCl, received)
		return err
	}
	_, err := vm.runClosureStandalone(bodyCl)
	return err
}
