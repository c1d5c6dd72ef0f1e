// Package env implements the Environment of spec.md §4.7: a refcounted
// lexical scope chain with a global outermost frame.
package env

import (
	"sync/atomic"

	"github.com/lattice-lang/lattice/internal/mapvec"
	"github.com/lattice-lang/lattice/internal/value"
)

// Env is one refcounted frame in a lexical scope chain.
type Env struct {
	parent   *Env
	vars     *mapvec.Map[value.LatValue]
	refCount int64
}

// NewGlobal returns a fresh, parentless frame for the outermost (global)
// scope.
func NewGlobal() *Env {
	return &Env{vars: mapvec.NewMap[value.LatValue](), refCount: 1}
}

// NewChild returns a new frame nested under parent, retaining it.
func NewChild(parent *Env) *Env {
	if parent != nil {
		parent.Retain()
	}
	return &Env{parent: parent, vars: mapvec.NewMap[value.LatValue](), refCount: 1}
}

// Parent returns the enclosing frame, or nil for the global frame.
func (e *Env) Parent() *Env { return e.parent }

// Define binds name in this frame (shadowing any enclosing binding).
func (e *Env) Define(name string, v value.LatValue) {
	e.vars.Put(name, v)
}

// Get walks the chain outward, returning the first binding found.
func (e *Env) Get(name string) (value.LatValue, bool) {
	for f := e; f != nil; f = f.parent {
		if v, ok := f.vars.Get(name); ok {
			return v, true
		}
	}
	return value.LatValue{}, false
}

// Set walks the chain outward and updates the first binding found; it
// reports whether a binding existed to update (an assignment to an
// undefined name is a runtime error at a higher layer, not this one's
// concern).
func (e *Env) Set(name string, v value.LatValue) bool {
	for f := e; f != nil; f = f.parent {
		if f.vars.Has(name) {
			f.vars.Put(name, v)
			return true
		}
	}
	return false
}

// Retain increments the frame's reference count.
func (e *Env) Retain() {
	atomic.AddInt64(&e.refCount, 1)
}

// Release decrements the frame's reference count, releasing the parent in
// turn once it reaches zero.
func (e *Env) Release() {
	if atomic.AddInt64(&e.refCount, -1) == 0 && e.parent != nil {
		e.parent.Release()
	}
}

// RefCount reports the current reference count, for tests.
func (e *Env) RefCount() int64 { return atomic.LoadInt64(&e.refCount) }

// Clone deep-copies the entire chain from e up to (but not including) the
// global frame into fresh frames holding deep-cloned values — used when a
// closure is captured into a crystal value (freezing a closure must not
// leave it aliasing fluid-heap frames, per invariant 2). The global frame is
// shared by reference rather than copied, since globals are never
// arena-local.
func (e *Env) Clone() *Env {
	if e == nil {
		return nil
	}
	if e.parent == nil {
		// Global frame: share by reference, retaining it.
		e.Retain()
		return e
	}
	clonedParent := e.parent.Clone()
	c := &Env{parent: clonedParent, vars: mapvec.NewMap[value.LatValue](), refCount: 1}
	e.vars.ForEach(func(k string, v value.LatValue) bool {
		c.vars.Put(k, value.DeepClone(v))
		return true
	})
	return c
}
