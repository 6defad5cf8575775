// Package upcell provides an explicitly scoped exclusive-access wrapper for
// state shared by the kernel's logical flows on a single processor.
//
// Every access site names its scope: either a closure passed to With, or an
// Exclusive/release pair. A scope must never be held across a context
// switch, because the next flow to run would block on it forever. Scopes do
// not nest: opening a second scope on a cell from inside the first blocks
// forever as well.
package upcell

import "sync"

// Cell guards a value of type T.
type Cell[T any] struct {
	mu    sync.Mutex
	value T
}

// New returns a cell holding v.
func New[T any](v T) *Cell[T] {
	return &Cell[T]{value: v}
}

// Exclusive grants exclusive access to the value until release is called.
func (c *Cell[T]) Exclusive() (v *T, release func()) {
	c.mu.Lock()
	return &c.value, c.mu.Unlock
}

// With runs fn with exclusive access to the value.
func (c *Cell[T]) With(fn func(v *T)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.value)
}

// Get runs fn with exclusive access and returns its result.
func Get[T, R any](c *Cell[T], fn func(v *T) R) R {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(&c.value)
}
