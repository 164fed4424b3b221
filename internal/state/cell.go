// Package state holds shared values that several components observe.
//
// A Cell has a single logical owner per key, last-write-wins semantics and
// broadcasts every committed value to its subscribers. Readers always see a
// whole committed value, never a partially applied update.
package state

import (
	"sync"
	"sync/atomic"
)

// Cell is a replicated value of type T.
//
// Values are treated as immutable once stored: updaters must return a new
// value (for slices, a fresh backing array) instead of mutating the old one.
type Cell[T any] struct {
	key string

	mu      sync.Mutex // serializes writers
	current atomic.Pointer[T]
	version atomic.Uint64

	subsMu sync.Mutex
	subs   map[uint64]chan T
	seq    uint64
}

// NewCell creates a cell identified by key holding initial.
func NewCell[T any](key string, initial T) *Cell[T] {
	c := &Cell[T]{key: key, subs: map[uint64]chan T{}}
	c.current.Store(&initial)
	return c
}

func (c *Cell[T]) Key() string { return c.key }

// Load returns the last committed value.
func (c *Cell[T]) Load() T { return *c.current.Load() }

// Version increments on every committed write.
func (c *Cell[T]) Version() uint64 { return c.version.Load() }

// Store replaces the value and broadcasts it.
func (c *Cell[T]) Store(v T) {
	c.mu.Lock()
	c.commitLocked(v)
	c.mu.Unlock()
}

// Update applies fn to the current value atomically with respect to other
// writers and returns the committed result.
func (c *Cell[T]) Update(fn func(T) T) T {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := fn(*c.current.Load())
	c.commitLocked(next)
	return next
}

func (c *Cell[T]) commitLocked(v T) {
	c.current.Store(&v)
	c.version.Add(1)
	c.broadcast(v)
}

// Subscribe returns a channel receiving every committed value after the call.
// Slow subscribers only ever hold the latest value: an undelivered older value
// is replaced.
func (c *Cell[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan T, buffer)

	c.subsMu.Lock()
	c.seq++
	id := c.seq
	c.subs[id] = ch
	c.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subsMu.Lock()
			delete(c.subs, id)
			c.subsMu.Unlock()
			close(ch)
		})
	}
}

func (c *Cell[T]) broadcast(v T) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- v:
		default:
			// drop oldest, push newest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}
