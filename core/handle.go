package core

import (
	"fmt"
	"sync"
)

// Handle addresses an entry of a HandleTable.
// A handle whose slot has been released and reused never resolves again,
// because the slot generation no longer matches.
type Handle struct {
	// Index is the slot in the table
	Index uint32

	// Generation is the slot generation the handle was issued for
	Generation uint32
}

// IsZero reports whether the handle was never issued.
func (h Handle) IsZero() bool {
	return h.Generation == 0
}

// String returns a string representation of the handle.
func (h Handle) String() string {
	return fmt.Sprintf(":%08x.%d", h.Index, h.Generation)
}

type slot[T any] struct {
	value      T
	generation uint32
	used       bool
}

// HandleTable is an arena of values addressed by generation-checked handles.
type HandleTable[T any] struct {
	mu sync.RWMutex

	slots []slot[T]

	// Indexes of released slots, reused LIFO
	free []uint32

	live int
}

// NewHandleTable creates an empty HandleTable.
func NewHandleTable[T any]() *HandleTable[T] {
	return &HandleTable[T]{}
}

// Allocate stores value and returns its handle.
func (t *HandleTable[T]) Allocate(value T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	var index uint32
	if n := len(t.free); n > 0 {
		index = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		index = uint32(len(t.slots))
		t.slots = append(t.slots, slot[T]{})
	}

	s := &t.slots[index]
	s.generation++
	s.value = value
	s.used = true
	t.live++

	return Handle{Index: index, Generation: s.generation}
}

// Get resolves a handle.
func (t *HandleTable[T]) Get(h Handle) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var zero T
	if int(h.Index) >= len(t.slots) {
		return zero, false
	}
	s := t.slots[h.Index]
	if !s.used || s.generation != h.Generation {
		return zero, false
	}
	return s.value, true
}

// Release frees the slot of h. Stale handles are rejected.
func (t *HandleTable[T]) Release(h Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if int(h.Index) >= len(t.slots) {
		return fmt.Errorf("%w: %s", ErrHandleNotFound, h)
	}
	s := &t.slots[h.Index]
	if !s.used || s.generation != h.Generation {
		return fmt.Errorf("%w: %s", ErrHandleNotFound, h)
	}

	var zero T
	s.value = zero
	s.used = false
	t.free = append(t.free, h.Index)
	t.live--

	return nil
}

// Len returns the number of live entries.
func (t *HandleTable[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live
}

// Range calls fn for every live entry until fn returns false.
// fn runs on a snapshot and may call back into the table.
func (t *HandleTable[T]) Range(fn func(Handle, T) bool) {
	t.mu.RLock()
	type entry struct {
		h Handle
		v T
	}
	entries := make([]entry, 0, t.live)
	for i, s := range t.slots {
		if s.used {
			entries = append(entries, entry{h: Handle{Index: uint32(i), Generation: s.generation}, v: s.value})
		}
	}
	t.mu.RUnlock()

	for _, e := range entries {
		if !fn(e.h, e.v) {
			return
		}
	}
}
