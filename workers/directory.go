package workers

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/atomic"
)

// Directory errors
var (
	ErrNameTaken    = errors.New("actor name already registered")
	ErrNameNotFound = errors.New("actor name not found")
)

// Directory maps names to bound actors of one interface. An entry is
// dropped once its thread stops.
type Directory[T any] struct {
	refs sync.Map // map[string]*entry[T]

	// watchers counts goroutines waiting for a registered thread to stop
	watchers atomic.Int64
}

type entry[T any] struct {
	ref     Ref[T]
	removed chan struct{}
}

// NewDirectory creates an empty directory.
func NewDirectory[T any]() *Directory[T] {
	return &Directory[T]{}
}

// Register publishes ref under name.
func (d *Directory[T]) Register(name string, ref Ref[T]) error {
	if ref.thread == nil {
		return fmt.Errorf("cannot register unbound actor %q", name)
	}
	if ref.thread.Stopped() {
		return ErrThreadStopped
	}

	e := &entry[T]{ref: ref, removed: make(chan struct{})}
	if _, loaded := d.refs.LoadOrStore(name, e); loaded {
		return fmt.Errorf("%w: %s", ErrNameTaken, name)
	}

	d.watchers.Inc()
	go func() {
		defer d.watchers.Dec()
		select {
		case <-ref.thread.Done():
			d.refs.CompareAndDelete(name, e)
		case <-e.removed:
		}
	}()
	return nil
}

// Unregister removes name.
func (d *Directory[T]) Unregister(name string) error {
	v, loaded := d.refs.LoadAndDelete(name)
	if !loaded {
		return fmt.Errorf("%w: %s", ErrNameNotFound, name)
	}
	close(v.(*entry[T]).removed)
	return nil
}

// Lookup finds the actor registered under name.
func (d *Directory[T]) Lookup(name string) (Ref[T], bool) {
	v, ok := d.refs.Load(name)
	if !ok {
		return Ref[T]{}, false
	}
	return v.(*entry[T]).ref, true
}

// Names returns the registered names, sorted.
func (d *Directory[T]) Names() []string {
	var names []string
	d.refs.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}
