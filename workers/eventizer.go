package workers

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// Event is one message to an actor of type T: a named call to fire on the
// raw actor.
type Event[T any] struct {
	Name string
	Fire func(ctx context.Context, target T)
}

// NewEvent creates an Event.
func NewEvent[T any](name string, fire func(ctx context.Context, target T)) Event[T] {
	return Event[T]{Name: name, Fire: fire}
}

// Sender delivers events to one bound actor.
type Sender[T any] interface {
	Send(event Event[T])
}

// Eventizer builds front-ends for actor interface T. A front-end is a value
// implementing T whose methods turn every call into an Event and hand it to
// the sender instead of running it.
type Eventizer[T any] interface {
	NewFrontend(sender Sender[T]) T
}

// EventizerFunc adapts a function to Eventizer.
type EventizerFunc[T any] func(sender Sender[T]) T

// NewFrontend calls f.
func (f EventizerFunc[T]) NewFrontend(sender Sender[T]) T {
	return f(sender)
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// ValidateActorInterface checks that t is usable as an actor interface:
// an interface type whose methods return nothing. Messages are fire and
// forget, so a result or error could never reach the caller.
func ValidateActorInterface(t reflect.Type) error {
	if t == nil {
		return fmt.Errorf("%w: nil type", ErrInvalidActorInterface)
	}
	if t.Kind() != reflect.Interface {
		return fmt.Errorf("%w: %s is not an interface", ErrInvalidActorInterface, t)
	}
	if t.NumMethod() == 0 {
		return fmt.Errorf("%w: %s has no methods", ErrInvalidActorInterface, t)
	}

	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		for j := 0; j < m.Type.NumOut(); j++ {
			if m.Type.Out(j) == errorType {
				return fmt.Errorf("%w: method %s.%s may not return errors", ErrInvalidActorInterface, t, m.Name)
			}
		}
		if m.Type.NumOut() > 0 {
			return fmt.Errorf("%w: method %s.%s must not return a value", ErrInvalidActorInterface, t, m.Name)
		}
	}

	return nil
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// EventizerRegistry maps actor interfaces to their eventizers.
type EventizerRegistry struct {
	mu         sync.RWMutex
	eventizers map[reflect.Type]any
}

// NewEventizerRegistry creates a registry that already knows Runnable.
func NewEventizerRegistry() *EventizerRegistry {
	r := &EventizerRegistry{
		eventizers: make(map[reflect.Type]any),
	}
	r.eventizers[typeOf[Runnable]()] = runnableEventizer
	return r
}

// RegisterEventizer registers the eventizer for actor interface T.
// T is validated here, so binding never fails on the interface shape.
func RegisterEventizer[T any](r *EventizerRegistry, e Eventizer[T]) error {
	if e == nil {
		return ErrNilEventizer
	}
	t := typeOf[T]()
	if err := ValidateActorInterface(t); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.eventizers[t] = e

	return nil
}

// EventizerFor returns the eventizer registered for T.
func EventizerFor[T any](r *EventizerRegistry) (Eventizer[T], error) {
	t := typeOf[T]()
	if err := ValidateActorInterface(t); err != nil {
		return nil, err
	}

	r.mu.RLock()
	e, ok := r.eventizers[t]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoEventizer, t)
	}

	return e.(Eventizer[T]), nil
}

// Runnable is the actor interface for plain functions.
type Runnable interface {
	Run()
}

// RunnableFunc adapts a function to Runnable.
type RunnableFunc func()

// Run calls f.
func (f RunnableFunc) Run() { f() }

type runnableFrontend struct {
	sender Sender[Runnable]
}

func (f runnableFrontend) Run() {
	f.sender.Send(NewEvent("Run", func(_ context.Context, r Runnable) {
		r.Run()
	}))
}

var runnableEventizer Eventizer[Runnable] = EventizerFunc[Runnable](func(s Sender[Runnable]) Runnable {
	return runnableFrontend{sender: s}
})
