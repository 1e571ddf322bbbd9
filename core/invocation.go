package core

import (
	"context"
	"runtime/debug"
	"sync"

	"go.uber.org/atomic"

	"github.com/pierstocazzo/atom-game-framework/log"
)

// Callable is the body of a message. actor is the value the target
// ActorState was created for; args is the invocation's private copy of the
// send-time arguments.
type Callable func(ctx context.Context, actor any, args []any) (any, error)

var sequence = atomic.NewUint64(0)

// NextSequence returns the next global message sequence number.
// Sequence numbers start at 1 and increase monotonically.
func NextSequence() uint64 {
	return sequence.Inc()
}

// Invocation is one pending call on an actor. It is immutable after
// construction.
type Invocation struct {
	seq    uint64
	name   string
	target ActorState
	call   Callable
	args   []any
	parent *Invocation
	result *Result
}

func newInvocation(target ActorState, desc Descriptor, call Callable, args []any, parent *Invocation) *Invocation {
	inv := &Invocation{
		seq:    desc.Seq,
		name:   desc.Name,
		target: target,
		call:   call,
		parent: parent,
	}
	if len(args) > 0 {
		inv.args = make([]any, len(args))
		copy(inv.args, args)
	}
	inv.result = &Result{done: make(chan struct{}), inv: inv}
	return inv
}

// Seq returns the invocation's sequence number.
func (inv *Invocation) Seq() uint64 { return inv.seq }

// Name returns the message name.
func (inv *Invocation) Name() string { return inv.name }

// Target returns the actor state the invocation was sent to.
func (inv *Invocation) Target() ActorState { return inv.target }

// Args returns a copy of the invocation arguments.
func (inv *Invocation) Args() []any {
	if len(inv.args) == 0 {
		return nil
	}
	out := make([]any, len(inv.args))
	copy(out, inv.args)
	return out
}

// Parent returns the invocation that was running when this one was sent,
// or nil.
func (inv *Invocation) Parent() *Invocation { return inv.parent }

// Root walks the parent chain to its first invocation.
func (inv *Invocation) Root() *Invocation {
	root := inv
	for root.parent != nil {
		root = root.parent
	}
	return root
}

// Result returns the invocation's result handle.
func (inv *Invocation) Result() *Result { return inv.result }

// Descriptor identifies the invocation for listeners and failure handlers.
func (inv *Invocation) Descriptor() Descriptor {
	return Descriptor{Seq: inv.seq, Name: inv.name}
}

// execute runs the message body with no controller lock held.
func (inv *Invocation) execute(ctx context.Context) {
	c := inv.target.core().ctrl
	actor := inv.target.Actor()
	desc := inv.Descriptor()

	if c.logActions {
		c.logger.Debug("message started", log.String("message", desc.String()), log.Stringer("actor", inv.target.Handle()))
	}

	var (
		value any
		err   error
	)
	if fault := Protect(func() {
		value, err = inv.call(withInvocation(ctx, inv), actor, inv.args)
	}); fault != nil {
		err = fault
		if hf := Protect(func() { c.failures.HandleFailure(actor, desc, fault) }); hf != nil {
			c.logger.Error("failure handler panicked", log.String("message", desc.String()), log.Err(hf))
		}
	} else if err != nil {
		c.logger.Debug("message returned error", log.String("message", desc.String()), log.Err(err))
	}

	c.metrics.messageExecuted(err)

	if c.logActions {
		c.logger.Debug("message finished", log.String("message", desc.String()), log.Bool("failed", err != nil))
	}

	inv.result.resolve(value, err)
}

// Protect runs fn and converts a panic into a *PanicError.
// It returns nil when fn returned normally.
func Protect(fn func()) (fault *PanicError) {
	defer func() {
		if r := recover(); r != nil {
			fault = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	fn()
	return nil
}

// Result is the future-like outcome of an invocation. It resolves exactly
// once.
type Result struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error

	// inv is nil for promises
	inv *Invocation
}

// NewPromise creates a Result not tied to any invocation. The creator
// resolves it with Resolve.
func NewPromise() *Result {
	return &Result{done: make(chan struct{})}
}

// Resolve completes a promise. It reports false if the result was already
// resolved.
func (r *Result) Resolve(value any, err error) bool {
	return r.resolve(value, err)
}

func (r *Result) resolve(value any, err error) bool {
	resolved := false
	r.once.Do(func() {
		r.value = value
		r.err = err
		close(r.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the result is resolved.
func (r *Result) Done() <-chan struct{} { return r.done }

// Ready reports whether the result is resolved.
func (r *Result) Ready() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Value returns the resolved value, or nil while pending.
func (r *Result) Value() any {
	if !r.Ready() {
		return nil
	}
	return r.value
}

// Err returns the resolved error, or nil while pending.
func (r *Result) Err() error {
	if !r.Ready() {
		return nil
	}
	return r.err
}

// Await blocks until the result is resolved or ctx is done.
//
// If the invocation is still queued, the caller first tries to run it
// itself. While waiting, a worker calling Await is accounted as
// WorkerWaitingForActor.
func (r *Result) Await(ctx context.Context) (any, error) {
	if r.Ready() {
		return r.value, r.err
	}

	if r.inv != nil && r.inv.target.TryExecuteNow(ctx, r.inv) {
		return r.value, r.err
	}

	err := Blocking(ctx, WorkerWaitingForActor, func() error {
		select {
		case <-r.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return nil, err
	}
	return r.value, r.err
}

type invocationKey struct{}

func withInvocation(ctx context.Context, inv *Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// CurrentInvocation returns the invocation executing in ctx, or nil.
func CurrentInvocation(ctx context.Context) *Invocation {
	inv, _ := ctx.Value(invocationKey{}).(*Invocation)
	return inv
}
