package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/pierstocazzo/atom-game-framework/core"
	"github.com/pierstocazzo/atom-game-framework/log"
)

// Option configures a Workers container.
type Option func(*Workers)

// WithFailureHandler sets the handler notified about panicking messages.
func WithFailureHandler(h FailureHandler) Option {
	return func(w *Workers) { w.failures = h }
}

// WithMessageListener sets the message listener.
func WithMessageListener(l MessageListener) Option {
	return func(w *Workers) { w.listener = l }
}

// WithEventizers sets the eventizer registry.
func WithEventizers(r *EventizerRegistry) Option {
	return func(w *Workers) { w.eventizers = r }
}

// WithMultiThreadedDefault makes threads multi-threaded unless started
// WithSingleThreaded.
func WithMultiThreadedDefault(enabled bool) Option {
	return func(w *Workers) {
		if enabled {
			w.defaultVariant = core.MultiThreaded
		} else {
			w.defaultVariant = core.SingleThreaded
		}
	}
}

// WithLogger sets the container logger.
func WithLogger(l log.Logger) Option {
	return func(w *Workers) { w.logger = l }
}

// taskQueue is the execution backend of one actor thread.
type taskQueue interface {
	enqueue(ctx context.Context, t *task) (*core.Result, error)
	close()
}

type task struct {
	desc core.Descriptor
	run  func(ctx context.Context) (any, error)
}

// Workers is what both containers share: actor threads, eventizers,
// the failure handler and the message listener.
type Workers struct {
	eventizers *EventizerRegistry
	failures   FailureHandler
	listener   MessageListener
	logger     log.Logger

	defaultVariant core.Variant

	threads *core.HandleTable[*ActorThread]

	newQueue func(t *ActorThread, o threadOptions) (taskQueue, error)
}

func newWorkers(opts []Option) *Workers {
	w := &Workers{
		threads: core.NewHandleTable[*ActorThread](),
	}
	for _, opt := range opts {
		opt(w)
	}

	if w.logger == nil {
		w.logger = log.Default()
	}
	w.logger = w.logger.Named("workers")
	if w.eventizers == nil {
		w.eventizers = NewEventizerRegistry()
	}
	if w.failures == nil {
		w.failures = NewLogFailureHandler(w.logger)
	}
	if w.listener == nil {
		w.listener = NullMessageListener{}
	}

	return w
}

// Eventizers returns the container's eventizer registry.
func (w *Workers) Eventizers() *EventizerRegistry {
	return w.eventizers
}

// Threads returns the number of live actor threads.
func (w *Workers) Threads() int {
	return w.threads.Len()
}

// Lookup resolves an actor thread handle.
func (w *Workers) Lookup(h core.Handle) (*ActorThread, bool) {
	return w.threads.Get(h)
}

type threadOptions struct {
	name    string
	variant core.Variant
}

// ThreadOption configures an actor thread.
type ThreadOption func(*threadOptions)

// WithThreadName names the thread in logs.
func WithThreadName(name string) ThreadOption {
	return func(o *threadOptions) { o.name = name }
}

// WithMultiThreaded lets the thread run its messages concurrently.
// Only ThreadedWorkers honours it.
func WithMultiThreaded() ThreadOption {
	return func(o *threadOptions) { o.variant = core.MultiThreaded }
}

// WithSingleThreaded forces queue-order execution regardless of the
// container default.
func WithSingleThreaded() ThreadOption {
	return func(o *threadOptions) { o.variant = core.SingleThreaded }
}

// StartActorThread creates a new logical execution context. Actors bound
// to the same thread share its queue.
func (w *Workers) StartActorThread(opts ...ThreadOption) (*ActorThread, error) {
	o := threadOptions{variant: w.defaultVariant}
	for _, opt := range opts {
		opt(&o)
	}

	t := &ActorThread{
		id:      uuid.New(),
		name:    o.name,
		workers: w,
		stopped: atomic.NewBool(false),
		done:    make(chan struct{}),
	}
	if t.name == "" {
		t.name = t.id.String()
	}

	q, err := w.newQueue(t, o)
	if err != nil {
		return nil, err
	}
	t.queue = q
	t.handle = w.threads.Allocate(t)

	w.logger.Debug("actor thread started", log.String("thread", t.name), log.Stringer("handle", t.handle))

	return t, nil
}

// deliver runs one message body on behalf of raw and reports panics.
func (w *Workers) deliver(ctx context.Context, raw any, desc core.Descriptor, body func(ctx context.Context) (any, error)) (any, error) {
	w.listener.OnProcessingStarted(raw, desc)
	defer w.listener.OnProcessingFinished(raw, desc)

	var (
		value any
		err   error
	)
	if fault := core.Protect(func() { value, err = body(ctx) }); fault != nil {
		w.failures.HandleFailure(raw, desc, fault)
		return nil, fault
	}
	return value, err
}

// ActorThread is a logical execution context. Messages to actors bound to
// it go through its queue.
type ActorThread struct {
	id      uuid.UUID
	name    string
	handle  core.Handle
	workers *Workers
	queue   taskQueue
	stopped *atomic.Bool
	done    chan struct{}
}

// ID returns the thread's unique id.
func (t *ActorThread) ID() uuid.UUID { return t.id }

// Name returns the thread name.
func (t *ActorThread) Name() string { return t.name }

// Handle returns the thread's handle in its container.
func (t *ActorThread) Handle() core.Handle { return t.handle }

// Stopped reports whether the thread processed its stop request.
func (t *ActorThread) Stopped() bool { return t.stopped.Load() }

// Done is closed once the thread stopped.
func (t *ActorThread) Done() <-chan struct{} { return t.done }

// Stop queues a poison pill. Messages queued before it still run; once it
// is processed the thread stops and later messages are dropped. If the
// scheduler is already stopped the thread stops at once.
func (t *ActorThread) Stop() {
	_, err := t.queue.enqueue(context.Background(), &task{
		desc: core.Descriptor{Name: "stop"},
		run: func(context.Context) (any, error) {
			t.terminate()
			return nil, nil
		},
	})
	switch {
	case errors.Is(err, core.ErrControllerStopped):
		t.terminate()
	case err != nil:
		t.workers.logger.Debug("stop ignored", log.String("thread", t.name), log.Err(err))
	}
}

func (t *ActorThread) terminate() {
	if t.stopped.Swap(true) {
		return
	}
	t.queue.close()
	if err := t.workers.threads.Release(t.handle); err != nil {
		t.workers.logger.Warn("releasing actor thread", log.String("thread", t.name), log.Err(err))
	}
	close(t.done)

	t.workers.logger.Debug("actor thread stopped", log.String("thread", t.name))
}

// dispatch queues body as a message to raw.
func (t *ActorThread) dispatch(ctx context.Context, raw any, name string, body func(ctx context.Context) (any, error)) (*core.Result, error) {
	if t.stopped.Load() {
		return nil, ErrThreadStopped
	}

	w := t.workers
	desc := core.Descriptor{Seq: core.NextSequence(), Name: name}
	w.listener.OnMessageSent(raw, desc)

	return t.queue.enqueue(ctx, &task{
		desc: desc,
		run: func(ctx context.Context) (any, error) {
			return w.deliver(ctx, raw, desc, body)
		},
	})
}

// Ref is a bound actor.
type Ref[T any] struct {
	thread   *ActorThread
	raw      T
	frontend T
}

// Tell returns the front-end. Calling its methods queues messages.
func (r Ref[T]) Tell() T { return r.frontend }

// Thread returns the thread the actor is bound to.
func (r Ref[T]) Thread() *ActorThread { return r.thread }

type actorSender[T any] struct {
	thread *ActorThread
	raw    T
}

func (s *actorSender[T]) Send(event Event[T]) {
	_, err := s.thread.dispatch(context.Background(), s.raw, event.Name, func(ctx context.Context) (any, error) {
		event.Fire(ctx, s.raw)
		return nil, nil
	})
	if err != nil {
		s.thread.workers.logger.Debug("message dropped",
			log.String("thread", s.thread.name),
			log.String("message", event.Name),
			log.Err(err))
	}
}

// BindActor binds raw to thread through the eventizer registered for the
// actor interface T.
func BindActor[T any](thread *ActorThread, raw T) (Ref[T], error) {
	e, err := EventizerFor[T](thread.workers.eventizers)
	if err != nil {
		return Ref[T]{}, err
	}
	if thread.Stopped() {
		return Ref[T]{}, ErrThreadStopped
	}

	return Ref[T]{
		thread:   thread,
		raw:      raw,
		frontend: e.NewFrontend(&actorSender[T]{thread: thread, raw: raw}),
	}, nil
}

// Future is the typed result of Ask.
type Future[R any] struct {
	result *core.Result
	err    error
}

// Await blocks until the message ran or ctx is done.
func (f *Future[R]) Await(ctx context.Context) (R, error) {
	var zero R
	if f.err != nil {
		return zero, f.err
	}

	v, err := f.result.Await(ctx)
	if errors.Is(err, core.ErrActorDiscarded) || errors.Is(err, core.ErrControllerStopped) {
		return zero, fmt.Errorf("%w: %w", ErrThreadStopped, err)
	}
	if err != nil {
		return zero, err
	}

	r, _ := v.(R)
	return r, nil
}

// Ready reports whether the result is available.
func (f *Future[R]) Ready() bool {
	return f.err != nil || f.result.Ready()
}

// Ask queues fn as a result-bearing message to the actor behind ref.
func Ask[T any, R any](ctx context.Context, ref Ref[T], name string, fn func(ctx context.Context, actor T) (R, error)) *Future[R] {
	result, err := ref.thread.dispatch(ctx, ref.raw, name, func(ctx context.Context) (any, error) {
		return fn(ctx, ref.raw)
	})
	if err != nil {
		return &Future[R]{err: err}
	}
	return &Future[R]{result: result}
}

// Executor runs functions asynchronously.
type Executor interface {
	Execute(fn func()) error
}

type actorExecutor struct {
	workers *Workers
}

// Executor returns an Executor that runs every function as a one-shot
// actor thread.
func (w *Workers) Executor() Executor {
	return actorExecutor{workers: w}
}

func (e actorExecutor) Execute(fn func()) error {
	t, err := e.workers.StartActorThread(WithThreadName("executor"))
	if err != nil {
		return err
	}
	defer t.Stop()

	ref, err := BindActor[Runnable](t, RunnableFunc(fn))
	if err != nil {
		return err
	}
	ref.Tell().Run()

	return nil
}
