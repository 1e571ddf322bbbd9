package workers

import (
	"context"
	"errors"

	"github.com/pierstocazzo/atom-game-framework/core"
)

// ThreadedWorkers runs actor threads on a core.Controller worker pool.
// Each actor thread is one actor state, single-threaded unless started
// WithMultiThreaded.
type ThreadedWorkers struct {
	*Workers
	ctrl *core.Controller
}

// NewThreadedWorkers creates a container scheduling on ctrl.
func NewThreadedWorkers(ctrl *core.Controller, opts ...Option) *ThreadedWorkers {
	tw := &ThreadedWorkers{
		Workers: newWorkers(opts),
		ctrl:    ctrl,
	}
	tw.newQueue = tw.newControllerQueue
	return tw
}

// Controller returns the scheduler.
func (tw *ThreadedWorkers) Controller() *core.Controller {
	return tw.ctrl
}

// Shutdown stops the controller, stops every live actor thread and waits
// for the workers. Messages still queued resolve with
// core.ErrControllerStopped.
func (tw *ThreadedWorkers) Shutdown(ctx context.Context) error {
	tw.ctrl.Shutdown()

	var live []*ActorThread
	tw.threads.Range(func(_ core.Handle, t *ActorThread) bool {
		live = append(live, t)
		return true
	})
	for _, t := range live {
		t.terminate()
	}

	return tw.ctrl.Wait(ctx)
}

func (tw *ThreadedWorkers) newControllerQueue(t *ActorThread, o threadOptions) (taskQueue, error) {
	state, err := tw.ctrl.NewActorState(t, o.variant)
	if err != nil {
		return nil, err
	}
	return &controllerQueue{ctrl: tw.ctrl, state: state}, nil
}

type controllerQueue struct {
	ctrl  *core.Controller
	state core.ActorState
}

func (q *controllerQueue) enqueue(ctx context.Context, t *task) (*core.Result, error) {
	inv, err := q.state.Post(ctx, t.desc, func(ctx context.Context, _ any, _ []any) (any, error) {
		return t.run(ctx)
	})
	if errors.Is(err, core.ErrActorDiscarded) {
		return nil, ErrThreadStopped
	}
	if err != nil {
		return nil, err
	}
	return inv.Result(), nil
}

func (q *controllerQueue) close() {
	_ = q.ctrl.Discard(q.state)
}
