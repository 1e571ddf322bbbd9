package workers

import (
	"context"
	"sync"

	"github.com/pierstocazzo/atom-game-framework/core"
)

// SingleThreadedWorkers runs every actor thread on the goroutine calling
// ProcessEventsUntilIdle. Tests use it for deterministic message order.
type SingleThreadedWorkers struct {
	*Workers
}

// NewSingleThreadedWorkers creates a deterministic container.
func NewSingleThreadedWorkers(opts ...Option) *SingleThreadedWorkers {
	sw := &SingleThreadedWorkers{Workers: newWorkers(opts)}
	sw.newQueue = func(*ActorThread, threadOptions) (taskQueue, error) {
		return &localQueue{mailbox: core.NewMailbox[*pendingTask]()}, nil
	}
	return sw
}

// ProcessEventsUntilIdle runs queued messages round-robin over all actor
// threads until none has any left. If the failure handler is a
// CrashEarlyFailureHandler, the first failure stops processing and is
// returned.
func (sw *SingleThreadedWorkers) ProcessEventsUntilIdle() error {
	ctx := context.Background()
	crashEarly, _ := sw.failures.(*CrashEarlyFailureHandler)

	for {
		idle := true
		var crash error

		sw.threads.Range(func(_ core.Handle, t *ActorThread) bool {
			q, ok := t.queue.(*localQueue)
			if !ok {
				return true
			}
			if q.processNextIfAny(ctx) {
				idle = false
			}
			if crashEarly != nil {
				crash = crashEarly.takeCrash()
			}
			return crash == nil
		})

		if crash != nil {
			return crash
		}
		if idle {
			return nil
		}
	}
}

type pendingTask struct {
	task   *task
	result *core.Result
}

type localQueue struct {
	mu      sync.Mutex
	closed  bool
	mailbox *core.Mailbox[*pendingTask]
}

func (q *localQueue) enqueue(_ context.Context, t *task) (*core.Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrThreadStopped
	}
	p := &pendingTask{task: t, result: core.NewPromise()}
	q.mailbox.Push(p)

	return p.result, nil
}

func (q *localQueue) processNextIfAny(ctx context.Context) bool {
	p, ok := q.mailbox.PopFront()
	if !ok {
		return false
	}
	value, err := p.task.run(ctx)
	p.result.Resolve(value, err)
	return true
}

func (q *localQueue) close() {
	q.mu.Lock()
	q.closed = true
	dropped := q.mailbox.Drain()
	q.mu.Unlock()

	for _, p := range dropped {
		p.result.Resolve(nil, ErrThreadStopped)
	}
}
