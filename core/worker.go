package core

import (
	"context"

	"github.com/pierstocazzo/atom-game-framework/log"
)

// KillToken tells one worker whether it has to exit to shrink the pool.
//
// The first ShouldContinue call that sees a pending kill takes it and
// latches. A latched token keeps answering false and never takes a second
// kill.
type KillToken struct {
	ctrl   *Controller
	killed bool

	// idle is set while the worker waits in DequeueNext
	idle bool
}

func (c *Controller) newKillToken() *KillToken {
	return &KillToken{ctrl: c}
}

// ShouldContinue reports whether the worker may keep running.
func (t *KillToken) ShouldContinue() bool {
	c := t.ctrl
	c.threadMu.Lock()
	defer c.threadMu.Unlock()

	if t.killed {
		return false
	}
	if c.stopped.Load() {
		return false
	}
	if c.threadsToKill == 0 {
		return true
	}

	c.threadsToKill--
	t.killed = true
	c.publishLocked()
	return false
}

// Killed reports whether the token took a kill.
func (t *KillToken) Killed() bool {
	t.ctrl.threadMu.Lock()
	defer t.ctrl.threadMu.Unlock()
	return t.killed
}

// worker is one pooled goroutine.
type worker struct {
	id    uint64
	ctrl  *Controller
	token *KillToken

	// state is only touched by the worker's own goroutine
	state WorkerState
}

func (w *worker) run() {
	c := w.ctrl
	defer c.wg.Done()
	defer func() {
		c.ReportWorkerExit(w.state)
		c.logger.Debug("worker exited", log.Uint64("worker", w.id), log.Bool("killed", w.token.Killed()))
	}()

	ctx := context.WithValue(c.ctx, workerKey{}, w)

	for {
		state, ok := c.DequeueNext(w.token)
		if !ok {
			return
		}

		claimed := 0
		state.ExecuteQueuedMessages(ctx, func() bool {
			if claimed >= c.batchSize || c.stopped.Load() {
				return false
			}
			if !w.token.ShouldContinue() {
				return false
			}
			claimed++
			return true
		})
	}
}

// setState reports a histogram transition and returns the previous state.
func (w *worker) setState(now WorkerState) WorkerState {
	old := w.state
	if old == now {
		return old
	}
	w.ctrl.ReportStateChange(old, now)
	w.state = now
	return old
}

type workerKey struct{}

// Blocking runs fn while the calling worker is accounted as state, then
// restores the previous state. Message bodies wrap blocking I/O and waits
// in Blocking so the controller can start additional workers.
// Outside a worker it just runs fn.
func Blocking(ctx context.Context, state WorkerState, fn func() error) error {
	w, ok := ctx.Value(workerKey{}).(*worker)
	if !ok {
		return fn()
	}

	old := w.setState(state)
	defer w.setState(old)

	return fn()
}

// InWorker reports whether ctx belongs to a pooled worker goroutine.
func InWorker(ctx context.Context) bool {
	_, ok := ctx.Value(workerKey{}).(*worker)
	return ok
}
