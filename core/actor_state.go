package core

import (
	"context"

	"github.com/pierstocazzo/atom-game-framework/log"
)

// ActorState is the runtime record of one actor: its mailbox and the number
// of messages that could start executing right now.
//
// The executable count last reported to the Controller always equals the
// current executable count once the reporting call returns. For the
// single-threaded variant that is 1 if the mailbox is non-empty and no
// message is running, otherwise 0. For the multi-threaded variant it is the
// mailbox size.
type ActorState interface {
	// Handle returns the state's handle in its Controller.
	Handle() Handle

	// Actor returns the value passed to every message body.
	Actor() any

	// Variant returns how the state lets messages run.
	Variant() Variant

	// Send queues a message. If ctx carries a running invocation it becomes
	// the new invocation's parent.
	Send(ctx context.Context, name string, call Callable, args ...any) (*Invocation, error)

	// Post is Send for a message whose descriptor the caller already
	// handed out. A zero desc.Seq draws a new sequence number.
	Post(ctx context.Context, desc Descriptor, call Callable, args ...any) (*Invocation, error)

	// TryExecuteNow runs inv on the calling goroutine if it is still queued
	// and may run now. It returns false if a worker already claimed it.
	TryExecuteNow(ctx context.Context, inv *Invocation) bool

	// ExecuteQueuedMessages runs queued messages while keepRunning returns
	// true and returns how many were executed.
	ExecuteQueuedMessages(ctx context.Context, keepRunning func() bool) int

	// Pending returns the mailbox depth.
	Pending() int

	// ExecutableCount returns the executable count last reported.
	ExecutableCount() int

	// Discarded reports whether the state was discarded.
	Discarded() bool

	core() *stateCore
	executable() int
}

// stateCore holds what both variants share. Fields other than the mailbox
// are guarded by the controller's actor lock.
type stateCore struct {
	ctrl    *Controller
	self    ActorState
	handle  Handle
	actor   any
	mailbox *Mailbox[*Invocation]

	reported  int
	discarded bool
}

func (s *stateCore) core() *stateCore { return s }

func (s *stateCore) Handle() Handle { return s.handle }

func (s *stateCore) Actor() any { return s.actor }

func (s *stateCore) Pending() int { return s.mailbox.Size() }

func (s *stateCore) ExecutableCount() int {
	s.ctrl.actorMu.Lock()
	defer s.ctrl.actorMu.Unlock()
	return s.reported
}

func (s *stateCore) Discarded() bool {
	s.ctrl.actorMu.Lock()
	defer s.ctrl.actorMu.Unlock()
	return s.discarded
}

func (s *stateCore) Send(ctx context.Context, name string, call Callable, args ...any) (*Invocation, error) {
	return s.Post(ctx, Descriptor{Name: name}, call, args...)
}

func (s *stateCore) Post(ctx context.Context, desc Descriptor, call Callable, args ...any) (*Invocation, error) {
	if call == nil {
		return nil, ErrNilCallable
	}
	if desc.Seq == 0 {
		desc.Seq = NextSequence()
	}

	inv := newInvocation(s.self, desc, call, args, CurrentInvocation(ctx))

	c := s.ctrl
	c.actorMu.Lock()
	defer c.actorMu.Unlock()

	if c.stopped.Load() {
		return nil, ErrControllerStopped
	}
	if s.discarded {
		return nil, ErrActorDiscarded
	}

	s.mailbox.Push(inv)
	s.reportQueueDelta()

	if c.logActions {
		c.logger.Debug("message sent",
			log.String("message", inv.Descriptor().String()),
			log.Stringer("actor", s.handle),
			log.Int("pending", s.mailbox.Size()))
	}

	return inv, nil
}

// reportQueueDelta tells the Controller about a changed executable count.
// Caller holds the actor lock.
func (s *stateCore) reportQueueDelta() {
	old := s.reported
	now := s.self.executable()
	if s.discarded {
		now = 0
	}
	if old == now {
		return
	}
	s.reported = now
	s.ctrl.updateWorkLocked(s.self, old, now)
}

// singleThreadedState runs one message at a time in mailbox order.
type singleThreadedState struct {
	*stateCore
	busy bool
}

func (s *singleThreadedState) Variant() Variant { return SingleThreaded }

func (s *singleThreadedState) executable() int {
	if s.busy || s.discarded || s.mailbox.Size() == 0 {
		return 0
	}
	return 1
}

func (s *singleThreadedState) TryExecuteNow(ctx context.Context, inv *Invocation) bool {
	c := s.ctrl
	c.actorMu.Lock()
	if c.stopped.Load() || s.discarded || s.busy {
		c.actorMu.Unlock()
		return false
	}
	// Only the head may run, otherwise mailbox order would break
	if !s.mailbox.RemoveFront(inv) {
		c.actorMu.Unlock()
		return false
	}
	s.busy = true
	s.reportQueueDelta()
	c.actorMu.Unlock()

	inv.execute(ctx)

	c.actorMu.Lock()
	s.busy = false
	s.reportQueueDelta()
	c.actorMu.Unlock()

	return true
}

func (s *singleThreadedState) ExecuteQueuedMessages(ctx context.Context, keepRunning func() bool) int {
	c := s.ctrl
	c.actorMu.Lock()
	defer c.actorMu.Unlock()

	executed := 0
	for !s.discarded && !s.busy && keepRunning() {
		inv, ok := s.mailbox.PopFront()
		if !ok {
			break
		}

		s.busy = true
		s.reportQueueDelta()

		c.actorMu.Unlock()
		inv.execute(ctx)
		c.actorMu.Lock()

		s.busy = false
		executed++
	}
	s.reportQueueDelta()

	return executed
}

// multiThreadedState lets every queued message run concurrently.
type multiThreadedState struct {
	*stateCore
}

func (s *multiThreadedState) Variant() Variant { return MultiThreaded }

func (s *multiThreadedState) executable() int {
	if s.discarded {
		return 0
	}
	return s.mailbox.Size()
}

func (s *multiThreadedState) TryExecuteNow(ctx context.Context, inv *Invocation) bool {
	c := s.ctrl
	c.actorMu.Lock()
	if c.stopped.Load() || s.discarded || !s.mailbox.Remove(inv) {
		c.actorMu.Unlock()
		return false
	}
	s.reportQueueDelta()
	c.actorMu.Unlock()

	inv.execute(ctx)
	return true
}

func (s *multiThreadedState) ExecuteQueuedMessages(ctx context.Context, keepRunning func() bool) int {
	c := s.ctrl
	c.actorMu.Lock()
	defer c.actorMu.Unlock()

	executed := 0
	for !s.discarded && keepRunning() {
		inv, ok := s.mailbox.PopFront()
		if !ok {
			break
		}
		s.reportQueueDelta()

		c.actorMu.Unlock()
		inv.execute(ctx)
		c.actorMu.Lock()

		executed++
	}
	s.reportQueueDelta()

	return executed
}
