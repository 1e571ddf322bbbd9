package core

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/pierstocazzo/atom-game-framework/log"
)

// readyQueue is the FIFO of actor states with executable work.
// Rotate hands out the front state and moves it to the tail, so a state
// stays queued until its executable count drops to 0.
type readyQueue struct {
	order   *list.List
	members map[ActorState]*list.Element
}

func newReadyQueue() *readyQueue {
	return &readyQueue{
		order:   list.New(),
		members: make(map[ActorState]*list.Element),
	}
}

func (q *readyQueue) Add(s ActorState) {
	if _, ok := q.members[s]; ok {
		return
	}
	q.members[s] = q.order.PushBack(s)
}

func (q *readyQueue) Remove(s ActorState) {
	if e, ok := q.members[s]; ok {
		q.order.Remove(e)
		delete(q.members, s)
	}
}

func (q *readyQueue) Contains(s ActorState) bool {
	_, ok := q.members[s]
	return ok
}

func (q *readyQueue) Rotate() (ActorState, bool) {
	e := q.order.Front()
	if e == nil {
		return nil, false
	}
	q.order.MoveToBack(e)
	return e.Value.(ActorState), true
}

func (q *readyQueue) Len() int { return q.order.Len() }

func (q *readyQueue) Clear() {
	q.order.Init()
	q.members = make(map[ActorState]*list.Element)
}

// Controller schedules actor states onto an elastic pool of worker
// goroutines.
//
// Two locks guard its state. actorMu covers the ready queue and every actor
// state; threadMu covers worker accounting. actorMu is always acquired
// before threadMu. Message bodies run with neither held.
type Controller struct {
	logger     log.Logger
	metrics    *Metrics
	failures   FailureHandler
	logActions bool
	batchSize  int

	ioWeight       int
	externalWeight int

	actorMu sync.Mutex
	work    *sync.Cond
	ready   *readyQueue
	states  *HandleTable[ActorState]

	threadMu      sync.Mutex
	maxPhysical   int
	maxEffective  int
	workers       int
	idle          int
	histogram     [numWorkerStates]int
	openTasks     int
	threadsToKill int
	nextWorkerID  uint64

	stopped *atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewController creates a Controller. No worker runs until work arrives.
func NewController(opts ...Option) (*Controller, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	logger := o.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.Named("controller")

	failures := o.FailureHandler
	if failures == nil {
		failures = NewLogFailureHandler(logger)
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		logger:         logger,
		metrics:        o.Metrics,
		failures:       failures,
		logActions:     o.LogActions,
		batchSize:      o.BatchSize,
		ioWeight:       o.IOWeight,
		externalWeight: o.ExternalWeight,
		ready:          newReadyQueue(),
		states:         NewHandleTable[ActorState](),
		maxPhysical:    o.MaxPhysicalWorkers,
		maxEffective:   o.MaxEffectiveWorkers,
		stopped:        atomic.NewBool(false),
		ctx:            ctx,
		cancel:         cancel,
	}
	c.work = sync.NewCond(&c.actorMu)

	logger.Debug("controller created",
		log.Int("max_physical", c.maxPhysical),
		log.Int("max_effective", c.maxEffective),
		log.Int("io_weight", c.ioWeight),
		log.Int("external_weight", c.externalWeight))

	return c, nil
}

// NewActorState creates and registers the runtime record for actor.
func (c *Controller) NewActorState(actor any, variant Variant) (ActorState, error) {
	base := &stateCore{
		ctrl:    c,
		actor:   actor,
		mailbox: NewMailbox[*Invocation](),
	}

	var state ActorState
	switch variant {
	case SingleThreaded:
		state = &singleThreadedState{stateCore: base}
	case MultiThreaded:
		state = &multiThreadedState{stateCore: base}
	default:
		return nil, fmt.Errorf("unknown actor variant %d", variant)
	}
	base.self = state

	c.actorMu.Lock()
	defer c.actorMu.Unlock()

	if c.stopped.Load() {
		return nil, ErrControllerStopped
	}
	base.handle = c.states.Allocate(state)

	return state, nil
}

// Lookup resolves a handle issued by NewActorState.
func (c *Controller) Lookup(h Handle) (ActorState, bool) {
	return c.states.Get(h)
}

// Discard retires a state: queued messages are dropped and resolve with
// ErrActorDiscarded, and the handle stops resolving. Discarding twice is a
// no-op.
func (c *Controller) Discard(state ActorState) error {
	s := state.core()
	if s.ctrl != c {
		return ErrForeignActorState
	}

	c.actorMu.Lock()
	if s.discarded {
		c.actorMu.Unlock()
		return nil
	}
	s.discarded = true
	dropped := s.mailbox.Drain()
	s.reportQueueDelta()
	err := c.states.Release(s.handle)
	c.actorMu.Unlock()

	for _, inv := range dropped {
		inv.result.resolve(nil, ErrActorDiscarded)
	}

	if len(dropped) > 0 {
		c.logger.Debug("actor discarded with pending messages",
			log.Stringer("actor", s.handle),
			log.Int("dropped", len(dropped)))
	}

	return err
}

// UpdateWork records that state's executable count moved from old to now.
func (c *Controller) UpdateWork(state ActorState, old, now int) {
	c.actorMu.Lock()
	defer c.actorMu.Unlock()
	c.updateWorkLocked(state, old, now)
}

// updateWorkLocked adjusts ready queue membership and open tasks, then
// corrects the pool. Caller holds actorMu.
func (c *Controller) updateWorkLocked(state ActorState, old, now int) {
	if now > 0 {
		if !c.stopped.Load() {
			c.ready.Add(state)
		}
	} else {
		c.ready.Remove(state)
	}

	c.threadMu.Lock()
	c.openTasks += now - old
	c.correctLocked()
	c.threadMu.Unlock()

	for i := old; i < now; i++ {
		c.work.Signal()
	}
	c.metrics.setReadyQueue(c.ready.Len())
}

// DequeueNext blocks until an actor state has work and returns it.
// It returns false once the controller is stopped or token says the
// calling worker has to exit. While inside DequeueNext the worker counts
// as idle: it is available for new work and left out of the effective
// estimate.
func (c *Controller) DequeueNext(token *KillToken) (ActorState, bool) {
	c.actorMu.Lock()
	defer c.actorMu.Unlock()

	c.setIdle(token, true)
	defer c.setIdle(token, false)

	for {
		if c.stopped.Load() || !token.ShouldContinue() {
			return nil, false
		}
		if state, ok := c.ready.Rotate(); ok {
			return state, true
		}
		c.work.Wait()
	}
}

// setIdle records whether the worker holding token waits for work.
// Caller holds actorMu.
func (c *Controller) setIdle(token *KillToken, idle bool) {
	c.threadMu.Lock()
	defer c.threadMu.Unlock()

	if token.idle == idle {
		return
	}
	token.idle = idle
	if idle {
		c.idle++
	} else {
		c.idle--
	}
	c.publishLocked()
}

// ReportStateChange moves one worker between histogram buckets.
func (c *Controller) ReportStateChange(old, now WorkerState) {
	if old == now {
		return
	}

	c.actorMu.Lock()
	defer c.actorMu.Unlock()
	c.threadMu.Lock()
	defer c.threadMu.Unlock()

	c.histogram[old]--
	c.histogram[now]++
	c.correctLocked()
}

// ReportWorkerExit removes an exiting worker that was in state old.
func (c *Controller) ReportWorkerExit(old WorkerState) {
	c.actorMu.Lock()
	defer c.actorMu.Unlock()
	c.threadMu.Lock()
	defer c.threadMu.Unlock()

	c.histogram[old]--
	c.workers--
	c.metrics.workerExited()
	c.correctLocked()
}

// SetLimits changes both ceilings and corrects the pool.
func (c *Controller) SetLimits(physical, effective int) error {
	if physical < 0 || effective < 0 {
		return fmt.Errorf("%w: physical=%d effective=%d", ErrInvalidLimits, physical, effective)
	}

	c.actorMu.Lock()
	defer c.actorMu.Unlock()
	c.threadMu.Lock()
	defer c.threadMu.Unlock()

	c.maxPhysical = physical
	c.maxEffective = effective
	c.correctLocked()

	c.logger.Info("worker limits changed",
		log.Int("max_physical", physical),
		log.Int("max_effective", effective))

	return nil
}

// effectiveLocked is the weighted estimate of CPU-bound workers. Idle
// workers are counted as running in the histogram but do not use a CPU.
// Caller holds threadMu.
func (c *Controller) effectiveLocked() int {
	return c.histogram[WorkerRunning] - c.idle +
		c.histogram[WorkerRunningIO]/c.ioWeight +
		c.histogram[WorkerWaitingExternal]/c.externalWeight
}

// correctionLocked computes the worker delta. Workers already asked to
// exit are excluded, so repeated corrections do not request the same
// shrink twice. Pending kills are assumed to be taken by idle workers
// first. Growth only covers open tasks no idle worker can pick up.
// Caller holds threadMu.
func (c *Controller) correctionLocked() int {
	n := c.workers - c.threadsToKill
	if n > c.maxPhysical {
		return c.maxPhysical - n
	}

	spare := c.idle - c.threadsToKill
	e := c.effectiveLocked()
	if spare < 0 {
		e += spare
		spare = 0
	}
	if e < 0 {
		e = 0
	}
	if e > c.maxEffective {
		return -min(n, e-c.maxEffective)
	}

	return max(0, min(c.openTasks-spare, c.maxPhysical-n, c.maxEffective-e))
}

// correctLocked applies the correction. Callers hold actorMu and threadMu.
func (c *Controller) correctLocked() {
	defer c.publishLocked()

	if c.stopped.Load() {
		return
	}

	delta := c.correctionLocked()
	switch {
	case delta > 0:
		if c.threadsToKill > 0 {
			k := min(delta, c.threadsToKill)
			c.threadsToKill -= k
			delta -= k
		}
		if delta > 0 {
			c.spawnLocked(delta)
		}
	case delta < 0:
		c.threadsToKill += -delta
		c.work.Broadcast()
		c.logger.Debug("shrinking worker pool",
			log.Int("workers", c.workers),
			log.Int("threads_to_kill", c.threadsToKill))
	}
}

// spawnLocked starts n workers, each counted as running and idle until
// it first dequeues work. Caller holds threadMu.
func (c *Controller) spawnLocked(n int) {
	for i := 0; i < n; i++ {
		c.nextWorkerID++
		token := c.newKillToken()
		token.idle = true
		w := &worker{
			id:    c.nextWorkerID,
			ctrl:  c,
			token: token,
			state: WorkerRunning,
		}
		c.wg.Add(1)
		go w.run()
		c.metrics.workerSpawned()
	}
	c.workers += n
	c.idle += n
	c.histogram[WorkerRunning] += n

	c.logger.Debug("growing worker pool",
		log.Int("spawned", n),
		log.Int("workers", c.workers),
		log.Int("open_tasks", c.openTasks))
}

func (c *Controller) publishLocked() {
	if c.metrics == nil {
		return
	}
	c.metrics.publish(c.workers, c.idle, c.histogram[:], c.openTasks, c.threadsToKill)
}

// Shutdown stops the controller. Queued messages are dropped and resolve
// with ErrControllerStopped, idle workers wake up and exit, and running
// workers exit after their current message. It is safe to call more than
// once.
func (c *Controller) Shutdown() {
	c.actorMu.Lock()
	c.threadMu.Lock()
	first := !c.stopped.Swap(true)
	c.threadMu.Unlock()

	var dropped []*Invocation
	c.states.Range(func(_ Handle, state ActorState) bool {
		s := state.core()
		dropped = append(dropped, s.mailbox.Drain()...)
		s.reportQueueDelta()
		return true
	})
	c.ready.Clear()
	c.work.Broadcast()
	c.actorMu.Unlock()

	c.metrics.setReadyQueue(0)

	for _, inv := range dropped {
		inv.result.resolve(nil, ErrControllerStopped)
	}

	if first {
		c.cancel()
		c.logger.Info("controller shut down", log.Int("dropped", len(dropped)))
	}
}

// Stopped reports whether Shutdown was called.
func (c *Controller) Stopped() bool {
	return c.stopped.Load()
}

// Wait blocks until every worker goroutine has exited or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the scheduling counters.
func (c *Controller) Stats() Stats {
	c.actorMu.Lock()
	defer c.actorMu.Unlock()
	c.threadMu.Lock()
	defer c.threadMu.Unlock()

	states := make(map[WorkerState]int, len(WorkerStates))
	for _, s := range WorkerStates {
		states[s] = c.histogram[s]
	}

	return Stats{
		Workers:             c.workers,
		Idle:                c.idle,
		States:              states,
		OpenParallelTasks:   c.openTasks,
		ThreadsToKill:       c.threadsToKill,
		EffectiveThreads:    c.effectiveLocked(),
		ReadyQueue:          c.ready.Len(),
		MaxPhysicalWorkers:  c.maxPhysical,
		MaxEffectiveWorkers: c.maxEffective,
	}
}
