package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func newTestController(t *testing.T, opts ...Option) *Controller {
	t.Helper()

	c, err := NewController(opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		c.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, c.Wait(ctx))
	})

	return c
}

func noop(context.Context, any, []any) (any, error) { return nil, nil }

func awaitAll(t *testing.T, invs ...*Invocation) {
	t.Helper()
	for _, inv := range invs {
		select {
		case <-inv.Result().Done():
		case <-time.After(5 * time.Second):
			t.Fatalf("invocation %s did not complete", inv.Descriptor())
		}
	}
}

// assertHistogram checks that every live worker is in exactly one state.
func assertHistogram(t *testing.T, s Stats) {
	t.Helper()
	sum := 0
	for _, n := range s.States {
		sum += n
	}
	assert.Equal(t, s.Workers, sum, "worker states %v", s.States)
	assert.LessOrEqual(t, s.Idle, s.States[WorkerRunning])
}

func TestNewControllerValidation(t *testing.T) {
	_, err := NewController(WithLimits(-1, 2))
	assert.ErrorIs(t, err, ErrInvalidLimits)

	_, err = NewController(WithWeights(0, 128))
	assert.ErrorIs(t, err, ErrInvalidWeight)

	_, err = NewController(WithBatchSize(0))
	assert.ErrorIs(t, err, ErrInvalidBatchSize)

	c, err := NewController()
	require.NoError(t, err)
	stats := c.Stats()
	assert.Greater(t, stats.MaxPhysicalWorkers, 0)
	assert.Greater(t, stats.MaxEffectiveWorkers, 0)
	c.Shutdown()
}

func TestOpenTasksMatchExecutableCounts(t *testing.T) {
	// No workers: the test drives execution itself
	c := newTestController(t, WithLimits(0, 0))
	ctx := context.Background()

	single, err := c.NewActorState("single", SingleThreaded)
	require.NoError(t, err)
	multi, err := c.NewActorState("multi", MultiThreaded)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := single.Send(ctx, "s", noop)
		require.NoError(t, err)
	}
	var dropped []*Invocation
	for i := 0; i < 4; i++ {
		inv, err := multi.Send(ctx, "m", noop)
		require.NoError(t, err)
		dropped = append(dropped, inv)
	}

	stats := c.Stats()
	assert.Equal(t, 1, single.ExecutableCount())
	assert.Equal(t, 4, multi.ExecutableCount())
	assert.Equal(t, single.ExecutableCount()+multi.ExecutableCount(), stats.OpenParallelTasks)
	assert.Equal(t, 2, stats.ReadyQueue)
	assert.Zero(t, stats.Workers)

	n := single.ExecuteQueuedMessages(ctx, func() bool { return true })
	assert.Equal(t, 3, n)
	assert.Zero(t, single.ExecutableCount())
	assert.Equal(t, 4, c.Stats().OpenParallelTasks)
	assert.Equal(t, 1, c.Stats().ReadyQueue)

	require.NoError(t, c.Discard(multi))
	require.NoError(t, c.Discard(multi))
	assert.True(t, multi.Discarded())

	stats = c.Stats()
	assert.Zero(t, stats.OpenParallelTasks)
	assert.Zero(t, stats.ReadyQueue)

	_, ok := c.Lookup(multi.Handle())
	assert.False(t, ok)
	got, ok := c.Lookup(single.Handle())
	require.True(t, ok)
	assert.Equal(t, single, got)

	for _, inv := range dropped {
		_, err := inv.Result().Await(ctx)
		assert.ErrorIs(t, err, ErrActorDiscarded)
	}

	_, err = multi.Send(ctx, "late", noop)
	assert.ErrorIs(t, err, ErrActorDiscarded)
}

func TestDiscardForeignState(t *testing.T) {
	a := newTestController(t, WithLimits(0, 0))
	b := newTestController(t, WithLimits(0, 0))

	state, err := a.NewActorState(nil, SingleThreaded)
	require.NoError(t, err)
	assert.ErrorIs(t, b.Discard(state), ErrForeignActorState)
}

func TestSingleThreadedOrder(t *testing.T) {
	c := newTestController(t, WithLimits(4, 4), WithBatchSize(3))
	ctx := context.Background()

	state, err := c.NewActorState(nil, SingleThreaded)
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		order []int
		inUse atomic.Int32
	)
	var last *Invocation
	for i := 0; i < 200; i++ {
		i := i
		last, err = state.Send(ctx, "append", func(context.Context, any, []any) (any, error) {
			if inUse.Inc() != 1 {
				t.Error("single-threaded actor ran two messages at once")
			}
			defer inUse.Dec()

			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil, nil
		})
		require.NoError(t, err)
	}
	awaitAll(t, last)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 200)
	for i, v := range order {
		require.Equal(t, i, v)
	}
}

func TestWorkersNeverExceedPhysicalCeiling(t *testing.T) {
	c := newTestController(t, WithLimits(2, 2))
	ctx := context.Background()

	state, err := c.NewActorState(nil, MultiThreaded)
	require.NoError(t, err)

	var running, peak atomic.Int32
	invs := make([]*Invocation, 0, 50)
	for i := 0; i < 50; i++ {
		inv, err := state.Send(ctx, "work", func(context.Context, any, []any) (any, error) {
			n := running.Inc()
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Dec()
			return nil, nil
		})
		require.NoError(t, err)
		invs = append(invs, inv)
	}
	awaitAll(t, invs...)

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.LessOrEqual(t, c.Stats().Workers, 2)
	assert.Eventually(t, func() bool {
		return c.Stats().OpenParallelTasks == 0
	}, time.Second, 5*time.Millisecond)
}

func TestBlockingIOGrowsPhysicalNotEffective(t *testing.T) {
	c := newTestController(t, WithLimits(4, 2))
	ctx := context.Background()

	state, err := c.NewActorState(nil, MultiThreaded)
	require.NoError(t, err)

	release := make(chan struct{})
	invs := make([]*Invocation, 0, 10)
	for i := 0; i < 10; i++ {
		inv, err := state.Send(ctx, "read", func(ctx context.Context, _ any, _ []any) (any, error) {
			return nil, Blocking(ctx, WorkerRunningIO, func() error {
				<-release
				return nil
			})
		})
		require.NoError(t, err)
		invs = append(invs, inv)
	}

	require.Eventually(t, func() bool {
		s := c.Stats()
		return s.Workers == 4 && s.States[WorkerRunningIO] == 4
	}, 5*time.Second, 5*time.Millisecond)

	stats := c.Stats()
	assert.LessOrEqual(t, stats.EffectiveThreads, 2)
	assert.LessOrEqual(t, stats.Workers, 4)
	assert.Equal(t, 6, stats.OpenParallelTasks)
	assertHistogram(t, stats)

	close(release)
	awaitAll(t, invs...)

	require.Eventually(t, func() bool {
		s := c.Stats()
		return s.OpenParallelTasks == 0 && s.EffectiveThreads <= 2 && s.Idle == s.Workers
	}, 5*time.Second, 5*time.Millisecond)
	assertHistogram(t, c.Stats())
}

func TestSerialLoadReusesIdleWorker(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, "atom")
	require.NoError(t, err)

	c := newTestController(t, WithLimits(16, 8), WithMetrics(m))
	ctx := context.Background()

	state, err := c.NewActorState(nil, SingleThreaded)
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		inv, err := state.Send(ctx, "step", noop)
		require.NoError(t, err)
		awaitAll(t, inv)

		require.Eventually(t, func() bool {
			s := c.Stats()
			return s.Workers > 0 && s.Idle == s.Workers
		}, 5*time.Second, time.Millisecond)
	}

	stats := c.Stats()
	assert.Equal(t, 1, stats.Workers)
	assert.Equal(t, 1, stats.Idle)
	assert.Zero(t, stats.EffectiveThreads)
	assert.Zero(t, stats.OpenParallelTasks)
	assertHistogram(t, stats)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.spawned))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.idleWorkers))
}

func TestEffectiveOvershootShrinksBack(t *testing.T) {
	c := newTestController(t, WithLimits(4, 1))
	ctx := context.Background()

	state, err := c.NewActorState(nil, MultiThreaded)
	require.NoError(t, err)

	io := make(chan struct{})
	cpu := make(chan struct{})
	invs := make([]*Invocation, 0, 4)
	for i := 0; i < 4; i++ {
		inv, err := state.Send(ctx, "load", func(ctx context.Context, _ any, _ []any) (any, error) {
			if err := Blocking(ctx, WorkerRunningIO, func() error {
				<-io
				return nil
			}); err != nil {
				return nil, err
			}
			<-cpu
			return nil, nil
		})
		require.NoError(t, err)
		invs = append(invs, inv)
	}

	require.Eventually(t, func() bool {
		s := c.Stats()
		return s.Workers == 4 && s.States[WorkerRunningIO] == 4
	}, 5*time.Second, 5*time.Millisecond)
	stats := c.Stats()
	assert.Zero(t, stats.ThreadsToKill)
	assertHistogram(t, stats)

	// All four leave I/O at once and overshoot the effective ceiling
	close(io)
	require.Eventually(t, func() bool {
		s := c.Stats()
		return s.States[WorkerRunning] == 4 && s.ThreadsToKill == 3
	}, 5*time.Second, 5*time.Millisecond)
	assertHistogram(t, c.Stats())

	close(cpu)
	awaitAll(t, invs...)

	require.Eventually(t, func() bool {
		s := c.Stats()
		return s.ThreadsToKill == 0 && s.Workers == 1 && s.Idle == 1
	}, 5*time.Second, 5*time.Millisecond)
	stats = c.Stats()
	assert.Zero(t, stats.EffectiveThreads)
	assertHistogram(t, stats)
}

func TestShrinkAfterLimitsLowered(t *testing.T) {
	c := newTestController(t, WithLimits(4, 4))
	ctx := context.Background()

	state, err := c.NewActorState(nil, MultiThreaded)
	require.NoError(t, err)

	var started sync.WaitGroup
	started.Add(4)
	release := make(chan struct{})
	invs := make([]*Invocation, 0, 4)
	for i := 0; i < 4; i++ {
		inv, err := state.Send(ctx, "hold", func(context.Context, any, []any) (any, error) {
			started.Done()
			<-release
			return nil, nil
		})
		require.NoError(t, err)
		invs = append(invs, inv)
	}
	started.Wait()
	assert.Equal(t, 4, c.Stats().Workers)
	assertHistogram(t, c.Stats())

	require.NoError(t, c.SetLimits(1, 1))
	assert.Equal(t, 3, c.Stats().ThreadsToKill)

	// A second correction must not request the same shrink again
	require.NoError(t, c.SetLimits(1, 1))
	assert.Equal(t, 3, c.Stats().ThreadsToKill)

	close(release)
	awaitAll(t, invs...)

	require.Eventually(t, func() bool {
		s := c.Stats()
		return s.Workers == 1 && s.ThreadsToKill == 0
	}, 5*time.Second, 5*time.Millisecond)
	assertHistogram(t, c.Stats())

	assert.ErrorIs(t, c.SetLimits(-1, 1), ErrInvalidLimits)
}

func TestKillTokenLatches(t *testing.T) {
	c := newTestController(t, WithLimits(0, 0))

	c.threadMu.Lock()
	c.threadsToKill = 2
	c.threadMu.Unlock()

	first := c.newKillToken()
	assert.False(t, first.ShouldContinue())
	assert.False(t, first.ShouldContinue())
	assert.True(t, first.Killed())
	assert.Equal(t, 1, c.Stats().ThreadsToKill)

	second := c.newKillToken()
	assert.False(t, second.ShouldContinue())
	assert.Zero(t, c.Stats().ThreadsToKill)

	third := c.newKillToken()
	assert.True(t, third.ShouldContinue())
	assert.False(t, third.Killed())

	c.Shutdown()
	assert.False(t, third.ShouldContinue())
	assert.False(t, third.Killed())
}

func TestShutdownIsIdempotent(t *testing.T) {
	c := newTestController(t, WithLimits(0, 0))
	ctx := context.Background()

	state, err := c.NewActorState(nil, SingleThreaded)
	require.NoError(t, err)
	ran := false
	queued, err := state.Send(ctx, "queued", func(context.Context, any, []any) (any, error) {
		ran = true
		return nil, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, c.Stats().ReadyQueue)

	c.Shutdown()
	assert.Zero(t, c.Stats().ReadyQueue)
	assert.True(t, c.Stopped())

	// Queued messages are dropped, not run by the caller
	assert.True(t, queued.Result().Ready())
	assert.False(t, state.TryExecuteNow(ctx, queued))
	_, err = queued.Result().Await(ctx)
	assert.ErrorIs(t, err, ErrControllerStopped)
	assert.False(t, ran)
	assert.Zero(t, state.Pending())
	assert.Zero(t, state.ExecutableCount())
	assert.Zero(t, c.Stats().OpenParallelTasks)

	c.Shutdown()
	assert.Zero(t, c.Stats().ReadyQueue)

	_, err = state.Send(ctx, "late", noop)
	assert.ErrorIs(t, err, ErrControllerStopped)
	_, err = c.NewActorState(nil, MultiThreaded)
	assert.ErrorIs(t, err, ErrControllerStopped)

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	assert.NoError(t, c.Wait(waitCtx))
}

func TestShutdownStopsWorkers(t *testing.T) {
	c := newTestController(t, WithLimits(4, 4))
	ctx := context.Background()

	state, err := c.NewActorState(nil, MultiThreaded)
	require.NoError(t, err)

	var invs []*Invocation
	for i := 0; i < 8; i++ {
		inv, err := state.Send(ctx, "work", noop)
		require.NoError(t, err)
		invs = append(invs, inv)
	}
	awaitAll(t, invs...)

	c.Shutdown()

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(waitCtx))
	assert.Zero(t, c.Stats().Workers)
}

func TestPanicRoutedToFailureHandler(t *testing.T) {
	type failure struct {
		actor any
		desc  Descriptor
		fault error
	}
	var failures []failure
	handler := FailureHandlerFunc(func(actor any, desc Descriptor, fault error) {
		failures = append(failures, failure{actor, desc, fault})
	})

	c := newTestController(t, WithLimits(0, 0), WithFailureHandler(handler))
	ctx := context.Background()

	state, err := c.NewActorState("victim", SingleThreaded)
	require.NoError(t, err)

	boom, err := state.Send(ctx, "boom", func(context.Context, any, []any) (any, error) {
		panic("boom")
	})
	require.NoError(t, err)
	after, err := state.Send(ctx, "after", func(context.Context, any, []any) (any, error) {
		return "still alive", nil
	})
	require.NoError(t, err)
	plain, err := state.Send(ctx, "plain", func(context.Context, any, []any) (any, error) {
		return nil, errors.New("plain error")
	})
	require.NoError(t, err)

	assert.Equal(t, 3, state.ExecuteQueuedMessages(ctx, func() bool { return true }))

	require.Len(t, failures, 1)
	assert.Equal(t, "victim", failures[0].actor)
	assert.Equal(t, boom.Descriptor(), failures[0].desc)
	assert.Equal(t, "boom", failures[0].desc.Name)

	var pe *PanicError
	require.ErrorAs(t, failures[0].fault, &pe)
	assert.Equal(t, "boom", pe.Value)
	assert.NotEmpty(t, pe.Stack)

	_, err = boom.Result().Await(ctx)
	assert.ErrorAs(t, err, &pe)

	v, err := after.Result().Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "still alive", v)

	_, err = plain.Result().Await(ctx)
	assert.EqualError(t, err, "plain error")
}

func TestTryExecuteNowAfterClaim(t *testing.T) {
	c := newTestController(t, WithLimits(0, 0))
	ctx := context.Background()

	state, err := c.NewActorState(nil, MultiThreaded)
	require.NoError(t, err)

	var runs atomic.Int32
	claimed := make(chan struct{})
	release := make(chan struct{})
	inv, err := state.Send(ctx, "once", func(context.Context, any, []any) (any, error) {
		runs.Inc()
		close(claimed)
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	// Simulate a worker claiming the message first
	done := make(chan int)
	go func() {
		done <- state.ExecuteQueuedMessages(ctx, func() bool { return true })
	}()
	<-claimed

	assert.False(t, state.TryExecuteNow(ctx, inv))

	close(release)
	assert.Equal(t, 1, <-done)
	awaitAll(t, inv)
	assert.Equal(t, int32(1), runs.Load())
	assert.False(t, state.TryExecuteNow(ctx, inv))
}

func TestTryExecuteNowSingleThreaded(t *testing.T) {
	c := newTestController(t, WithLimits(0, 0))
	ctx := context.Background()

	state, err := c.NewActorState(nil, SingleThreaded)
	require.NoError(t, err)

	first, err := state.Send(ctx, "first", noop)
	require.NoError(t, err)
	second, err := state.Send(ctx, "second", noop)
	require.NoError(t, err)

	// Only the head may jump the queue
	assert.False(t, state.TryExecuteNow(ctx, second))
	assert.True(t, state.TryExecuteNow(ctx, first))
	assert.True(t, first.Result().Ready())
	assert.Equal(t, 1, state.ExecutableCount())

	assert.True(t, state.TryExecuteNow(ctx, second))
	assert.Zero(t, state.ExecutableCount())
	assert.Zero(t, c.Stats().OpenParallelTasks)
}

func TestAwaitRunsQueuedInvocation(t *testing.T) {
	c := newTestController(t, WithLimits(0, 0))
	ctx := context.Background()

	state, err := c.NewActorState(nil, MultiThreaded)
	require.NoError(t, err)

	inv, err := state.Send(ctx, "answer", func(_ context.Context, _ any, args []any) (any, error) {
		return args[0].(int) * 2, nil
	}, 21)
	require.NoError(t, err)

	v, err := inv.Result().Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Zero(t, state.Pending())
}

func TestAwaitHonoursContext(t *testing.T) {
	c := newTestController(t, WithLimits(0, 0))

	state, err := c.NewActorState(nil, SingleThreaded)
	require.NoError(t, err)

	started := make(chan struct{})
	block := make(chan struct{})
	defer close(block)

	_, err = state.Send(context.Background(), "first", func(context.Context, any, []any) (any, error) {
		close(started)
		<-block
		return nil, nil
	})
	require.NoError(t, err)
	second, err := state.Send(context.Background(), "second", noop)
	require.NoError(t, err)

	go state.ExecuteQueuedMessages(context.Background(), func() bool { return true })
	<-started

	// The actor is busy, so the caller cannot run the message itself
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = second.Result().Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInvocationParentChain(t *testing.T) {
	c := newTestController(t, WithLimits(0, 0))
	ctx := context.Background()

	state, err := c.NewActorState(nil, MultiThreaded)
	require.NoError(t, err)

	var child *Invocation
	root, err := state.Send(ctx, "root", func(ctx context.Context, _ any, _ []any) (any, error) {
		var err error
		child, err = state.Send(ctx, "child", noop)
		return nil, err
	})
	require.NoError(t, err)

	args := []any{1, 2}
	withArgs, err := state.Send(ctx, "args", noop, args...)
	require.NoError(t, err)
	args[0] = 99
	assert.Equal(t, []any{1, 2}, withArgs.Args())

	assert.True(t, state.TryExecuteNow(ctx, root))
	require.NotNil(t, child)
	assert.Same(t, root, child.Parent())
	assert.Same(t, root, child.Root())
	assert.Nil(t, root.Parent())
	assert.Greater(t, child.Seq(), root.Seq())
}

func TestBlockingOutsideWorker(t *testing.T) {
	ctx := context.Background()
	assert.False(t, InWorker(ctx))

	called := false
	err := Blocking(ctx, WorkerRunningIO, func() error {
		called = true
		return errors.New("io failed")
	})
	assert.True(t, called)
	assert.EqualError(t, err, "io failed")
}

func TestBlockingInsideWorkerRestoresState(t *testing.T) {
	c := newTestController(t, WithLimits(1, 1))
	ctx := context.Background()

	state, err := c.NewActorState(nil, SingleThreaded)
	require.NoError(t, err)

	var during, inWorker bool
	inv, err := state.Send(ctx, "io", func(ctx context.Context, _ any, _ []any) (any, error) {
		inWorker = InWorker(ctx)
		return nil, Blocking(ctx, WorkerWaitingExternal, func() error {
			during = c.Stats().States[WorkerWaitingExternal] == 1
			return nil
		})
	})
	require.NoError(t, err)
	awaitAll(t, inv)

	assert.True(t, inWorker)
	assert.True(t, during)
	assert.Zero(t, c.Stats().States[WorkerWaitingExternal])
}

func TestControllerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, "atom")
	require.NoError(t, err)

	_, err = NewMetrics(reg, "atom")
	assert.Error(t, err)

	c := newTestController(t, WithLimits(0, 0), WithMetrics(m),
		WithFailureHandler(FailureHandlerFunc(func(any, Descriptor, error) {})))
	ctx := context.Background()

	state, err := c.NewActorState(nil, MultiThreaded)
	require.NoError(t, err)
	_, err = state.Send(ctx, "ok", noop)
	require.NoError(t, err)
	_, err = state.Send(ctx, "panic", func(context.Context, any, []any) (any, error) {
		panic("metrics")
	})
	require.NoError(t, err)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.openTasks))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.readyQueue))

	state.ExecuteQueuedMessages(ctx, func() bool { return true })

	assert.Equal(t, float64(2), testutil.ToFloat64(m.executed))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.failures))
	assert.Zero(t, testutil.ToFloat64(m.openTasks))
	assert.Zero(t, testutil.ToFloat64(m.readyQueue))
	assert.Zero(t, testutil.ToFloat64(m.workers))
}
