package core

import (
	"fmt"
)

// WorkerState describes what a worker goroutine is currently doing.
// The Controller keeps a histogram of these to estimate CPU load.
type WorkerState uint8

const (
	// WorkerRunning means the worker executes messages or waits for work
	WorkerRunning WorkerState = iota

	// WorkerRunningIO means the worker is blocked on I/O inside a message
	WorkerRunningIO

	// WorkerWaitingExternal means the worker waits on something outside the runtime
	WorkerWaitingExternal

	// WorkerWaitingForActor means the worker waits for another actor's result
	WorkerWaitingForActor

	numWorkerStates
)

// WorkerStates lists every worker state in histogram order.
var WorkerStates = []WorkerState{
	WorkerRunning,
	WorkerRunningIO,
	WorkerWaitingExternal,
	WorkerWaitingForActor,
}

// String returns the string representation of WorkerState.
func (s WorkerState) String() string {
	switch s {
	case WorkerRunning:
		return "running"
	case WorkerRunningIO:
		return "running_io"
	case WorkerWaitingExternal:
		return "waiting_external"
	case WorkerWaitingForActor:
		return "waiting_for_actor"
	default:
		return "unknown"
	}
}

// Variant selects how an actor state lets messages run.
type Variant uint8

const (
	// SingleThreaded actors run one message at a time in queue order
	SingleThreaded Variant = iota

	// MultiThreaded actors may run all queued messages concurrently
	MultiThreaded
)

// String returns the string representation of Variant.
func (v Variant) String() string {
	switch v {
	case SingleThreaded:
		return "single"
	case MultiThreaded:
		return "multi"
	default:
		return "unknown"
	}
}

// Descriptor identifies a message for listeners and failure handlers.
type Descriptor struct {
	// Seq is the global message sequence number
	Seq uint64

	// Name is the message name, usually the method it stands for
	Name string
}

// String returns a string representation of the descriptor.
func (d Descriptor) String() string {
	if d.Name == "" {
		return fmt.Sprintf("#%d", d.Seq)
	}
	return fmt.Sprintf("%s#%d", d.Name, d.Seq)
}

// Stats is a point-in-time snapshot of the Controller's scheduling counters.
type Stats struct {
	// Workers is the number of worker goroutines alive
	Workers int

	// Idle is the number of workers waiting for work
	Idle int

	// States counts workers per WorkerState
	States map[WorkerState]int

	// OpenParallelTasks is the executable but unclaimed work over all actors
	OpenParallelTasks int

	// ThreadsToKill is the number of pending cooperative worker exits
	ThreadsToKill int

	// EffectiveThreads is the weighted running-thread estimate, idle
	// workers excluded
	EffectiveThreads int

	// ReadyQueue is the number of actor states waiting for a worker
	ReadyQueue int

	// MaxPhysicalWorkers is the current worker ceiling
	MaxPhysicalWorkers int

	// MaxEffectiveWorkers is the current effective-thread ceiling
	MaxEffectiveWorkers int
}
