package workers

import (
	"fmt"
	"sync"

	"github.com/pierstocazzo/atom-game-framework/core"
	"github.com/pierstocazzo/atom-game-framework/log"
)

// FailureHandler is notified once for every message that panicked.
type FailureHandler = core.FailureHandler

// NewLogFailureHandler returns a FailureHandler that logs at error level.
func NewLogFailureHandler(logger log.Logger) FailureHandler {
	return core.NewLogFailureHandler(logger)
}

// Failure is one recorded failure.
type Failure struct {
	Actor   any
	Message core.Descriptor
	Fault   error
}

func (f Failure) Error() string {
	return fmt.Sprintf("actor %T failed on %s: %v", f.Actor, f.Message, f.Fault)
}

func (f Failure) Unwrap() error {
	return f.Fault
}

// FailureRecorder keeps every failure in memory.
type FailureRecorder struct {
	mu       sync.Mutex
	failures []Failure
}

// NewFailureRecorder creates an empty FailureRecorder.
func NewFailureRecorder() *FailureRecorder {
	return &FailureRecorder{}
}

func (r *FailureRecorder) HandleFailure(actor any, message core.Descriptor, fault error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, Failure{Actor: actor, Message: message, Fault: fault})
}

// Failures returns a copy of the recorded failures in order.
func (r *FailureRecorder) Failures() []Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Failure, len(r.failures))
	copy(out, r.failures)
	return out
}

// Len returns the number of recorded failures.
func (r *FailureRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failures)
}

// CrashEarlyFailureHandler keeps the first failure not yet reported.
// SingleThreadedWorkers.ProcessEventsUntilIdle returns it to the caller,
// so a test fails on the message that broke instead of much later.
type CrashEarlyFailureHandler struct {
	mu      sync.Mutex
	pending *Failure
	logger  log.Logger
}

// NewCrashEarlyFailureHandler creates a CrashEarlyFailureHandler.
func NewCrashEarlyFailureHandler(logger log.Logger) *CrashEarlyFailureHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &CrashEarlyFailureHandler{logger: logger}
}

func (h *CrashEarlyFailureHandler) HandleFailure(actor any, message core.Descriptor, fault error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pending != nil {
		h.logger.Error("failure while another is pending",
			log.String("message", message.String()), log.Err(fault))
		return
	}
	h.pending = &Failure{Actor: actor, Message: message, Fault: fault}
}

// takeCrash returns and clears the pending failure.
func (h *CrashEarlyFailureHandler) takeCrash() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pending == nil {
		return nil
	}
	f := *h.pending
	h.pending = nil
	return f
}
