package core

import (
	"errors"
	"fmt"
)

// Scheduling errors
var (
	ErrControllerStopped = errors.New("controller is stopped")
	ErrActorDiscarded    = errors.New("actor state has been discarded")
	ErrForeignActorState = errors.New("actor state belongs to another controller")
	ErrNilCallable       = errors.New("callable cannot be nil")
)

// Configuration errors
var (
	ErrInvalidLimits    = errors.New("invalid worker limits")
	ErrInvalidWeight    = errors.New("invalid worker state weight")
	ErrInvalidBatchSize = errors.New("invalid batch size")
)

// Handle errors
var (
	ErrHandleNotFound = errors.New("handle not found")
)

// PanicError is the fault reported when a message body panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("message panicked: %v", e.Value)
}

// Unwrap returns the panic value if it was an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
