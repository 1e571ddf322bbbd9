package workers

import (
	"errors"
)

// Binding errors
var (
	ErrInvalidActorInterface = errors.New("invalid actor interface")
	ErrNoEventizer           = errors.New("no eventizer registered")
	ErrNilEventizer          = errors.New("eventizer cannot be nil")
)

// Execution errors
var (
	ErrThreadStopped = errors.New("actor thread is stopped")
)
