package core

import (
	"runtime"

	"github.com/pierstocazzo/atom-game-framework/log"
)

// Default scheduling parameters.
const (
	DefaultIOWeight       = 8
	DefaultExternalWeight = 128
	DefaultBatchSize      = 64
)

// Options configures a Controller.
type Options struct {
	// MaxPhysicalWorkers caps the number of worker goroutines
	MaxPhysicalWorkers int

	// MaxEffectiveWorkers caps the weighted running-thread estimate
	MaxEffectiveWorkers int

	// IOWeight divides the RunningIO bucket in the effective estimate
	IOWeight int

	// ExternalWeight divides the WaitingExternal bucket in the effective estimate
	ExternalWeight int

	// BatchSize is the most messages a worker runs per dequeued actor
	BatchSize int

	// LogActions logs every message send, start and finish at debug level
	LogActions bool

	Logger         log.Logger
	Metrics        *Metrics
	FailureHandler FailureHandler
}

// DefaultOptions returns options derived from the number of CPUs.
func DefaultOptions() Options {
	cpus := runtime.NumCPU()
	return Options{
		MaxPhysicalWorkers:  4 * cpus,
		MaxEffectiveWorkers: cpus,
		IOWeight:            DefaultIOWeight,
		ExternalWeight:      DefaultExternalWeight,
		BatchSize:           DefaultBatchSize,
	}
}

// Option is a functional option for NewController.
type Option func(*Options)

// WithMaxPhysicalWorkers sets the worker goroutine ceiling.
func WithMaxPhysicalWorkers(n int) Option {
	return func(o *Options) { o.MaxPhysicalWorkers = n }
}

// WithMaxEffectiveWorkers sets the effective-thread ceiling.
func WithMaxEffectiveWorkers(n int) Option {
	return func(o *Options) { o.MaxEffectiveWorkers = n }
}

// WithLimits sets both ceilings.
func WithLimits(physical, effective int) Option {
	return func(o *Options) {
		o.MaxPhysicalWorkers = physical
		o.MaxEffectiveWorkers = effective
	}
}

// WithWeights sets the RunningIO and WaitingExternal divisors.
func WithWeights(io, external int) Option {
	return func(o *Options) {
		o.IOWeight = io
		o.ExternalWeight = external
	}
}

// WithBatchSize sets how many messages a worker runs before rotating.
func WithBatchSize(n int) Option {
	return func(o *Options) { o.BatchSize = n }
}

// WithLogActions enables per-message debug logging.
func WithLogActions(enabled bool) Option {
	return func(o *Options) { o.LogActions = enabled }
}

// WithLogger sets the controller logger.
func WithLogger(l log.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithFailureHandler sets the handler for panicking messages.
func WithFailureHandler(h FailureHandler) Option {
	return func(o *Options) { o.FailureHandler = h }
}

func (o Options) validate() error {
	if o.MaxPhysicalWorkers < 0 || o.MaxEffectiveWorkers < 0 {
		return ErrInvalidLimits
	}
	if o.IOWeight <= 0 || o.ExternalWeight <= 0 {
		return ErrInvalidWeight
	}
	if o.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	return nil
}
