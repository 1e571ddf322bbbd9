package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pierstocazzo/atom-game-framework/log"
)

// Lifecycle errors
var (
	ErrAlreadyStarted     = errors.New("lifecycle manager already started")
	ErrCircularDependency = errors.New("circular dependency detected")
	ErrUnknownDependency  = errors.New("dependency is not registered")
	ErrRegisterAfterStart = errors.New("cannot register services after start")
	ErrNilService         = errors.New("service cannot be nil")
)

const (
	defaultOperationTimeout = 30 * time.Second
	defaultHealthTimeout    = 5 * time.Second
)

// DefaultLifecycleManager starts services in dependency order and stops
// them in reverse.
type DefaultLifecycleManager struct {
	mu           sync.RWMutex
	services     map[string]Service
	dependencies map[string][]string

	// startOrder lists started services, oldest first
	startOrder []string
	started    bool

	listenersMu sync.RWMutex
	listeners   []func(LifecycleEvent)

	timeout time.Duration
	logger  log.Logger
}

// NewLifecycleManager creates a new lifecycle manager
func NewLifecycleManager(logger log.Logger) *DefaultLifecycleManager {
	if logger == nil {
		logger = log.Default()
	}
	return &DefaultLifecycleManager{
		services:     make(map[string]Service),
		dependencies: make(map[string][]string),
		timeout:      defaultOperationTimeout,
		logger:       logger.Named("lifecycle"),
	}
}

// SetTimeout bounds each Start and Stop call
func (lm *DefaultLifecycleManager) SetTimeout(timeout time.Duration) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.timeout = timeout
}

// Register registers a service with the lifecycle manager
func (lm *DefaultLifecycleManager) Register(name string, service Service, deps ...string) error {
	if name == "" {
		return ErrEmptyServiceName
	}
	if service == nil {
		return ErrNilService
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.started {
		return fmt.Errorf("%w: %s", ErrRegisterAfterStart, name)
	}
	if _, exists := lm.services[name]; exists {
		return fmt.Errorf("%w: %s", ErrServiceRegistered, name)
	}

	lm.services[name] = service
	lm.dependencies[name] = slices.Clone(deps)

	lm.emit(LifecycleEvent{
		Type:    EventServiceRegistered,
		Service: name,
		Data:    map[string]any{"dependencies": deps},
	})
	return nil
}

// Start starts all services in dependency order. When one fails the
// services already started are stopped again.
func (lm *DefaultLifecycleManager) Start(ctx context.Context) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.started {
		return ErrAlreadyStarted
	}

	order, err := lm.startOrderLocked()
	if err != nil {
		return &ApplicationError{Operation: "start", Err: err}
	}

	for _, name := range order {
		service := lm.services[name]
		lm.emit(LifecycleEvent{Type: EventServiceStarting, Service: name})

		startCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := service.Start(startCtx)
		cancel()

		if err != nil {
			lm.emit(LifecycleEvent{Type: EventServiceStartFailed, Service: name, Error: err})
			lm.logger.Error("service failed to start", log.String("service", name), log.Err(err))

			if stopErr := lm.stopLocked(ctx); stopErr != nil {
				err = errors.Join(err, stopErr)
			}
			return &ApplicationError{Operation: "start", Service: name, Err: err}
		}

		lm.startOrder = append(lm.startOrder, name)
		lm.emit(LifecycleEvent{Type: EventServiceStarted, Service: name})
		lm.logger.Info("service started", log.String("service", name))
	}

	lm.started = true
	lm.emit(LifecycleEvent{Type: EventLifecycleStarted, Data: map[string]any{"order": order}})
	return nil
}

// Stop stops started services in reverse order. Every service is asked to
// stop; their errors are joined.
func (lm *DefaultLifecycleManager) Stop(ctx context.Context) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if !lm.started {
		return nil
	}
	err := lm.stopLocked(ctx)
	lm.started = false
	lm.emit(LifecycleEvent{Type: EventLifecycleStopped})
	return err
}

func (lm *DefaultLifecycleManager) stopLocked(ctx context.Context) error {
	var errs []error

	for i := len(lm.startOrder) - 1; i >= 0; i-- {
		name := lm.startOrder[i]
		lm.emit(LifecycleEvent{Type: EventServiceStopping, Service: name})

		stopCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := lm.services[name].Stop(stopCtx)
		cancel()

		if err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
			lm.emit(LifecycleEvent{Type: EventServiceStopFailed, Service: name, Error: err})
			lm.logger.Error("service failed to stop", log.String("service", name), log.Err(err))
			continue
		}
		lm.emit(LifecycleEvent{Type: EventServiceStopped, Service: name})
		lm.logger.Info("service stopped", log.String("service", name))
	}

	lm.startOrder = nil
	return errors.Join(errs...)
}

// Health checks every service concurrently. A failing check is reported
// as unhealthy rather than as an error.
func (lm *DefaultLifecycleManager) Health(ctx context.Context) (map[string]HealthStatus, error) {
	lm.mu.RLock()
	services := make(map[string]Service, len(lm.services))
	for name, service := range lm.services {
		services[name] = service
	}
	lm.mu.RUnlock()

	var (
		mu     sync.Mutex
		health = make(map[string]HealthStatus, len(services))
	)
	g, gctx := errgroup.WithContext(ctx)
	for name, service := range services {
		name, service := name, service
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(gctx, defaultHealthTimeout)
			defer cancel()

			status, err := service.Health(checkCtx)
			if err != nil {
				status = HealthStatus{State: HealthUnhealthy, Message: err.Error()}
			}
			if status.LastCheck.IsZero() {
				status.LastCheck = time.Now()
			}

			mu.Lock()
			health[name] = status
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return health, ctx.Err()
}

// Services returns all registered service names
func (lm *DefaultLifecycleManager) Services() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	names := make([]string, 0, len(lm.services))
	for name := range lm.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsStarted returns true if the lifecycle manager has been started
func (lm *DefaultLifecycleManager) IsStarted() bool {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.started
}

// AddListener adds a lifecycle event listener. Listeners are called
// synchronously in registration order.
func (lm *DefaultLifecycleManager) AddListener(listener func(LifecycleEvent)) {
	lm.listenersMu.Lock()
	defer lm.listenersMu.Unlock()
	lm.listeners = append(lm.listeners, listener)
}

// startOrderLocked sorts services topologically (Kahn). Ties keep name
// order so the start sequence is stable.
func (lm *DefaultLifecycleManager) startOrderLocked() ([]string, error) {
	inDegree := make(map[string]int, len(lm.services))
	dependents := make(map[string][]string, len(lm.services))

	for name := range lm.services {
		inDegree[name] = 0
	}
	for name, deps := range lm.dependencies {
		for _, dep := range deps {
			if _, exists := lm.services[dep]; !exists {
				return nil, fmt.Errorf("%w: %s needs %s", ErrUnknownDependency, name, dep)
			}
			dependents[dep] = append(dependents[dep], name)
			inDegree[name]++
		}
	}

	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(lm.services))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		var ready []string
		for _, dependent := range dependents[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		sort.Strings(ready)
		queue = append(queue, ready...)
	}

	if len(order) != len(lm.services) {
		return nil, ErrCircularDependency
	}
	return order, nil
}

func (lm *DefaultLifecycleManager) emit(event LifecycleEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	lm.listenersMu.RLock()
	listeners := slices.Clone(lm.listeners)
	lm.listenersMu.RUnlock()

	for _, listener := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					lm.logger.Warn("lifecycle listener panicked", log.String("event", event.Type), log.Any("panic", r))
				}
			}()
			listener(event)
		}()
	}
}
