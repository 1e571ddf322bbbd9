// Package bootstrap wires the runtime into a managed application: a
// dependency container, a lifecycle manager starting services in
// dependency order, and the built-in runtime and monitor services.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/pierstocazzo/atom-game-framework/config"
)

// Service represents a service that can be managed by the lifecycle manager
type Service interface {
	// Start starts the service
	Start(ctx context.Context) error

	// Stop stops the service
	Stop(ctx context.Context) error

	// Health returns the health status of the service
	Health(ctx context.Context) (HealthStatus, error)

	// Name returns the service name
	Name() string
}

// HealthStatus represents the health status of a service
type HealthStatus struct {
	State   HealthState `json:"state"`
	Message string      `json:"message,omitempty"`

	// LastCheck is the timestamp of the last health check
	LastCheck time.Time `json:"last_check,omitempty"`

	Data map[string]any `json:"data,omitempty"`
}

// HealthState represents the health state of a service
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthStarting  HealthState = "starting"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthStopped   HealthState = "stopped"
)

// Container provides dependency injection capabilities
type Container interface {
	// Register registers a lazily created singleton
	Register(name string, factory ServiceFactory) error

	// RegisterInstance registers a ready instance
	RegisterInstance(name string, instance any) error

	// Resolve resolves a service by name, creating it on first use
	Resolve(name string) (any, error)

	// ResolveAs resolves a service into the value target points to
	ResolveAs(name string, target any) error

	Has(name string) bool

	// Names returns all registered service names, sorted
	Names() []string
}

// ServiceFactory is a function that creates a service instance
type ServiceFactory func(container Container) (any, error)

// LifecycleManager manages the lifecycle of services
type LifecycleManager interface {
	// Register registers a service with optional dependencies
	Register(name string, service Service, deps ...string) error

	// Start starts all services in dependency order
	Start(ctx context.Context) error

	// Stop stops started services in reverse order
	Stop(ctx context.Context) error

	// Health checks every service concurrently
	Health(ctx context.Context) (map[string]HealthStatus, error)

	// Services returns all registered service names
	Services() []string

	// AddListener adds a lifecycle event listener
	AddListener(listener func(LifecycleEvent))
}

// Application is a configured set of services run until a signal arrives.
type Application interface {
	// Configure applies cfg before Run
	Configure(cfg *config.Config) error

	// Run starts every service and blocks until ctx ends or a signal arrives
	Run(ctx context.Context) error

	// Shutdown stops every service
	Shutdown(ctx context.Context) error

	Container() Container
	LifecycleManager() LifecycleManager
}

// Lifecycle event types
const (
	EventServiceRegistered  = "service.registered"
	EventServiceStarting    = "service.starting"
	EventServiceStarted     = "service.started"
	EventServiceStartFailed = "service.start_failed"
	EventServiceStopping    = "service.stopping"
	EventServiceStopped     = "service.stopped"
	EventServiceStopFailed  = "service.stop_failed"
	EventLifecycleStarted   = "lifecycle.started"
	EventLifecycleStopped   = "lifecycle.stopped"
)

// LifecycleEvent represents an event in the service lifecycle
type LifecycleEvent struct {
	Type      string         `json:"type"`
	Service   string         `json:"service,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Error     error          `json:"error,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// ApplicationError represents an error that occurred during application lifecycle
type ApplicationError struct {
	Operation string
	Service   string
	Err       error
}

func (e *ApplicationError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s failed for service %s: %v", e.Operation, e.Service, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}
