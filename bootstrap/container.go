package bootstrap

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Container errors
var (
	ErrEmptyServiceName  = errors.New("service name cannot be empty")
	ErrServiceRegistered = errors.New("service is already registered")
	ErrServiceNotFound   = errors.New("service is not registered")
	ErrNotAssignable     = errors.New("service is not assignable to target")
)

// DefaultContainer holds singleton services. Factories run outside the
// container lock, so a factory may resolve its own dependencies.
type DefaultContainer struct {
	mu        sync.RWMutex
	factories map[string]ServiceFactory
	instances map[string]any

	// One factory call per name even under concurrent Resolve
	creating singleflight.Group
}

// NewContainer creates a new dependency injection container
func NewContainer() *DefaultContainer {
	return &DefaultContainer{
		factories: make(map[string]ServiceFactory),
		instances: make(map[string]any),
	}
}

// Register registers a service factory with the container
func (c *DefaultContainer) Register(name string, factory ServiceFactory) error {
	if name == "" {
		return ErrEmptyServiceName
	}
	if factory == nil {
		return fmt.Errorf("service factory for %s cannot be nil", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasLocked(name) {
		return fmt.Errorf("%w: %s", ErrServiceRegistered, name)
	}
	c.factories[name] = factory
	return nil
}

// RegisterInstance registers a service instance with the container
func (c *DefaultContainer) RegisterInstance(name string, instance any) error {
	if name == "" {
		return ErrEmptyServiceName
	}
	if instance == nil {
		return fmt.Errorf("service instance %s cannot be nil", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasLocked(name) {
		return fmt.Errorf("%w: %s", ErrServiceRegistered, name)
	}
	c.instances[name] = instance
	return nil
}

// Resolve resolves a service by name
func (c *DefaultContainer) Resolve(name string) (any, error) {
	c.mu.RLock()
	instance, ok := c.instances[name]
	factory, hasFactory := c.factories[name]
	c.mu.RUnlock()

	if ok {
		return instance, nil
	}
	if !hasFactory {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}

	instance, err, _ := c.creating.Do(name, func() (any, error) {
		c.mu.RLock()
		existing, ok := c.instances[name]
		c.mu.RUnlock()
		if ok {
			return existing, nil
		}

		created, err := factory(c)
		if err != nil {
			return nil, fmt.Errorf("failed to create service %s: %w", name, err)
		}

		c.mu.Lock()
		c.instances[name] = created
		c.mu.Unlock()
		return created, nil
	})
	return instance, err
}

// ResolveAs resolves a service and stores it in the value target points to
func (c *DefaultContainer) ResolveAs(name string, target any) error {
	targetValue := reflect.ValueOf(target)
	if targetValue.Kind() != reflect.Pointer || targetValue.IsNil() {
		return fmt.Errorf("target must be a non-nil pointer, got %T", target)
	}

	instance, err := c.Resolve(name)
	if err != nil {
		return err
	}

	instanceValue := reflect.ValueOf(instance)
	targetType := targetValue.Elem().Type()
	if !instanceValue.Type().AssignableTo(targetType) {
		return fmt.Errorf("%w: %s of type %s, target %s", ErrNotAssignable, name, instanceValue.Type(), targetType)
	}

	targetValue.Elem().Set(instanceValue)
	return nil
}

// Has checks if a service is registered
func (c *DefaultContainer) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasLocked(name)
}

func (c *DefaultContainer) hasLocked(name string) bool {
	_, hasFactory := c.factories[name]
	_, hasInstance := c.instances[name]
	return hasFactory || hasInstance
}

// Names returns all registered service names
func (c *DefaultContainer) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.factories)+len(c.instances))
	for name := range c.factories {
		names = append(names, name)
	}
	for name := range c.instances {
		if _, dup := c.factories[name]; !dup {
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return names
}

// ResolveTyped resolves name and asserts its type.
func ResolveTyped[T any](c Container, name string) (T, error) {
	var zero T
	instance, err := c.Resolve(name)
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T", ErrNotAssignable, name, instance)
	}
	return typed, nil
}
