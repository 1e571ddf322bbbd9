package bootstrap

import (
	"context"
	"sync"

	"github.com/pierstocazzo/atom-game-framework/config"
	"github.com/pierstocazzo/atom-game-framework/core"
	"github.com/pierstocazzo/atom-game-framework/log"
	"github.com/pierstocazzo/atom-game-framework/workers"
)

// Built-in service names
const (
	RuntimeServiceName       = "runtime"
	MonitorServiceName       = "monitor"
	ConfigWatcherServiceName = "config-watcher"
)

// RuntimeService owns the controller and the threaded workers container
// built on it.
type RuntimeService struct {
	cfg     config.RuntimeConfig
	metrics *core.Metrics
	logger  log.Logger
	opts    []workers.Option

	mu sync.RWMutex
	tw *workers.ThreadedWorkers
}

// NewRuntimeService creates the service. metrics may be nil.
func NewRuntimeService(cfg config.RuntimeConfig, metrics *core.Metrics, logger log.Logger, opts ...workers.Option) *RuntimeService {
	if logger == nil {
		logger = log.Default()
	}
	return &RuntimeService{
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		opts:    opts,
	}
}

func (s *RuntimeService) Name() string { return RuntimeServiceName }

func (s *RuntimeService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tw != nil {
		return nil
	}

	opts := append(s.cfg.ControllerOptions(),
		core.WithLogger(s.logger),
		core.WithMetrics(s.metrics),
	)
	ctrl, err := core.NewController(opts...)
	if err != nil {
		return err
	}

	wopts := append([]workers.Option{
		workers.WithLogger(s.logger),
		workers.WithMultiThreadedDefault(s.cfg.MultiThreadedDefault),
	}, s.opts...)
	s.tw = workers.NewThreadedWorkers(ctrl, wopts...)

	stats := ctrl.Stats()
	s.logger.Info("runtime started",
		log.Int("max_physical_workers", stats.MaxPhysicalWorkers),
		log.Int("max_effective_workers", stats.MaxEffectiveWorkers),
	)
	return nil
}

// Stop shuts the controller down and waits for its workers, bounded by
// the configured shutdown timeout.
func (s *RuntimeService) Stop(ctx context.Context) error {
	s.mu.RLock()
	tw := s.tw
	s.mu.RUnlock()
	if tw == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return tw.Shutdown(ctx)
}

func (s *RuntimeService) Health(context.Context) (HealthStatus, error) {
	s.mu.RLock()
	tw := s.tw
	s.mu.RUnlock()

	if tw == nil {
		return HealthStatus{State: HealthStarting, Message: "runtime not started"}, nil
	}
	ctrl := tw.Controller()
	if ctrl.Stopped() {
		return HealthStatus{State: HealthStopped, Message: "controller stopped"}, nil
	}

	stats := ctrl.Stats()
	return HealthStatus{
		State:   HealthHealthy,
		Message: "runtime running",
		Data: map[string]any{
			"workers":             stats.Workers,
			"idle_workers":        stats.Idle,
			"open_parallel_tasks": stats.OpenParallelTasks,
			"threads_to_kill":     stats.ThreadsToKill,
			"effective_threads":   stats.EffectiveThreads,
			"ready_queue":         stats.ReadyQueue,
			"actor_threads":       tw.Threads(),
		},
	}, nil
}

// Workers returns the container, or nil before Start.
func (s *RuntimeService) Workers() *workers.ThreadedWorkers {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tw
}

// ApplyConfig pushes new worker limits into a running controller. The
// other runtime settings take effect on the next start.
func (s *RuntimeService) ApplyConfig(cfg config.RuntimeConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	if s.tw == nil {
		return nil
	}

	physical, effective := cfg.Limits()
	if err := s.tw.Controller().SetLimits(physical, effective); err != nil {
		return err
	}
	s.logger.Info("worker limits updated",
		log.Int("max_physical_workers", physical),
		log.Int("max_effective_workers", effective),
	)
	return nil
}
