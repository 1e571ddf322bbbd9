package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/pierstocazzo/atom-game-framework/config"
	"github.com/pierstocazzo/atom-game-framework/core"
	"github.com/pierstocazzo/atom-game-framework/log"
	"github.com/pierstocazzo/atom-game-framework/workers"
)

// Application errors
var (
	ErrAlreadyConfigured = errors.New("application already configured")
	ErrNotConfigured     = errors.New("application not configured")
	ErrAlreadyRunning    = errors.New("application is already running")
)

// Container keys of the built-in instances
const (
	ConfigKey   = "config"
	RegistryKey = "registry"
	LoggerKey   = "logger"
)

var _ Application = (*DefaultApplication)(nil)

// AppOption configures a DefaultApplication.
type AppOption func(*DefaultApplication)

// WithConfigFile loads cfg from path when Run is called unconfigured, and
// watches it for worker limit changes.
func WithConfigFile(path string) AppOption {
	return func(a *DefaultApplication) { a.configFile = path }
}

// WithConfigLoader replaces the default loader.
func WithConfigLoader(l *config.Loader) AppOption {
	return func(a *DefaultApplication) { a.loader = l }
}

// WithAppLogger uses logger instead of one built from the log section.
func WithAppLogger(logger log.Logger) AppOption {
	return func(a *DefaultApplication) { a.logger = logger }
}

// WithWorkerOptions passes options to the runtime's workers container.
func WithWorkerOptions(opts ...workers.Option) AppOption {
	return func(a *DefaultApplication) { a.workerOpts = append(a.workerOpts, opts...) }
}

// DefaultApplication hosts the runtime, the monitor and any user services.
type DefaultApplication struct {
	mu sync.Mutex

	cfg        *config.Config
	configFile string
	loader     *config.Loader
	logger     log.Logger
	workerOpts []workers.Option

	container *DefaultContainer
	lifecycle *DefaultLifecycleManager
	registry  *prometheus.Registry
	runtime   *RuntimeService

	running bool
}

// NewApplication creates an unconfigured application.
func NewApplication(opts ...AppOption) *DefaultApplication {
	app := &DefaultApplication{
		loader:    config.NewLoader(),
		container: NewContainer(),
	}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

// Configure builds the logger, the metrics registry and the built-in
// services from cfg.
func (app *DefaultApplication) Configure(cfg *config.Config) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.cfg != nil {
		return ErrAlreadyConfigured
	}
	if err := cfg.Validate(); err != nil {
		return &ApplicationError{Operation: "configure", Err: err}
	}

	if app.logger == nil {
		logger, err := log.New(cfg.LoggerConfig())
		if err != nil {
			return &ApplicationError{Operation: "configure", Err: err}
		}
		app.logger = logger
	}
	logger := app.logger.With(log.String("app", cfg.App.Name), log.String("env", cfg.App.Environment.String()))

	app.registry = prometheus.NewRegistry()
	var metrics *core.Metrics
	if cfg.Monitor.Enabled {
		app.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m, err := core.NewMetrics(app.registry, cfg.Monitor.Namespace)
		if err != nil {
			return &ApplicationError{Operation: "configure", Err: err}
		}
		metrics = m
	}

	app.lifecycle = NewLifecycleManager(logger)
	app.lifecycle.SetTimeout(cfg.Runtime.ShutdownTimeout)
	app.runtime = NewRuntimeService(cfg.Runtime, metrics, logger.Named("runtime"), app.workerOpts...)
	if err := app.lifecycle.Register(RuntimeServiceName, app.runtime); err != nil {
		return err
	}

	if cfg.Monitor.Enabled {
		monitor := NewMonitorService(cfg.Monitor.HTTP, app.registry, app.lifecycle.Health, logger.Named("monitor"))
		if err := app.lifecycle.Register(MonitorServiceName, monitor, RuntimeServiceName); err != nil {
			return err
		}
	}

	if app.configFile != "" {
		watcher, err := config.NewWatcher(app.configFile, app.loader, logger)
		if err != nil {
			return &ApplicationError{Operation: "configure", Service: ConfigWatcherServiceName, Err: err}
		}
		svc := NewConfigWatcherService(watcher, app.runtime, logger)
		if err := app.lifecycle.Register(ConfigWatcherServiceName, svc, RuntimeServiceName); err != nil {
			return err
		}
	}

	for key, instance := range map[string]any{
		ConfigKey:          cfg,
		RegistryKey:        app.registry,
		LoggerKey:          app.logger,
		RuntimeServiceName: app.runtime,
	} {
		if err := app.container.RegisterInstance(key, instance); err != nil {
			return err
		}
	}

	app.cfg = cfg
	return nil
}

// Register adds a user service started after the runtime.
func (app *DefaultApplication) Register(name string, service Service, deps ...string) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.lifecycle == nil {
		return ErrNotConfigured
	}
	return app.lifecycle.Register(name, service, append([]string{RuntimeServiceName}, deps...)...)
}

// Run starts every service and blocks until ctx is done or SIGINT or
// SIGTERM arrives, then shuts down. An unconfigured application loads
// its configuration first.
func (app *DefaultApplication) Run(ctx context.Context) error {
	if err := app.Prepare(); err != nil {
		return err
	}

	app.mu.Lock()
	if app.running {
		app.mu.Unlock()
		return ErrAlreadyRunning
	}
	app.running = true
	app.mu.Unlock()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.lifecycle.Start(ctx); err != nil {
		app.mu.Lock()
		app.running = false
		app.mu.Unlock()
		return err
	}

	app.logger.Info("application running", log.String("app", app.cfg.App.Name))
	<-ctx.Done()
	app.logger.Info("shutting down", log.Err(context.Cause(ctx)))

	return app.Shutdown(context.Background())
}

// Prepare configures the application from its config file, or from the
// loader's search paths, unless Configure was already called.
func (app *DefaultApplication) Prepare() error {
	app.mu.Lock()
	configured := app.cfg != nil
	app.mu.Unlock()
	if configured {
		return nil
	}

	var (
		cfg *config.Config
		err error
	)
	if app.configFile != "" {
		cfg, err = app.loader.Load(app.configFile)
	} else {
		cfg, err = app.loader.AutoLoad()
	}
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	return app.Configure(cfg)
}

// Shutdown stops every service. It is a no-op when not running.
func (app *DefaultApplication) Shutdown(ctx context.Context) error {
	app.mu.Lock()
	if !app.running {
		app.mu.Unlock()
		return nil
	}
	app.running = false
	app.mu.Unlock()

	err := app.lifecycle.Stop(ctx)
	if syncErr := app.logger.Sync(); syncErr != nil && !errors.Is(syncErr, syscall.EINVAL) && !errors.Is(syncErr, syscall.ENOTTY) {
		err = errors.Join(err, syncErr)
	}
	if err != nil {
		return &ApplicationError{Operation: "shutdown", Err: err}
	}
	return nil
}

// Start starts the services without waiting for a signal.
func (app *DefaultApplication) Start(ctx context.Context) error {
	if err := app.Prepare(); err != nil {
		return err
	}

	app.mu.Lock()
	defer app.mu.Unlock()
	if app.running {
		return ErrAlreadyRunning
	}
	if err := app.lifecycle.Start(ctx); err != nil {
		return err
	}
	app.running = true
	return nil
}

// Config returns the active configuration, nil before Configure.
func (app *DefaultApplication) Config() *config.Config {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.cfg
}

// Workers returns the runtime's container, nil before Start.
func (app *DefaultApplication) Workers() *workers.ThreadedWorkers {
	app.mu.Lock()
	runtime := app.runtime
	app.mu.Unlock()
	if runtime == nil {
		return nil
	}
	return runtime.Workers()
}

// Logger returns the application logger, nil before Configure.
func (app *DefaultApplication) Logger() log.Logger {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.logger
}

// Registry returns the metrics registry, nil before Configure.
func (app *DefaultApplication) Registry() *prometheus.Registry {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.registry
}

func (app *DefaultApplication) Container() Container {
	return app.container
}

func (app *DefaultApplication) LifecycleManager() LifecycleManager {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.lifecycle == nil {
		return nil
	}
	return app.lifecycle
}
