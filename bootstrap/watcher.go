package bootstrap

import (
	"context"

	"github.com/pierstocazzo/atom-game-framework/config"
	"github.com/pierstocazzo/atom-game-framework/log"
)

// ConfigWatcherService reloads the configuration file on change and
// applies new worker limits to the runtime.
type ConfigWatcherService struct {
	watcher *config.Watcher
	runtime *RuntimeService
	logger  log.Logger
}

// NewConfigWatcherService creates the service around an unstarted watcher.
func NewConfigWatcherService(watcher *config.Watcher, runtime *RuntimeService, logger log.Logger) *ConfigWatcherService {
	if logger == nil {
		logger = log.Default()
	}
	s := &ConfigWatcherService{watcher: watcher, runtime: runtime, logger: logger}
	watcher.OnConfigChange(s.apply)
	return s
}

func (s *ConfigWatcherService) Name() string { return ConfigWatcherServiceName }

func (s *ConfigWatcherService) Start(context.Context) error {
	return s.watcher.Start()
}

func (s *ConfigWatcherService) Stop(context.Context) error {
	return s.watcher.Stop()
}

func (s *ConfigWatcherService) Health(context.Context) (HealthStatus, error) {
	return HealthStatus{State: HealthHealthy, Message: "watching configuration"}, nil
}

func (s *ConfigWatcherService) apply(oldConfig, newConfig *config.Config) {
	if oldConfig.Runtime == newConfig.Runtime {
		return
	}
	if err := s.runtime.ApplyConfig(newConfig.Runtime); err != nil {
		s.logger.Error("failed to apply runtime config", log.Err(err))
	}
}
