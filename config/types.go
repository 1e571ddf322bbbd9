// Package config provides configuration management for the atom runtime
package config

import (
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/pierstocazzo/atom-game-framework/core"
	"github.com/pierstocazzo/atom-game-framework/log"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// Config represents the complete runtime configuration
type Config struct {
	App     AppConfig     `yaml:"app" json:"app"`
	Log     LogConfig     `yaml:"log" json:"log"`
	Runtime RuntimeConfig `yaml:"runtime" json:"runtime"`
	Monitor MonitorConfig `yaml:"monitor" json:"monitor"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string      `yaml:"name" json:"name"`
	Version     string      `yaml:"version" json:"version"`
	Environment Environment `yaml:"environment" json:"environment"`

	// Debug forces debug logging
	Debug bool `yaml:"debug" json:"debug"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level LogLevel `yaml:"level" json:"level"`

	// Format is json or console
	Format string `yaml:"format" json:"format"`

	// Output is stdout, stderr or a file path
	Output string `yaml:"output" json:"output"`

	AddCaller bool `yaml:"add_caller" json:"add_caller"`

	// Rotation applies when Output is a file
	Rotation LogRotationConfig `yaml:"rotation" json:"rotation"`
}

// LogRotationConfig contains log rotation settings
type LogRotationConfig struct {
	// Maximum file size in MB
	MaxSize int `yaml:"max_size" json:"max_size"`

	// Maximum number of old files to retain
	MaxBackups int `yaml:"max_backups" json:"max_backups"`

	// Maximum age in days
	MaxAge int `yaml:"max_age" json:"max_age"`

	Compress bool `yaml:"compress" json:"compress"`
}

// RuntimeConfig contains the scheduler settings
type RuntimeConfig struct {
	// MaxPhysicalWorkers caps worker goroutines. 0 derives 4 per CPU.
	MaxPhysicalWorkers int `yaml:"max_physical_workers" json:"max_physical_workers"`

	// MaxEffectiveWorkers caps the weighted running estimate. 0 derives one per CPU.
	MaxEffectiveWorkers int `yaml:"max_effective_workers" json:"max_effective_workers"`

	// IOWeight divides workers blocked on I/O
	IOWeight int `yaml:"io_weight" json:"io_weight"`

	// ExternalWeight divides workers waiting on external events
	ExternalWeight int `yaml:"external_weight" json:"external_weight"`

	// BatchSize is the most messages a worker runs per actor before rotating
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// LogActions logs every message at debug level
	LogActions bool `yaml:"log_actions" json:"log_actions"`

	// MultiThreadedDefault starts actor threads multi-threaded
	MultiThreadedDefault bool `yaml:"multi_threaded_default" json:"multi_threaded_default"`

	// ShutdownTimeout bounds waiting for workers on stop
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// runtimeJSON is RuntimeConfig without its JSON methods.
type runtimeJSON RuntimeConfig

// MarshalJSON writes ShutdownTimeout as a duration string such as "10s".
func (r RuntimeConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		runtimeJSON
		ShutdownTimeout string `json:"shutdown_timeout"`
	}{runtimeJSON(r), r.ShutdownTimeout.String()})
}

// UnmarshalJSON accepts ShutdownTimeout as a duration string ("3s") or as
// integer nanoseconds, matching what the YAML format allows.
func (r *RuntimeConfig) UnmarshalJSON(data []byte) error {
	aux := struct {
		*runtimeJSON
		ShutdownTimeout json.RawMessage `json:"shutdown_timeout"`
	}{runtimeJSON: (*runtimeJSON)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.ShutdownTimeout) == 0 || string(aux.ShutdownTimeout) == "null" {
		return nil
	}

	var text string
	if err := json.Unmarshal(aux.ShutdownTimeout, &text); err == nil {
		d, err := time.ParseDuration(text)
		if err != nil {
			return fmt.Errorf("shutdown_timeout: %w", err)
		}
		r.ShutdownTimeout = d
		return nil
	}

	var ns int64
	if err := json.Unmarshal(aux.ShutdownTimeout, &ns); err != nil {
		return fmt.Errorf("shutdown_timeout: %w", err)
	}
	r.ShutdownTimeout = time.Duration(ns)
	return nil
}

// Limits returns the worker ceilings with zero values derived from the CPU
// count.
func (r RuntimeConfig) Limits() (physical, effective int) {
	cpus := runtime.NumCPU()
	physical = r.MaxPhysicalWorkers
	if physical == 0 {
		physical = 4 * cpus
	}
	effective = r.MaxEffectiveWorkers
	if effective == 0 {
		effective = cpus
	}
	return physical, effective
}

// ControllerOptions converts the section into core.Controller options.
func (r RuntimeConfig) ControllerOptions() []core.Option {
	physical, effective := r.Limits()
	return []core.Option{
		core.WithLimits(physical, effective),
		core.WithWeights(r.IOWeight, r.ExternalWeight),
		core.WithBatchSize(r.BatchSize),
		core.WithLogActions(r.LogActions),
	}
}

// MonitorConfig contains monitoring configuration
type MonitorConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Namespace prefixes every metric name
	Namespace string `yaml:"namespace" json:"namespace"`

	HTTP HTTPMonitorConfig `yaml:"http" json:"http"`
}

// HTTPMonitorConfig contains HTTP monitoring server settings
type HTTPMonitorConfig struct {
	Address     string `yaml:"address" json:"address"`
	Port        int    `yaml:"port" json:"port"`
	MetricsPath string `yaml:"metrics_path" json:"metrics_path"`
	HealthPath  string `yaml:"health_path" json:"health_path"`
}

// Addr returns the listen address.
func (h HTTPMonitorConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "atom-app",
			Version:     "1.0.0",
			Environment: EnvDevelopment,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "console",
			Output: "stdout",
			Rotation: LogRotationConfig{
				MaxSize:    100,
				MaxBackups: 3,
				MaxAge:     7,
				Compress:   true,
			},
		},
		Runtime: RuntimeConfig{
			IOWeight:        core.DefaultIOWeight,
			ExternalWeight:  core.DefaultExternalWeight,
			BatchSize:       core.DefaultBatchSize,
			ShutdownTimeout: 10 * time.Second,
		},
		Monitor: MonitorConfig{
			Enabled:   true,
			Namespace: "atom",
			HTTP: HTTPMonitorConfig{
				Address:     "0.0.0.0",
				Port:        9090,
				MetricsPath: "/metrics",
				HealthPath:  "/health",
			},
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}

	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}

	r := c.Runtime
	if r.MaxPhysicalWorkers < 0 || r.MaxEffectiveWorkers < 0 {
		return ErrInvalidWorkerLimits
	}
	if r.IOWeight <= 0 || r.ExternalWeight <= 0 {
		return ErrInvalidWeight
	}
	if r.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if r.ShutdownTimeout <= 0 {
		return ErrInvalidShutdownTimeout
	}

	if c.Monitor.Enabled && (c.Monitor.HTTP.Port <= 0 || c.Monitor.HTTP.Port > 65535) {
		return ErrInvalidPort
	}

	return nil
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// LoggerConfig converts the log section into a log.Config.
func (c *Config) LoggerConfig() log.Config {
	level := c.Log.Level.String()
	if c.App.Debug {
		level = LogLevelDebug.String()
	}
	return log.Config{
		Level:      level,
		Format:     c.Log.Format,
		Output:     c.Log.Output,
		AddCaller:  c.Log.AddCaller,
		MaxSize:    c.Log.Rotation.MaxSize,
		MaxBackups: c.Log.Rotation.MaxBackups,
		MaxAge:     c.Log.Rotation.MaxAge,
		Compress:   c.Log.Rotation.Compress,
	}
}
