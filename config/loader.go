// Package config provides configuration loading and parsing functionality
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigFormat represents the configuration file format
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
)

// Loader handles configuration loading from files, .env files and the
// environment, in that order of increasing precedence.
type Loader struct {
	// Configuration search paths
	searchPaths []string

	// Environment variable prefix
	envPrefix string

	// .env files loaded before reading the environment
	envFiles []string

	// Default configuration
	defaultConfig *Config
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	paths := []string{
		".",
		"./config",
		"./configs",
		"/etc/atom",
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".atom"))
	}

	return &Loader{
		searchPaths:   paths,
		envPrefix:     "ATOM",
		envFiles:      []string{".env"},
		defaultConfig: DefaultConfig(),
	}
}

// SetSearchPaths sets the configuration file search paths
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix sets the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetEnvFiles sets the .env files read before the environment.
// Missing files are skipped.
func (l *Loader) SetEnvFiles(files ...string) *Loader {
	l.envFiles = files
	return l
}

// SetDefaultConfig sets the default configuration
func (l *Loader) SetDefaultConfig(config *Config) *Loader {
	l.defaultConfig = config
	return l
}

func (l *Loader) defaults() *Config {
	if l.defaultConfig == nil {
		return DefaultConfig()
	}
	c := *l.defaultConfig
	return &c
}

// Load loads configuration from the specified file. An empty filename
// loads the defaults.
func (l *Loader) Load(filename string) (*Config, error) {
	config := l.defaults()

	if filename != "" {
		format, err := formatOf(filename)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filename)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, filename)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
		}
		if err := decode(data, format, config); err != nil {
			return nil, fmt.Errorf("failed to load config from file %s: %w", filename, err)
		}
	}

	return l.finish(config)
}

// LoadFromReader loads configuration from an io.Reader over the defaults
func (l *Loader) LoadFromReader(reader io.Reader, format ConfigFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration data: %w", err)
	}

	config := l.defaults()
	if err := decode(data, format, config); err != nil {
		return nil, err
	}

	return l.finish(config)
}

// AutoLoad discovers a configuration file in the search paths and loads
// it. Without a file the defaults are used.
func (l *Loader) AutoLoad() (*Config, error) {
	configFile, err := l.findConfigFile()
	if errors.Is(err, ErrConfigFileNotFound) {
		return l.finish(l.defaults())
	}
	if err != nil {
		return nil, err
	}
	return l.Load(configFile)
}

// finish applies .env and environment overrides, then validates.
func (l *Loader) finish(config *Config) (*Config, error) {
	if err := l.loadEnvFiles(); err != nil {
		return nil, err
	}
	if err := l.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigValidateError, err)
	}
	return config, nil
}

// findConfigFile searches for configuration files in search paths
func (l *Loader) findConfigFile() (string, error) {
	filenames := []string{
		"atom.yaml", "atom.yml",
		"config.yaml", "config.yml",
		"atom.json", "config.json",
	}

	for _, searchPath := range l.searchPaths {
		for _, filename := range filenames {
			fullPath := filepath.Join(searchPath, filename)
			if _, err := os.Stat(fullPath); err == nil {
				return fullPath, nil
			}
		}
	}

	return "", ErrConfigFileNotFound
}

func formatOf(filename string) (ConfigFormat, error) {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unsupported config file format %q", ErrConfigParseError, ext)
	}
}

// decode parses data over config, so absent keys keep their values.
func decode(data []byte, format ConfigFormat, config *Config) error {
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("%w: %w", ErrConfigParseError, err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("%w: %w", ErrConfigParseError, err)
		}
	default:
		return fmt.Errorf("%w: unsupported config format %s", ErrConfigParseError, format)
	}
	return nil
}

func (l *Loader) loadEnvFiles() error {
	for _, file := range l.envFiles {
		if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		// Variables already set in the environment win
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrEnvironmentVarError, file, err)
		}
	}
	return nil
}

// loadFromEnv loads configuration overrides from environment variables
func (l *Loader) loadFromEnv(config *Config) error {
	str := func(key string, dst *string) {
		if val, ok := os.LookupEnv(l.envPrefix + "_" + key); ok && val != "" {
			*dst = val
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		val, ok := os.LookupEnv(l.envPrefix + "_" + key)
		if !ok || val == "" {
			return
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s_%s=%q", ErrEnvironmentVarError, l.envPrefix, key, val))
			return
		}
		*dst = n
	}
	boolean := func(key string, dst *bool) {
		val, ok := os.LookupEnv(l.envPrefix + "_" + key)
		if !ok || val == "" {
			return
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s_%s=%q", ErrEnvironmentVarError, l.envPrefix, key, val))
			return
		}
		*dst = b
	}
	duration := func(key string, dst *time.Duration) {
		val, ok := os.LookupEnv(l.envPrefix + "_" + key)
		if !ok || val == "" {
			return
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s_%s=%q", ErrEnvironmentVarError, l.envPrefix, key, val))
			return
		}
		*dst = d
	}

	// App configuration
	str("APP_NAME", &config.App.Name)
	str("APP_VERSION", &config.App.Version)
	str("APP_ENVIRONMENT", (*string)(&config.App.Environment))
	boolean("APP_DEBUG", &config.App.Debug)

	// Log configuration
	str("LOG_LEVEL", (*string)(&config.Log.Level))
	str("LOG_FORMAT", &config.Log.Format)
	str("LOG_OUTPUT", &config.Log.Output)

	// Runtime configuration
	integer("RUNTIME_MAX_PHYSICAL_WORKERS", &config.Runtime.MaxPhysicalWorkers)
	integer("RUNTIME_MAX_EFFECTIVE_WORKERS", &config.Runtime.MaxEffectiveWorkers)
	integer("RUNTIME_IO_WEIGHT", &config.Runtime.IOWeight)
	integer("RUNTIME_EXTERNAL_WEIGHT", &config.Runtime.ExternalWeight)
	integer("RUNTIME_BATCH_SIZE", &config.Runtime.BatchSize)
	boolean("RUNTIME_LOG_ACTIONS", &config.Runtime.LogActions)
	boolean("RUNTIME_MULTI_THREADED_DEFAULT", &config.Runtime.MultiThreadedDefault)
	duration("RUNTIME_SHUTDOWN_TIMEOUT", &config.Runtime.ShutdownTimeout)

	// Monitor configuration
	boolean("MONITOR_ENABLED", &config.Monitor.Enabled)
	str("MONITOR_ADDRESS", &config.Monitor.HTTP.Address)
	integer("MONITOR_PORT", &config.Monitor.HTTP.Port)

	return errors.Join(errs...)
}
