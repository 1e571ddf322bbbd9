package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pierstocazzo/atom-game-framework/core"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())

	assert.Equal(t, "atom-app", config.App.Name)
	assert.True(t, config.IsDevelopment())
	assert.False(t, config.IsProduction())
	assert.Equal(t, 8, config.Runtime.IOWeight)
	assert.Equal(t, 128, config.Runtime.ExternalWeight)
	assert.Equal(t, 64, config.Runtime.BatchSize)
	assert.Equal(t, "0.0.0.0:9090", config.Monitor.HTTP.Addr())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		err    error
	}{
		{"valid config", func(*Config) {}, nil},
		{"empty app name", func(c *Config) { c.App.Name = "" }, ErrInvalidAppName},
		{"bad environment", func(c *Config) { c.App.Environment = "moon" }, ErrInvalidEnvironment},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, ErrInvalidLogLevel},
		{"negative physical", func(c *Config) { c.Runtime.MaxPhysicalWorkers = -1 }, ErrInvalidWorkerLimits},
		{"negative effective", func(c *Config) { c.Runtime.MaxEffectiveWorkers = -1 }, ErrInvalidWorkerLimits},
		{"zero io weight", func(c *Config) { c.Runtime.IOWeight = 0 }, ErrInvalidWeight},
		{"zero external weight", func(c *Config) { c.Runtime.ExternalWeight = 0 }, ErrInvalidWeight},
		{"zero batch", func(c *Config) { c.Runtime.BatchSize = 0 }, ErrInvalidBatchSize},
		{"zero shutdown timeout", func(c *Config) { c.Runtime.ShutdownTimeout = 0 }, ErrInvalidShutdownTimeout},
		{"bad monitor port", func(c *Config) { c.Monitor.HTTP.Port = 70000 }, ErrInvalidPort},
		{"bad port ignored when disabled", func(c *Config) {
			c.Monitor.Enabled = false
			c.Monitor.HTTP.Port = 0
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			err := config.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestRuntimeLimits(t *testing.T) {
	r := RuntimeConfig{MaxPhysicalWorkers: 6, MaxEffectiveWorkers: 2}
	physical, effective := r.Limits()
	assert.Equal(t, 6, physical)
	assert.Equal(t, 2, effective)

	physical, effective = RuntimeConfig{}.Limits()
	assert.Positive(t, physical)
	assert.Positive(t, effective)
	assert.GreaterOrEqual(t, physical, effective)

	assert.Len(t, DefaultConfig().Runtime.ControllerOptions(), 4)
}

func TestLoggerConfig(t *testing.T) {
	config := DefaultConfig()
	config.Log.Output = "/var/log/atom.log"

	lc := config.LoggerConfig()
	assert.Equal(t, "info", lc.Level)
	assert.Equal(t, "/var/log/atom.log", lc.Output)
	assert.Equal(t, 100, lc.MaxSize)

	config.App.Debug = true
	assert.Equal(t, "debug", config.LoggerConfig().Level)
}

func newTestLoader() *Loader {
	return NewLoader().SetEnvPrefix("ATOMTEST").SetEnvFiles()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const testYAML = `
app:
  name: yaml-app
  environment: production
runtime:
  max_physical_workers: 16
  max_effective_workers: 4
  batch_size: 32
  shutdown_timeout: 3s
monitor:
  http:
    port: 9191
`

func TestLoaderYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "atom.yaml", testYAML)

	config, err := newTestLoader().Load(path)
	require.NoError(t, err)

	assert.Equal(t, "yaml-app", config.App.Name)
	assert.True(t, config.IsProduction())
	assert.Equal(t, 16, config.Runtime.MaxPhysicalWorkers)
	assert.Equal(t, 4, config.Runtime.MaxEffectiveWorkers)
	assert.Equal(t, 32, config.Runtime.BatchSize)
	assert.Equal(t, 3*time.Second, config.Runtime.ShutdownTimeout)
	assert.Equal(t, 9191, config.Monitor.HTTP.Port)

	// Absent keys keep their defaults
	assert.Equal(t, 8, config.Runtime.IOWeight)
	assert.Equal(t, "/metrics", config.Monitor.HTTP.MetricsPath)
}

func TestLoaderJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "atom.json", `{
		"app": {"name": "json-app"},
		"runtime": {"io_weight": 4, "external_weight": 64, "shutdown_timeout": "3s"}
	}`)

	config, err := newTestLoader().Load(path)
	require.NoError(t, err)

	assert.Equal(t, "json-app", config.App.Name)
	assert.Equal(t, 4, config.Runtime.IOWeight)
	assert.Equal(t, 64, config.Runtime.ExternalWeight)
	assert.Equal(t, 3*time.Second, config.Runtime.ShutdownTimeout)
	// Absent keys keep their defaults
	assert.Equal(t, core.DefaultBatchSize, config.Runtime.BatchSize)
}

func TestRuntimeJSONDurations(t *testing.T) {
	var r RuntimeConfig
	require.NoError(t, json.Unmarshal([]byte(`{"shutdown_timeout": 250000000, "batch_size": 8}`), &r))
	assert.Equal(t, 250*time.Millisecond, r.ShutdownTimeout)
	assert.Equal(t, 8, r.BatchSize)

	r = RuntimeConfig{ShutdownTimeout: time.Second}
	require.NoError(t, json.Unmarshal([]byte(`{"shutdown_timeout": null}`), &r))
	assert.Equal(t, time.Second, r.ShutdownTimeout)

	assert.Error(t, json.Unmarshal([]byte(`{"shutdown_timeout": "soon"}`), &r))
	assert.Error(t, json.Unmarshal([]byte(`{"shutdown_timeout": true}`), &r))

	data, err := json.Marshal(RuntimeConfig{IOWeight: 8, ShutdownTimeout: 10 * time.Second})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"shutdown_timeout":"10s"`)
	assert.Contains(t, string(data), `"io_weight":8`)

	var back RuntimeConfig
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 10*time.Second, back.ShutdownTimeout)
	assert.Equal(t, 8, back.IOWeight)
}

func TestLoaderErrors(t *testing.T) {
	dir := t.TempDir()
	loader := newTestLoader()

	_, err := loader.Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfigFileNotFound)

	_, err = loader.Load(writeFile(t, dir, "atom.toml", "x = 1"))
	assert.ErrorIs(t, err, ErrConfigParseError)

	_, err = loader.Load(writeFile(t, dir, "broken.yaml", "app: [unterminated"))
	assert.ErrorIs(t, err, ErrConfigParseError)

	_, err = loader.Load(writeFile(t, dir, "invalid.yaml", "runtime:\n  batch_size: -1\n"))
	assert.ErrorIs(t, err, ErrConfigValidateError)
	assert.ErrorIs(t, err, ErrInvalidBatchSize)
}

func TestLoadFromReader(t *testing.T) {
	config, err := newTestLoader().LoadFromReader(strings.NewReader("app:\n  name: reader-app\n"), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, "reader-app", config.App.Name)

	_, err = newTestLoader().LoadFromReader(strings.NewReader("{}"), "ini")
	assert.ErrorIs(t, err, ErrConfigParseError)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("ATOMTEST_APP_NAME", "env-app")
	t.Setenv("ATOMTEST_LOG_LEVEL", "debug")
	t.Setenv("ATOMTEST_RUNTIME_MAX_PHYSICAL_WORKERS", "12")
	t.Setenv("ATOMTEST_RUNTIME_LOG_ACTIONS", "true")
	t.Setenv("ATOMTEST_RUNTIME_SHUTDOWN_TIMEOUT", "250ms")
	t.Setenv("ATOMTEST_MONITOR_PORT", "9292")

	path := writeFile(t, t.TempDir(), "atom.yaml", testYAML)
	config, err := newTestLoader().Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-app", config.App.Name)
	assert.Equal(t, LogLevelDebug, config.Log.Level)
	assert.Equal(t, 12, config.Runtime.MaxPhysicalWorkers)
	assert.True(t, config.Runtime.LogActions)
	assert.Equal(t, 250*time.Millisecond, config.Runtime.ShutdownTimeout)
	assert.Equal(t, 9292, config.Monitor.HTTP.Port)
}

func TestEnvironmentParseErrors(t *testing.T) {
	t.Setenv("ATOMTEST_RUNTIME_BATCH_SIZE", "many")
	t.Setenv("ATOMTEST_MONITOR_ENABLED", "perhaps")

	_, err := newTestLoader().Load("")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEnvironmentVarError)
	assert.Contains(t, err.Error(), "ATOMTEST_RUNTIME_BATCH_SIZE")
	assert.Contains(t, err.Error(), "ATOMTEST_MONITOR_ENABLED")
}

func TestEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := writeFile(t, dir, ".env", "ATOMDOT_APP_NAME=dotenv-app\nATOMDOT_RUNTIME_BATCH_SIZE=8\n")
	t.Cleanup(func() {
		os.Unsetenv("ATOMDOT_APP_NAME")
		os.Unsetenv("ATOMDOT_RUNTIME_BATCH_SIZE")
	})
	// Set first so the process environment wins over the file
	t.Setenv("ATOMDOT_RUNTIME_BATCH_SIZE", "16")

	config, err := NewLoader().SetEnvPrefix("ATOMDOT").SetEnvFiles(envFile, filepath.Join(dir, "absent.env")).Load("")
	require.NoError(t, err)

	assert.Equal(t, "dotenv-app", config.App.Name)
	assert.Equal(t, 16, config.Runtime.BatchSize)
}

func TestAutoLoad(t *testing.T) {
	dir := t.TempDir()
	loader := newTestLoader().SetSearchPaths([]string{dir})

	config, err := loader.AutoLoad()
	require.NoError(t, err)
	assert.Equal(t, "atom-app", config.App.Name)

	writeFile(t, dir, "config.yml", "app:\n  name: auto-app\n")
	config, err = loader.AutoLoad()
	require.NoError(t, err)
	assert.Equal(t, "auto-app", config.App.Name)
}

func TestSetDefaultConfig(t *testing.T) {
	base := DefaultConfig()
	base.App.Name = "base-app"

	config, err := newTestLoader().SetDefaultConfig(base).Load("")
	require.NoError(t, err)
	assert.Equal(t, "base-app", config.App.Name)

	config.App.Name = "changed"
	assert.Equal(t, "base-app", base.App.Name)
}

func TestWatcher(t *testing.T) {
	path := writeFile(t, t.TempDir(), "atom.yaml", "runtime:\n  max_physical_workers: 4\n")

	watcher, err := NewWatcher(path, newTestLoader(), nil)
	require.NoError(t, err)
	watcher.SetDebounce(20 * time.Millisecond)
	assert.Equal(t, 4, watcher.GetConfig().Runtime.MaxPhysicalWorkers)

	var seen atomic.Int64
	watcher.OnConfigChange(func(_, newConfig *Config) {
		seen.Store(int64(newConfig.Runtime.MaxPhysicalWorkers))
	})
	watcher.OnConfigChange(func(*Config, *Config) {
		panic("callback failure")
	})

	require.NoError(t, watcher.Start())
	t.Cleanup(func() { watcher.Stop() })

	require.NoError(t, os.WriteFile(path, []byte("runtime:\n  max_physical_workers: 9\n"), 0o644))

	assert.Eventually(t, func() bool {
		return seen.Load() == 9
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 9, watcher.GetConfig().Runtime.MaxPhysicalWorkers)
}

func TestWatcherKeepsConfigOnBadReload(t *testing.T) {
	path := writeFile(t, t.TempDir(), "atom.yaml", "app:\n  name: stable\n")

	watcher, err := NewWatcher(path, newTestLoader(), nil)
	require.NoError(t, err)
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(path, []byte("runtime:\n  io_weight: 0\n"), 0o644))
	assert.ErrorIs(t, watcher.Reload(), ErrConfigValidateError)
	assert.Equal(t, "stable", watcher.GetConfig().App.Name)
}

func TestNewWatcherErrors(t *testing.T) {
	_, err := NewWatcher("atom.ini", newTestLoader(), nil)
	assert.ErrorIs(t, err, ErrConfigParseError)

	_, err = NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), newTestLoader(), nil)
	assert.ErrorIs(t, err, ErrConfigFileNotFound)
}
