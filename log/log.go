// Package log provides the structured logger used across the runtime.
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging interface.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
	Named(name string) Logger
	Sync() error
}

// Field is a logging field.
type Field = zap.Field

// Common field constructors (re-exported from zap)
var (
	String   = zap.String
	Int      = zap.Int
	Int64    = zap.Int64
	Uint32   = zap.Uint32
	Uint64   = zap.Uint64
	Bool     = zap.Bool
	Err      = zap.Error
	Any      = zap.Any
	Duration = zap.Duration
	Stringer = zap.Stringer
)

// Config configures the logger.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console/text
	Output     string // file path or "stdout"/"stderr"
	AddCaller  bool
	MaxSize    int // MB, default 100
	MaxBackups int // default 3
	MaxAge     int // days, default 30
	Compress   bool
}

// ZapLogger wraps zap.Logger.
type ZapLogger struct {
	logger *zap.Logger
}

// New creates a new logger.
func New(config Config) (*ZapLogger, error) {
	level := zapcore.InfoLevel
	switch config.Level {
	case "trace", "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error", "fatal":
		level = zapcore.ErrorLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	switch config.Format {
	case "console", "text":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	var output zapcore.WriteSyncer
	switch config.Output {
	case "", "stdout":
		output = zapcore.AddSync(os.Stdout)
	case "stderr":
		output = zapcore.AddSync(os.Stderr)
	default:
		writer := &lumberjack.Logger{
			Filename:   config.Output,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}
		if config.MaxSize == 0 {
			writer.MaxSize = 100
		}
		if config.MaxBackups == 0 {
			writer.MaxBackups = 3
		}
		if config.MaxAge == 0 {
			writer.MaxAge = 30
		}
		output = zapcore.AddSync(writer)
	}

	var opts []zap.Option
	if config.AddCaller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}

	return &ZapLogger{logger: zap.New(zapcore.NewCore(encoder, output, level), opts...)}, nil
}

// Wrap adapts an existing zap logger.
func Wrap(l *zap.Logger) *ZapLogger {
	return &ZapLogger{logger: l}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return &ZapLogger{logger: zap.NewNop()}
}

// Debug logs a debug message.
func (l *ZapLogger) Debug(msg string, fields ...Field) {
	l.logger.Debug(msg, fields...)
}

// Info logs an info message.
func (l *ZapLogger) Info(msg string, fields ...Field) {
	l.logger.Info(msg, fields...)
}

// Warn logs a warning message.
func (l *ZapLogger) Warn(msg string, fields ...Field) {
	l.logger.Warn(msg, fields...)
}

// Error logs an error message.
func (l *ZapLogger) Error(msg string, fields ...Field) {
	l.logger.Error(msg, fields...)
}

// With returns a logger with the given fields.
func (l *ZapLogger) With(fields ...Field) Logger {
	return &ZapLogger{logger: l.logger.With(fields...)}
}

// Named returns a child logger with the given name segment.
func (l *ZapLogger) Named(name string) Logger {
	return &ZapLogger{logger: l.logger.Named(name)}
}

// Sync flushes any buffered log entries.
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

var globalLogger Logger = Nop()

// Init initializes the global logger.
func Init(config Config) error {
	logger, err := New(config)
	if err != nil {
		return err
	}
	globalLogger = logger
	return nil
}

// Default returns the global logger.
func Default() Logger {
	return globalLogger
}

// SetDefault sets the global logger.
func SetDefault(logger Logger) {
	if logger == nil {
		logger = Nop()
	}
	globalLogger = logger
}
