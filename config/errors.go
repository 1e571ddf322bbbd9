// Package config provides error definitions for configuration management
package config

import "errors"

// Configuration validation errors
var (
	ErrInvalidAppName         = errors.New("invalid application name")
	ErrInvalidEnvironment     = errors.New("invalid environment")
	ErrInvalidLogLevel        = errors.New("invalid log level")
	ErrInvalidPort            = errors.New("invalid port number")
	ErrInvalidWorkerLimits    = errors.New("invalid worker limits")
	ErrInvalidWeight          = errors.New("invalid worker state weight")
	ErrInvalidBatchSize       = errors.New("invalid batch size")
	ErrInvalidShutdownTimeout = errors.New("invalid shutdown timeout")
)

// Configuration loading errors
var (
	ErrConfigFileNotFound  = errors.New("configuration file not found")
	ErrConfigParseError    = errors.New("configuration parse error")
	ErrConfigValidateError = errors.New("configuration validation error")
	ErrEnvironmentVarError = errors.New("environment variable error")
	ErrConfigWatchError    = errors.New("configuration watch error")
)
