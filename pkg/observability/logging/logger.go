// Package logging is a thin facade over zap so callers never carry a
// logger handle. The default logger is a no-op until InitLogger runs.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger = zap.NewNop().Sugar()
)

// Config controls the global logger.
type Config struct {
	// Level is one of debug, info, warn, error. Default: info.
	Level string
	// Format is "json" or "console". Default: json.
	Format string
}

// InitLogger replaces the global logger with a configured zap logger.
func InitLogger(cfg Config) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if strings.EqualFold(cfg.Format, "console") {
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	base, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	mu.Lock()
	logger = base.Sugar()
	mu.Unlock()

	return base, nil
}

// InitLoggerFromEnv initializes the global logger from LOG_LEVEL and
// LOG_FORMAT.
func InitLoggerFromEnv() (*zap.Logger, error) {
	return InitLogger(Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
	})
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level: %q", s)
	}
}

// Sync flushes buffered log entries.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return logger.Sync()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...interface{}) {
	current().Debugf(format, args...)
}

// Infof logs a formatted message at info level.
func Infof(format string, args ...interface{}) {
	current().Infof(format, args...)
}

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...interface{}) {
	current().Warnf(format, args...)
}

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...interface{}) {
	current().Errorf(format, args...)
}

// Fatalf logs a formatted message and exits.
func Fatalf(format string, args ...interface{}) {
	current().Fatalf(format, args...)
}

// Infow logs a message with structured key-value pairs.
func Infow(msg string, keysAndValues ...interface{}) {
	current().Infow(msg, keysAndValues...)
}

// Warnw logs a message with structured key-value pairs at warn level.
func Warnw(msg string, keysAndValues ...interface{}) {
	current().Warnw(msg, keysAndValues...)
}

// Errorw logs a message with structured key-value pairs at error level.
func Errorw(msg string, keysAndValues ...interface{}) {
	current().Errorw(msg, keysAndValues...)
}
