package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/halvard/transbridge/internal/config"
)

// Component represents different parts of the application for contextualized logging
type Component string

const (
	ComponentRPC         Component = "rpc"
	ComponentQBittorrent Component = "qbittorrent"
	ComponentSync        Component = "sync"
	ComponentCache       Component = "cache"
	ComponentConfig      Component = "config"
	ComponentMain        Component = "main"
)

// Logger wraps logrus.Logger with component context
type Logger struct {
	*logrus.Logger
	config    *config.LoggingConfig
	component Component
}

// loggerInstance holds the global logger instance
var loggerInstance *Logger

// Initialize sets up the global logger with the provided configuration
func Initialize(cfg *config.LoggingConfig) (*Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level '%s': %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	var writers []io.Writer

	if cfg.ToStdout {
		writers = append(writers, os.Stdout)
	}

	// Add file writer with rotation
	if cfg.File != "" {
		logDir := filepath.Dir(cfg.File)
		if logDir != "." {
			if err := os.MkdirAll(logDir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory '%s': %w", logDir, err)
			}
		}

		fileWriter := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,    // megabytes
			MaxBackups: cfg.MaxBackups, // number of backup files
			MaxAge:     cfg.MaxAge,     // days
			Compress:   cfg.Compress,   // compress rotated files
		}
		writers = append(writers, fileWriter)
	}

	if len(writers) == 0 {
		// Fallback to stdout if no writers configured
		writers = append(writers, os.Stdout)
	}

	logger.SetOutput(io.MultiWriter(writers...))

	if cfg.ToStdout && len(writers) == 1 {
		// Human-readable format for stdout-only
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		// JSON format for file logging or mixed outputs
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}

	appLogger := &Logger{
		Logger:    logger,
		config:    cfg,
		component: ComponentMain,
	}

	loggerInstance = appLogger

	return appLogger, nil
}

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	if loggerInstance == nil {
		// Fallback logger for code paths hit before Initialize (tests, mostly)
		fallbackLogger := logrus.New()
		fallbackLogger.SetLevel(logrus.WarnLevel)
		fallbackLogger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})

		return &Logger{
			Logger:    fallbackLogger,
			component: ComponentMain,
		}
	}
	return loggerInstance
}

// WithComponent creates a new logger instance with a specific component context
func (l *Logger) WithComponent(component Component) *Logger {
	return &Logger{
		Logger:    l.Logger,
		config:    l.config,
		component: component,
	}
}

// WithField adds a field to the logger entry and ensures component is included
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"component": l.component,
		key:         value,
	})
}

// WithFields adds multiple fields to the logger entry and ensures component is included
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	if fields == nil {
		fields = make(logrus.Fields)
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// WithError adds an error field to the logger entry and ensures component is included
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"component": l.component,
		"error":     err,
	})
}

// Debug logs a debug message with component context
func (l *Logger) Debug(args ...interface{}) {
	l.WithField("component", l.component).Debug(args...)
}

// Debugf logs a formatted debug message with component context
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.WithField("component", l.component).Debugf(format, args...)
}

// Info logs an info message with component context
func (l *Logger) Info(args ...interface{}) {
	l.WithField("component", l.component).Info(args...)
}

// Infof logs a formatted info message with component context
func (l *Logger) Infof(format string, args ...interface{}) {
	l.WithField("component", l.component).Infof(format, args...)
}

// Warn logs a warning message with component context
func (l *Logger) Warn(args ...interface{}) {
	l.WithField("component", l.component).Warn(args...)
}

// Warnf logs a formatted warning message with component context
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.WithField("component", l.component).Warnf(format, args...)
}

// Error logs an error message with component context
func (l *Logger) Error(args ...interface{}) {
	l.WithField("component", l.component).Error(args...)
}

// Errorf logs a formatted error message with component context
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.WithField("component", l.component).Errorf(format, args...)
}

// Trace logs a trace message with component context
func (l *Logger) Trace(args ...interface{}) {
	l.WithField("component", l.component).Trace(args...)
}

// Tracef logs a formatted trace message with component context
func (l *Logger) Tracef(format string, args ...interface{}) {
	l.WithField("component", l.component).Tracef(format, args...)
}

// Convenience functions for getting component-specific loggers

// GetRPCLogger returns a logger instance configured for RPC handler operations
func GetRPCLogger() *Logger {
	return GetLogger().WithComponent(ComponentRPC)
}

// GetQBittorrentLogger returns a logger instance configured for upstream client operations
func GetQBittorrentLogger() *Logger {
	return GetLogger().WithComponent(ComponentQBittorrent)
}

// GetSyncLogger returns a logger instance configured for the sync engine
func GetSyncLogger() *Logger {
	return GetLogger().WithComponent(ComponentSync)
}

// GetCacheLogger returns a logger instance configured for cache operations
func GetCacheLogger() *Logger {
	return GetLogger().WithComponent(ComponentCache)
}

// GetConfigLogger returns a logger instance configured for configuration operations
func GetConfigLogger() *Logger {
	return GetLogger().WithComponent(ComponentConfig)
}

// SetLogLevel changes the log level at runtime
func SetLogLevel(levelStr string) error {
	logger := GetLogger()
	level, err := logrus.ParseLevel(strings.ToLower(levelStr))
	if err != nil {
		return fmt.Errorf("invalid log level '%s': %w", levelStr, err)
	}

	logger.Logger.SetLevel(level)
	return nil
}

// LevelForVerbosity maps -v counts to log levels: 0 warn, 1 info, 2 debug, 3+ trace
func LevelForVerbosity(verbosity int) string {
	switch {
	case verbosity <= 0:
		return "warn"
	case verbosity == 1:
		return "info"
	case verbosity == 2:
		return "debug"
	default:
		return "trace"
	}
}

// Shutdown gracefully shuts down the logging system
func Shutdown() {
	logger := GetLogger()
	if logger.config != nil && logger.config.File != "" {
		if writer, ok := logger.Logger.Out.(io.Closer); ok {
			writer.Close()
		}
	}
}
