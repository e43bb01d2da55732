// Package logging provides centralized slog configuration for decoynet
// processes. Logs go to stderr and optionally to a rotated file.
package logging

import (
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig holds configuration for file-based logging with rotation.
type FileConfig struct {
	// Path is the log file path. Empty disables file logging.
	Path string
	// MaxSizeMB is the rotation threshold in megabytes. Default 10.
	MaxSizeMB int
	// MaxBackups is how many rotated files to retain. Default 3.
	MaxBackups int
	// Compress gzips rotated files.
	Compress bool
}

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// JSON switches output to JSON records.
	JSON bool
	// File enables file output with rotation alongside stderr.
	File FileConfig
}

var (
	globalMu     sync.RWMutex
	globalLogger *slog.Logger
	fileWriter   io.WriteCloser
)

// Initialize sets up the global logger. Safe to call once at startup.
func Initialize(cfg Config) {
	level := parseLevel(cfg.Level)

	var w io.Writer = os.Stderr
	globalMu.Lock()
	defer globalMu.Unlock()

	if cfg.File.Path != "" {
		maxSize := cfg.File.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		maxBackups := cfg.File.MaxBackups
		if maxBackups < 0 {
			maxBackups = 3
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			Compress:   cfg.File.Compress,
		}
		fileWriter = lj
		w = io.MultiWriter(os.Stderr, lj)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)
}

// Get returns the global logger, or slog.Default before Initialize.
func Get() *slog.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

// WithComponent returns a logger tagged with a component attribute.
func WithComponent(component string) *slog.Logger {
	return Get().With("component", component)
}

// Close flushes and closes the log file writer, if any.
func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()
	if fileWriter != nil {
		err := fileWriter.Close()
		fileWriter = nil
		return err
	}
	return nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
