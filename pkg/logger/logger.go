// Package logger wires the process-wide slog loggers used by AgentHub.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config describes the application logger.
type Config struct {
	Level       string      `json:"level" yaml:"level"`
	Format      string      `json:"format" yaml:"format"`
	OutputPaths []string    `json:"output_paths" yaml:"output_paths"`
	Audit       AuditConfig `json:"audit" yaml:"audit"`
}

// AuditConfig controls the rotated audit log.
type AuditConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
	auditLogger   *slog.Logger
	once          sync.Once
	closers       []io.Closer
	initErr       error
)

// Init configures the global loggers. Only the first call has effect.
func Init(cfg Config) error {
	once.Do(func() {
		handler, err := buildHandler(cfg.Format, cfg.OutputPaths, &slog.HandlerOptions{
			Level:     ParseLevel(cfg.Level),
			AddSource: true,
		})
		if err != nil {
			initErr = err
			return
		}
		base := slog.New(handler)

		audit := slog.New(slog.NewJSONHandler(io.Discard, nil))
		if cfg.Audit.Enabled {
			writer, err := newRotatingWriter(cfg.Audit)
			if err != nil {
				initErr = err
				return
			}
			closers = append(closers, writer)
			audit = slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo}))
		}

		mu.Lock()
		defaultLogger, auditLogger = base, audit
		mu.Unlock()
	})
	return initErr
}

func buildHandler(format string, outputs []string, opts *slog.HandlerOptions) (slog.Handler, error) {
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	writers := make([]io.Writer, 0, len(outputs))
	for _, out := range outputs {
		writer, closer, err := openWriter(out)
		if err != nil {
			return nil, err
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		writers = append(writers, writer)
	}

	writer := writers[0]
	if len(writers) > 1 {
		writer = io.MultiWriter(writers...)
	}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(writer, opts), nil
	}
	return slog.NewJSONHandler(writer, opts), nil
}

func openWriter(path string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(path) {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("打开日志文件 %s 失败: %w", path, err)
	}
	return file, file, nil
}

// ParseLevel maps a textual level onto slog levels, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L returns the application logger, initialising defaults on first use.
func L() *slog.Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l != nil {
		return l
	}
	_ = Init(Config{})
	mu.RLock()
	defer mu.RUnlock()
	if defaultLogger == nil {
		return slog.Default()
	}
	return defaultLogger
}

// Audit returns the audit logger. It discards records unless auditing is enabled.
func Audit() *slog.Logger {
	L()
	mu.RLock()
	defer mu.RUnlock()
	if auditLogger == nil {
		return slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return auditLogger
}

// Named returns a child logger tagged with a component attribute.
func Named(component string) *slog.Logger {
	return L().With(slog.String("component", component))
}

// Sync closes file backed outputs.
func Sync() error {
	var err error
	for _, closer := range closers {
		err = errors.Join(err, closer.Close())
	}
	closers = nil
	return err
}
