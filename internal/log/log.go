// Package log provides structured logging for the gimbal commands.
// It wraps slog and can tee output into a rotating file.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *slog.Logger
	closer io.Closer
	once   sync.Once
)

// Options configure the global logger.
type Options struct {
	Level string

	// File, when set, receives a copy of every record and is rotated by size.
	File       string
	MaxSizeMB  int
	MaxBackups int

	// JSON forces the JSON handler. It is also selected by GO_ENV=production.
	JSON bool

	// Output defaults to os.Stdout.
	Output io.Writer
}

// ParseLevel maps a level name to a slog level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// New builds a logger from opts without touching the global one. The
// returned closer releases the log file and is nil when no file is used.
func New(opts Options) (*slog.Logger, io.Closer) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	var file io.Closer
	if opts.File != "" {
		rot := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
		out = io.MultiWriter(out, rot)
		file = rot
	}

	hopts := &slog.HandlerOptions{
		Level: ParseLevel(opts.Level),
	}

	// Use JSON in production, text in development
	if opts.JSON || os.Getenv("GO_ENV") == "production" {
		return slog.New(slog.NewJSONHandler(out, hopts)), file
	}
	return slog.New(slog.NewTextHandler(out, hopts)), file
}

// Init initializes the global logger with the specified level.
// Valid levels: "debug", "info", "warn", "error"
func Init(level string) {
	InitWithOptions(Options{Level: level})
}

// InitWithOptions initializes the global logger once and makes it the slog
// default. Later calls are ignored.
func InitWithOptions(opts Options) {
	once.Do(func() {
		logger, closer = New(opts)
		slog.SetDefault(logger)
	})
}

// Close flushes and releases the log file, if any.
func Close() error {
	if closer == nil {
		return nil
	}
	return closer.Close()
}

// L returns the global logger instance.
func L() *slog.Logger {
	if logger == nil {
		Init("info")
	}
	return logger
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	L().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	L().Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	L().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	L().Error(msg, args...)
}

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return L().With(args...)
}
