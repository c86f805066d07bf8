package logger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Logger is a thin prefixed facade over log/slog. Each runner and
// service logs through its own prefix so interleaved output from
// several threads stays attributable.
type Logger struct {
	sl *slog.Logger
}

func New(prefix string) *Logger {
	return &Logger{sl: slog.Default().With(slog.String("component", prefix))}
}

// With returns a child logger carrying an extra attribute.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{sl: l.sl.With(slog.Any(key, value))}
}

func (l *Logger) Debugf(format string, args ...any) {
	l.sl.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...any) {
	l.sl.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...any) {
	l.sl.Warn(fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.sl.Error(fmt.Sprintf(format, args...))
}

// Setup configures the process-wide slog default: JSON records at the
// given level, written to file when set and stderr otherwise. Returns
// the writer so callers can close it on shutdown.
func Setup(level string, file string) *os.File {
	writer := os.Stderr
	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create log directory for '%s': %v; falling back to stderr\n", file, err)
		} else if f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file '%s': %v; falling back to stderr\n", file, err)
		} else {
			writer = f
		}
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	slog.SetDefault(slog.New(slog.NewJSONHandler(writer, opts)))
	return writer
}

func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
