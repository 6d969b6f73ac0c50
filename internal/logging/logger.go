package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// LogFileName is the file written inside the configured log directory.
const LogFileName = "council.log"

var levels = []struct {
	name  string
	level slog.Level
}{
	{LevelDebug, slog.LevelDebug},
	{LevelInfo, slog.LevelInfo},
	{LevelWarn, slog.LevelWarn},
	{LevelError, slog.LevelError},
}

// Logger writes JSON lines through log/slog. Children made with With and
// the With* helpers share their root's level and file, so SetLevel on any
// of them affects the whole family.
type Logger struct {
	slog  *slog.Logger
	level *slog.LevelVar
	sink  *sink
}

// sink owns the log file, if any.
type sink struct {
	mu   sync.Mutex
	file *os.File
}

// NewLogger writes to {dir}/council.log, or to stderr when dir is empty.
// Unknown levels mean INFO.
func NewLogger(dir string, level string) (*Logger, error) {
	if dir == "" {
		return newLogger(os.Stderr, level, &sink{}), nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(dir, LogFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return newLogger(file, level, &sink{file: file}), nil
}

// NewWriterLogger writes JSON lines to w. Close does not close w.
func NewWriterLogger(w io.Writer, level string) *Logger {
	return newLogger(w, level, &sink{})
}

// NopLogger discards everything.
func NopLogger() *Logger {
	return newLogger(io.Discard, LevelError, &sink{})
}

func newLogger(w io.Writer, level string, s *sink) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(toSlog(level))
	return &Logger{
		slog:  slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lv})),
		level: lv,
		sink:  s,
	}
}

func toSlog(level string) slog.Level {
	for _, l := range levels {
		if strings.EqualFold(l.name, level) {
			return l.level
		}
	}
	return slog.LevelInfo
}

// SetLevel changes the minimum level of the whole logger family.
func (l *Logger) SetLevel(level string) {
	l.level.Set(toSlog(level))
}

// Level returns the current minimum level as one of the Level constants.
func (l *Logger) Level() string {
	for _, lv := range levels {
		if lv.level == l.level.Level() {
			return lv.name
		}
	}
	return LevelInfo
}

func (l *Logger) WithSession(sessionID string) *Logger {
	return l.With("session_id", sessionID)
}

func (l *Logger) WithPersona(personaID string) *Logger {
	return l.With("persona", personaID)
}

// WithPhase tags lines with fanout, debate, alliance, private or http.
func (l *Logger) WithPhase(phase string) *Logger {
	return l.With("phase", phase)
}

// With returns a child logger carrying the given key-value pairs.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}
	return &Logger{slog: l.slog.With(args...), level: l.level, sink: l.sink}
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// Close syncs and closes the log file. It is safe to call more than once
// and a no-op for stderr and writer loggers.
func (l *Logger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file == nil {
		return nil
	}
	f := l.sink.file
	l.sink.file = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}

// ParseLevel normalises level to one of the Level constants, defaulting
// to LevelInfo.
func ParseLevel(level string) string {
	for _, l := range levels {
		if strings.EqualFold(l.name, level) {
			return l.name
		}
	}
	return LevelInfo
}

func IsValidLevel(level string) bool {
	for _, l := range levels {
		if strings.EqualFold(l.name, level) {
			return true
		}
	}
	return false
}

func ValidLevels() []string {
	names := make([]string, len(levels))
	for i, l := range levels {
		names[i] = l.name
	}
	return names
}
