package plog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Log levels. Notice sits between Debug and Info and carries per-file actions.
const (
	LevelDebug  = slog.LevelDebug
	LevelNotice = slog.Level(-2)
	LevelInfo   = slog.LevelInfo
	LevelWarn   = slog.LevelWarn
	LevelError  = slog.LevelError
)

// LevelDispatchHandler is a slog.Handler that writes log records to different
// handlers based on the record's level. INFO and below go to one handler,
// while WARNING and above go to another.
type LevelDispatchHandler struct {
	stdoutHandler slog.Handler
	stderrHandler slog.Handler
}

// Enabled checks if the level is enabled for either of the underlying handlers.
func (h *LevelDispatchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.stdoutHandler.Enabled(ctx, level) || h.stderrHandler.Enabled(ctx, level)
}

// Handle dispatches the record to the appropriate handler.
func (h *LevelDispatchHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		return h.stderrHandler.Handle(ctx, r)
	}
	return h.stdoutHandler.Handle(ctx, r)
}

// WithAttrs returns a new LevelDispatchHandler with the given attributes added.
func (h *LevelDispatchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithAttrs(attrs),
		stderrHandler: h.stderrHandler.WithAttrs(attrs),
	}
}

// WithGroup returns a new LevelDispatchHandler with the given group.
func (h *LevelDispatchHandler) WithGroup(name string) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithGroup(name),
		stderrHandler: h.stderrHandler.WithGroup(name),
	}
}

// teeHandler fans a record out to every handler that accepts its level.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}

var (
	level     = new(slog.LevelVar)
	quietMode atomic.Bool // Use an atomic bool for safe concurrent reads.

	defaultLogger atomic.Pointer[slog.Logger]

	// mu guards the handler composition below.
	mu             sync.Mutex
	consoleHandler slog.Handler
	fileHandler    slog.Handler
	fileSink       io.Closer
)

// replaceLevel renders custom levels with a readable name.
func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelNotice {
			a.Value = slog.StringValue("NOTICE")
		}
	}
	return a
}

func handlerOptions(min slog.Leveler) *slog.HandlerOptions {
	return &slog.HandlerOptions{Level: min, ReplaceAttr: replaceLevel}
}

// rebuild must be called with mu held.
func rebuild() {
	var h slog.Handler = consoleHandler
	if fileHandler != nil {
		h = teeHandler{consoleHandler, fileHandler}
	}
	defaultLogger.Store(slog.New(h))
}

func init() {
	level.Set(LevelInfo)

	// Warnings and errors always reach stderr regardless of the configured level.
	warnLevel := new(slog.LevelVar)
	warnLevel.Set(LevelWarn)

	mu.Lock()
	defer mu.Unlock()
	consoleHandler = &LevelDispatchHandler{
		stdoutHandler: slog.NewTextHandler(os.Stdout, handlerOptions(level)),
		stderrHandler: slog.NewTextHandler(os.Stderr, handlerOptions(warnLevel)),
	}
	rebuild()
}

// SetOutput allows redirecting the logger's output, primarily for testing.
func SetOutput(w io.Writer) {
	// When redirecting output for tests, ensure quiet mode is off
	// so that all levels are written to the provided writer.
	quietMode.Store(false)
	mu.Lock()
	defer mu.Unlock()
	consoleHandler = slog.NewTextHandler(w, handlerOptions(level))
	rebuild()
}

// SetLogFile additionally writes every record to a size-rotated file.
// An empty path detaches a previously configured file.
func SetLogFile(path string, maxSizeMB, maxBackups int) {
	mu.Lock()
	defer mu.Unlock()
	if fileSink != nil {
		_ = fileSink.Close()
		fileSink, fileHandler = nil, nil
	}
	if path != "" {
		sink := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
		}
		fileSink = sink
		fileHandler = slog.NewTextHandler(sink, handlerOptions(level))
	}
	rebuild()
}

// CloseLogFile flushes and detaches the rotating log file, if any.
func CloseLogFile() {
	SetLogFile("", 0, 0)
}

// SetLevel sets the minimum level for all handlers.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// LevelFromString maps a config string to a level, defaulting to Info.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "notice":
		return LevelNotice
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetQuiet enables or disables quiet mode for the global logger.
// In quiet mode, everything below WARN is suppressed.
func SetQuiet(quiet bool) {
	quietMode.Store(quiet)
}

// IsQuiet returns true if the global logger is in quiet mode.
func IsQuiet() bool {
	return quietMode.Load()
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	if quietMode.Load() {
		return
	}
	defaultLogger.Load().Debug(msg, args...)
}

// Notice logs a per-item action.
func Notice(msg string, args ...any) {
	if quietMode.Load() {
		return
	}
	defaultLogger.Load().Log(context.Background(), LevelNotice, msg, args...)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	if quietMode.Load() {
		return
	}
	defaultLogger.Load().Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	defaultLogger.Load().Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	defaultLogger.Load().Error(msg, args...)
}
