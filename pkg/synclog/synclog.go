// Package synclog implements the user-facing action log.
//
// Entries are buffered in memory and appended to the log file in the target
// root on Flush. After each flush the whole file is copied next to the source
// tree with its modification time preserved, so both sides carry the same
// history. Every entry is also echoed to the diagnostics log at Notice level.
package synclog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/paulschiretz/pgl-sync/pkg/plog"
)

// DefaultFileName is the action log name in both roots.
const DefaultFileName = "synclog.txt"

// TimeLayout renders entry timestamps.
const TimeLayout = "2006-01-02 15:04:05"

// Entry codes.
const (
	CodeAdded    = "A"
	CodeModified = "M"
	CodeDeleted  = "D"
	CodeError    = "ERROR"
	CodeWarning  = "WARNING"
	CodeReset    = "RESET"
)

// Entry is a single timestamped action.
type Entry struct {
	Time time.Time
	Code string
	Path string
}

// String renders "[YYYY-MM-DD HH:MM:SS] CODE path" with forward slashes.
func (e Entry) String() string {
	return fmt.Sprintf("[%s] %s %s", e.Time.Format(TimeLayout), e.Code, strings.ReplaceAll(e.Path, `\`, "/"))
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the time source used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// WithDryRun makes Flush discard buffered lines instead of writing them.
func WithDryRun(dryRun bool) Option {
	return func(l *Log) { l.dryRun = dryRun }
}

// Log buffers action entries and summary lines. It is safe for concurrent use.
type Log struct {
	mu         sync.Mutex
	targetPath string
	mirrorPath string
	pending    []string
	now        func() time.Time
	dryRun     bool
}

// New creates a log that flushes to targetPath and mirrors to mirrorPath.
// An empty mirrorPath disables mirroring.
func New(targetPath, mirrorPath string, opts ...Option) *Log {
	l := &Log{
		targetPath: targetPath,
		mirrorPath: mirrorPath,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the target log path.
func (l *Log) Path() string {
	return l.targetPath
}

// Log buffers an entry with the current time.
func (l *Log) Log(code, path string) {
	e := Entry{Time: l.now(), Code: code, Path: path}
	line := e.String()
	l.mu.Lock()
	l.pending = append(l.pending, line)
	l.mu.Unlock()
	plog.Notice(line)
}

// Summary buffers a verbatim line.
func (l *Log) Summary(line string) {
	l.mu.Lock()
	l.pending = append(l.pending, line)
	l.mu.Unlock()
	plog.Info(line)
}

// Pending returns a copy of the unflushed lines.
func (l *Log) Pending() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.pending))
	copy(out, l.pending)
	return out
}

// Flush appends the buffered lines to the target log and mirrors the file.
// The buffer is only cleared when the append succeeded.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.dryRun {
		l.pending = nil
		return nil
	}
	if len(l.pending) > 0 {
		if err := appendLines(l.targetPath, l.pending); err != nil {
			return fmt.Errorf("failed to write action log: %w", err)
		}
		l.pending = nil
	}
	if l.mirrorPath == "" {
		return nil
	}
	if err := mirrorFile(l.targetPath, l.mirrorPath); err != nil {
		return fmt.Errorf("failed to mirror action log: %w", err)
	}
	return nil
}

// ReadExisting returns the current content of the target log. A missing log
// yields an empty string.
func (l *Log) ReadExisting() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	data, err := os.ReadFile(l.targetPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Restore overwrites the target log with content. Pending lines are kept and
// land after content on the next Flush.
func (l *Log) Restore(content string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dryRun || content == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.targetPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(l.targetPath, []byte(content), 0644)
}

func appendLines(path string, lines []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	if _, err := f.WriteString(sb.String()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// mirrorFile copies src to dst and gives dst the modification time of src.
func mirrorFile(src, dst string) (retErr error) {
	in, err := os.Open(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil && retErr == nil {
			retErr = err
		}
		if retErr == nil {
			retErr = os.Chtimes(dst, info.ModTime(), info.ModTime())
		}
	}()
	_, err = io.Copy(out, in)
	return err
}
