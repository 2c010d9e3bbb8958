// Package lockfile guarantees that at most one sync session works on a
// target at a time.
//
// The lock is an OS-level advisory lock (flock on Unix, LockFileEx on
// Windows) on a file in the target's state directory, so it disappears with
// the process that held it and never goes stale. Owner details are written
// to a sidecar file for diagnostics only.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/paulschiretz/pgl-sync/pkg/plog"
)

const (
	// LockFileName is the file holding the OS lock.
	LockFileName = "sync.lock"
	// InfoFileName holds the JSON LockContent of the current owner.
	InfoFileName = "sync.lock.json"
)

// LockContent describes the lock owner.
type LockContent struct {
	PID      int64     `json:"pid"`
	Hostname string    `json:"hostname"`
	Acquired time.Time `json:"acquired"`
	AppID    string    `json:"appID"`
}

// ErrLockActive is returned when another process holds the lock.
type ErrLockActive struct {
	PID       int64
	Hostname  string
	AppID     string
	TimeSince time.Duration
}

func (e *ErrLockActive) Error() string {
	if e.PID == 0 {
		return "lock is active, held by an unknown process"
	}
	return fmt.Sprintf("lock is active, held by PID %d on host '%s' (App: %s) since %s", e.PID, e.Hostname, e.AppID, e.TimeSince.Truncate(time.Second))
}

// Lock is a held target lock.
type Lock struct {
	fl       *flock.Flock
	infoPath string
	content  LockContent

	mu   sync.Mutex
	held bool
}

// Acquire takes the lock in dirPath, creating the directory if needed. It
// does not wait: a held lock yields *ErrLockActive.
func Acquire(ctx context.Context, dirPath string, appID string) (*Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock dir %s: %w", dirPath, err)
	}

	infoPath := filepath.Join(dirPath, InfoFileName)
	fl := flock.New(filepath.Join(dirPath, LockFileName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to access lock file: %w", err)
	}
	if !locked {
		return nil, activeLockError(infoPath)
	}

	hostname, _ := os.Hostname()
	content := LockContent{
		PID:      int64(os.Getpid()),
		Hostname: hostname,
		Acquired: time.Now(),
		AppID:    appID,
	}
	if err := writeInfo(infoPath, content); err != nil {
		// The OS lock is what counts; owner details are best effort.
		plog.Warn("Failed to write lock owner info", "path", infoPath, "error", err)
	}
	return &Lock{fl: fl, infoPath: infoPath, content: content, held: true}, nil
}

// Content returns the owner details written at acquisition.
func (l *Lock) Content() LockContent {
	return l.content
}

// Release drops the lock. It is safe to call more than once.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return
	}
	if err := os.Remove(l.infoPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		plog.Warn("Failed to remove lock owner info", "path", l.infoPath, "error", err)
	}
	if err := l.fl.Unlock(); err != nil {
		plog.Warn("Failed to release lock", "path", l.fl.Path(), "error", err)
	}
	l.held = false
}

func writeInfo(path string, content LockContent) error {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ReadContent returns the owner details of the lock in dirPath.
func ReadContent(dirPath string) (LockContent, error) {
	var content LockContent
	data, err := os.ReadFile(filepath.Join(dirPath, InfoFileName))
	if err != nil {
		return content, err
	}
	if err := json.Unmarshal(data, &content); err != nil {
		return content, fmt.Errorf("lock owner info is corrupt: %w", err)
	}
	return content, nil
}

func activeLockError(infoPath string) error {
	content, err := ReadContent(filepath.Dir(infoPath))
	if err != nil {
		plog.Debug("Could not read lock owner info", "path", infoPath, "error", err)
		return &ErrLockActive{}
	}
	return &ErrLockActive{
		PID:       content.PID,
		Hostname:  content.Hostname,
		AppID:     content.AppID,
		TimeSince: time.Since(content.Acquired),
	}
}
