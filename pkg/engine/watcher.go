package engine

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/paulschiretz/pgl-sync/pkg/pathsync"
	"github.com/paulschiretz/pgl-sync/pkg/plog"
	"github.com/paulschiretz/pgl-sync/pkg/syncignore"
	"github.com/paulschiretz/pgl-sync/pkg/util"
)

const defaultWatchDebounce = 2 * time.Second

// sourceWatcher reports settled changes below the source root. Ignored
// directories are not watched and the mirrored action log is not reported.
type sourceWatcher struct {
	root     string
	matcher  *syncignore.Matcher
	logName  string
	debounce time.Duration

	watcher *fsnotify.Watcher
	changes chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

func newSourceWatcher(root string, matcher *syncignore.Matcher, logName string, debounce time.Duration) (*sourceWatcher, error) {
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	sw := &sourceWatcher{
		root:     root,
		matcher:  matcher,
		logName:  logName,
		debounce: debounce,
		watcher:  w,
		changes:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	if err := sw.addTree(root); err != nil {
		w.Close()
		return nil, err
	}
	sw.wg.Add(1)
	go sw.processEvents()
	return sw, nil
}

// Changes delivers at most one pending notification.
func (sw *sourceWatcher) Changes() <-chan struct{} {
	return sw.changes
}

// Close stops the watcher and waits for its goroutine.
func (sw *sourceWatcher) Close() error {
	var err error
	sw.once.Do(func() {
		close(sw.done)
		err = sw.watcher.Close()
		sw.wg.Wait()
	})
	return err
}

// addTree watches dir and every non-ignored directory below it.
func (sw *sourceWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != sw.root && sw.matcher.IsIgnored(path, sw.root) {
			return filepath.SkipDir
		}
		if err := sw.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// relevant reports whether an event should trigger a pass.
func (sw *sourceWatcher) relevant(event fsnotify.Event) bool {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return false
	}
	rel, err := util.NormalizedRelPath(sw.root, event.Name)
	if err != nil || rel == "." {
		return false
	}
	if rel == sw.logName || rel == pathsync.StateDirName {
		return false
	}
	return !sw.matcher.IsIgnored(event.Name, sw.root)
}

func (sw *sourceWatcher) processEvents() {
	defer sw.wg.Done()

	timer := time.NewTimer(sw.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-sw.done:
			return

		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
					if err := sw.addTree(event.Name); err != nil {
						plog.Debug("Cannot watch new directory", "path", event.Name, "error", err)
					}
				}
			}
			if sw.relevant(event) {
				timer.Reset(sw.debounce)
			}

		case <-timer.C:
			select {
			case sw.changes <- struct{}{}:
			default:
			}

		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			plog.Warn("Source watcher error", "error", err)
		}
	}
}
