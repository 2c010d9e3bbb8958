// Package pathsync brings a target tree in line with a source tree.
//
// A pass has two phases. Sync walks the source once, single-threaded, and
// builds a static list of file tasks; the list is then processed by a bounded
// worker pool that copies new and changed files. Reap walks the target and
// removes entries that no longer have a counterpart in the source, honoring
// the ignore rules: files are removed concurrently, directories afterwards,
// one at a time and deepest first, and only when empty.
//
// Every directory created in the target gets the owner-write bit so later
// passes can always update its content, even when the source is read-only.
package pathsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/paulschiretz/pgl-sync/pkg/compare"
	"github.com/paulschiretz/pgl-sync/pkg/digestcache"
	"github.com/paulschiretz/pgl-sync/pkg/objstore"
	"github.com/paulschiretz/pgl-sync/pkg/plog"
	"github.com/paulschiretz/pgl-sync/pkg/pool"
	"github.com/paulschiretz/pgl-sync/pkg/sharded"
	"github.com/paulschiretz/pgl-sync/pkg/synclog"
	"github.com/paulschiretz/pgl-sync/pkg/syncignore"
	"github.com/paulschiretz/pgl-sync/pkg/util"
)

const (
	copyProgressEvery   = 100
	deleteProgressEvery = 50
)

// fileTask is a unit of work for a sync worker.
type fileTask struct {
	// RelPathKey is the forward-slash path relative to both roots.
	RelPathKey string
	Info       os.FileInfo
}

// Deps are the collaborators of a Syncer.
type Deps struct {
	Matcher  *syncignore.Matcher
	Comparer *compare.Comparer
	Guard    *objstore.Guard
	Log      *synclog.Log
	// Cache is the digest cache behind Comparer, if any. Entries of
	// rewritten or deleted target files are dropped from it.
	Cache *digestcache.Cache
	// BufferSize is the copy buffer size; compare.DefaultBufferSize when zero.
	BufferSize int
}

// Syncer runs the phases of a pass for one session.
type Syncer struct {
	session  Session
	matcher  *syncignore.Matcher
	comparer *compare.Comparer
	guard    *objstore.Guard
	log      *synclog.Log
	cache    *digestcache.Cache
	buffers  *pool.BufferPool

	counters *Counters

	// createdDirs holds target directories known to exist in this pass.
	createdDirs *sharded.Set
	dirGroup    singleflight.Group
}

// New creates a Syncer.
func New(session Session, deps Deps) *Syncer {
	size := deps.BufferSize
	if size <= 0 {
		size = compare.DefaultBufferSize
	}
	if session.Workers <= 0 {
		session.Workers = DefaultWorkers()
	}
	if session.LogFileName == "" {
		session.LogFileName = synclog.DefaultFileName
	}
	guard := deps.Guard
	if guard != nil {
		guard = guard.WithRoot(session.Target)
	}
	s := &Syncer{
		session:  session,
		matcher:  deps.Matcher,
		comparer: deps.Comparer,
		guard:    guard,
		log:      deps.Log,
		cache:    deps.Cache,
		buffers:  pool.NewBufferPool(size),
	}
	s.StartPass()
	return s
}

// Session returns the session the Syncer was built for.
func (s *Syncer) Session() Session {
	return s.session
}

// StartPass resets the per-pass state. It must not be called while a phase
// is running.
func (s *Syncer) StartPass() {
	s.counters = &Counters{}
	s.createdDirs = sharded.NewSet(sharded.DefaultShards)
}

// Counts returns the counters of the current pass.
func (s *Syncer) Counts() Counts {
	return s.counters.Snapshot()
}

// fail records a per-entry failure.
func (s *Syncer) fail(msg, relPathKey string, err error) {
	s.log.Log(synclog.CodeError, fmt.Sprintf("%s: %s - %v", msg, relPathKey, err))
	s.counters.AddFailed(1)
}

// Sync copies new and changed source files to the target.
func (s *Syncer) Sync(ctx context.Context) (Counts, error) {
	if err := ctx.Err(); err != nil {
		return s.Counts(), err
	}
	if !s.session.DryRun {
		if err := os.MkdirAll(s.session.Target, util.UserWritableDirPerms); err != nil {
			return s.Counts(), fmt.Errorf("failed to create target root %s: %w", s.session.Target, err)
		}
	}

	tasks, _, err := s.collectSyncTasks(ctx)
	if err != nil {
		return s.Counts(), err
	}
	if len(tasks) == 0 {
		plog.Info("No files to sync")
		return s.Counts(), nil
	}
	plog.Info("Syncing files", "files", len(tasks), "workers", s.session.Workers)

	runPool(ctx, s.session.Workers, tasks, "Sync progress", copyProgressEvery, s.syncFile)
	return s.Counts(), ctx.Err()
}

// runPool processes tasks on a pool of at most workers goroutines and logs
// progress every `every` completed tasks. Workers never fail the pool; they
// record their own failures. Cancellation stops dispatching new tasks.
func runPool[T any](ctx context.Context, workers int, tasks []T, label string, every int, work func(context.Context, T)) {
	progress := newProgress(label, len(tasks), every)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, task := range tasks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() == nil {
				work(gctx, task)
			}
			progress.step()
			return nil
		})
	}
	_ = g.Wait()
}

// collectSyncTasks walks the source tree and returns every non-ignored
// regular file and symlink, plus the keys of the non-ignored directories in
// walk order (parents before children). Ignored directories are not
// descended into.
func (s *Syncer) collectSyncTasks(ctx context.Context) ([]fileTask, []string, error) {
	src := s.session.Source
	var (
		tasks []fileTask
		dirs  []string
	)
	err := filepath.WalkDir(src, func(absSrcPath string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if absSrcPath == src {
				return err
			}
			rel, _ := util.NormalizedRelPath(src, absSrcPath)
			s.fail("Failed to read source entry", rel, err)
			return nil
		}

		rel, err := util.NormalizedRelPath(src, absSrcPath)
		if err != nil {
			return fmt.Errorf("failed to relativize %s: %w", absSrcPath, err)
		}
		if rel == "." {
			return nil
		}
		if s.session.isEngineFile(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if s.matcher.Match(rel, true) {
				plog.Debug("Ignoring directory", "path", rel)
				return filepath.SkipDir
			}
			dirs = append(dirs, rel)
			return nil
		}
		if s.matcher.Match(rel, false) {
			plog.Debug("Ignoring file", "path", rel)
			return nil
		}

		info, err := d.Info()
		if err != nil {
			s.fail("Failed to read source entry", rel, err)
			return nil
		}
		if !info.Mode().IsRegular() && info.Mode()&os.ModeSymlink == 0 {
			plog.Debug("Skipping special file", "path", rel, "type", info.Mode().Type().String())
			return nil
		}
		tasks = append(tasks, fileTask{RelPathKey: rel, Info: info})
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to walk source %s: %w", src, err)
	}
	return tasks, dirs, nil
}

// syncFile brings one target file in line with its source.
func (s *Syncer) syncFile(ctx context.Context, task fileTask) {
	rel := task.RelPathKey
	absSrcPath := util.DenormalizedAbsPath(s.session.Source, rel)
	absTrgPath := util.DenormalizedAbsPath(s.session.Target, rel)

	trgInfo, err := os.Lstat(absTrgPath)
	if isNotExist(err) {
		if s.session.DryRun {
			plog.Notice("[DRY RUN] ADD", "path", rel)
			s.counters.AddAdded(1)
			return
		}
		if err := s.ensureParentDir(util.ParentKey(rel)); err != nil {
			s.fail("Failed to create parent directory", rel, err)
			return
		}
		if err := s.copyEntry(absSrcPath, absTrgPath, task.Info); err != nil {
			s.fail("Failed to sync file", rel, err)
			return
		}
		s.log.Log(synclog.CodeAdded, rel)
		s.counters.AddAdded(1)
		return
	}
	if err != nil {
		s.fail("Failed to sync file", rel, err)
		return
	}

	if !trgInfo.IsDir() && s.isSame(ctx, absSrcPath, absTrgPath, task.Info, trgInfo) {
		return
	}
	if s.session.DryRun {
		plog.Notice("[DRY RUN] MODIFY", "path", rel)
		s.counters.AddModified(1)
		return
	}

	switch {
	case trgInfo.IsDir():
		plog.Warn("Target path is a directory but source is a file, replacing", "path", rel)
		if err := os.RemoveAll(absTrgPath); err != nil {
			s.fail("Failed to remove conflicting directory", rel, err)
			return
		}
	case trgInfo.Mode().IsRegular() && s.guard.IsObjectFile(absTrgPath):
		// Object files are never rewritten in place. Other store files
		// (commit-graph, multi-pack-index) are mutable and take the normal copy.
		if !s.guard.SafeDelete(absTrgPath) {
			s.counters.AddFailed(1)
			return
		}
	}

	if err := s.copyEntry(absSrcPath, absTrgPath, task.Info); err != nil {
		s.fail("Failed to sync file", rel, err)
		return
	}
	s.log.Log(synclog.CodeModified, rel)
	s.counters.AddModified(1)
}

// isSame compares a source entry with an existing non-directory target
// entry. Comparison errors count as "different".
func (s *Syncer) isSame(ctx context.Context, absSrcPath, absTrgPath string, srcInfo, trgInfo os.FileInfo) bool {
	srcIsLink := srcInfo.Mode()&os.ModeSymlink != 0
	trgIsLink := trgInfo.Mode()&os.ModeSymlink != 0
	if srcIsLink || trgIsLink {
		if srcIsLink != trgIsLink {
			return false
		}
		srcLink, err1 := os.Readlink(absSrcPath)
		trgLink, err2 := os.Readlink(absTrgPath)
		return err1 == nil && err2 == nil && srcLink == trgLink
	}
	same, err := s.comparer.Same(ctx, absSrcPath, absTrgPath, srcInfo, trgInfo)
	if err != nil {
		plog.Warn("Failed to compare files, treating them as different", "source", absSrcPath, "target", absTrgPath, "error", err)
		return false
	}
	return same
}

// ensureParentDir guarantees that the target directory for relPathKey exists.
// Concurrent calls for the same directory are collapsed into one.
func (s *Syncer) ensureParentDir(relPathKey string) error {
	if relPathKey == "." || s.createdDirs.Has(relPathKey) {
		return nil
	}
	_, err, _ := s.dirGroup.Do(relPathKey, func() (any, error) {
		if s.createdDirs.Has(relPathKey) {
			return nil, nil
		}
		// Parents first, so each level gets its own source permissions.
		if err := s.ensureParentDir(util.ParentKey(relPathKey)); err != nil {
			return nil, err
		}

		absTrgPath := util.DenormalizedAbsPath(s.session.Target, relPathKey)
		perms := util.UserWritableDirPerms
		if srcInfo, err := os.Stat(util.DenormalizedAbsPath(s.session.Source, relPathKey)); err == nil {
			perms = util.WithUserWritePermission(srcInfo.Mode().Perm())
		}

		info, err := os.Lstat(absTrgPath)
		switch {
		case err == nil && info.IsDir():
		case err == nil:
			// A file or symlink occupies the directory's place.
			if !s.removeBlockingFile(relPathKey, absTrgPath, info) {
				return nil, fmt.Errorf("cannot replace %s with a directory", relPathKey)
			}
			if err := os.Mkdir(absTrgPath, perms); err != nil {
				return nil, err
			}
		case errors.Is(err, fs.ErrNotExist):
			if err := os.Mkdir(absTrgPath, perms); err != nil && !errors.Is(err, fs.ErrExist) {
				return nil, err
			}
		default:
			return nil, err
		}
		s.createdDirs.Store(relPathKey)
		return nil, nil
	})
	return err
}

// removeBlockingFile deletes a target file that stands where a directory
// must be created and records the deletion.
func (s *Syncer) removeBlockingFile(relPathKey, absTrgPath string, info os.FileInfo) bool {
	if info.Mode().IsRegular() && s.guard.IsObjectFile(absTrgPath) {
		if !s.guard.SafeDelete(absTrgPath) {
			return false
		}
	} else if err := os.Remove(absTrgPath); err != nil {
		s.log.Log(synclog.CodeError, fmt.Sprintf("Failed to delete: %s - %v", relPathKey, err))
		return false
	}
	s.forgetDigest(absTrgPath)
	s.log.Log(synclog.CodeDeleted, relPathKey)
	s.counters.AddDeletedFiles(1)
	return true
}

// isNotExist also reports paths whose parent is not a directory.
func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

func (s *Syncer) forgetDigest(absPath string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Forget(absPath); err != nil {
		plog.Debug("Failed to drop cached digest", "path", absPath, "error", err)
	}
}
