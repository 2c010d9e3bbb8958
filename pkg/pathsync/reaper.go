package pathsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/paulschiretz/pgl-sync/pkg/plog"
	"github.com/paulschiretz/pgl-sync/pkg/synclog"
	"github.com/paulschiretz/pgl-sync/pkg/util"
)

// deleteTask is a redundant target entry.
type deleteTask struct {
	RelPathKey string
	AbsPath    string
	IsFile     bool
}

// Reap removes target entries that are redundant with respect to the source
// and the ignore rules. Files go first, concurrently; directories follow
// serially, deepest first, and are only removed when already empty.
func (s *Syncer) Reap(ctx context.Context) error {
	tasks, err := s.collectDeleteTasks(ctx)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		plog.Info("No redundant entries to delete")
		return nil
	}

	var files, dirs []deleteTask
	for _, t := range tasks {
		if t.IsFile {
			files = append(files, t)
		} else {
			dirs = append(dirs, t)
		}
	}

	if len(files) > 0 {
		plog.Info("Deleting redundant files", "files", len(files), "workers", s.session.Workers)
		runPool(ctx, s.session.Workers, files, "Delete progress", deleteProgressEvery, s.deleteFile)
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if len(dirs) > 0 {
		plog.Info("Deleting redundant directories", "dirs", len(dirs))
		sort.SliceStable(dirs, func(i, j int) bool {
			return util.Depth(dirs[i].RelPathKey) > util.Depth(dirs[j].RelPathKey)
		})
		for _, t := range dirs {
			if err := ctx.Err(); err != nil {
				return err
			}
			s.deleteDir(t)
		}
	}
	return nil
}

// collectDeleteTasks walks the target and returns every redundant entry.
// The engine's own files at the target root are never considered.
func (s *Syncer) collectDeleteTasks(ctx context.Context) ([]deleteTask, error) {
	trg := s.session.Target
	var tasks []deleteTask
	err := filepath.WalkDir(trg, func(absTrgPath string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if absTrgPath == trg {
				return err
			}
			rel, _ := util.NormalizedRelPath(trg, absTrgPath)
			s.fail("Failed to read target entry", rel, err)
			return nil
		}
		rel, err := util.NormalizedRelPath(trg, absTrgPath)
		if err != nil {
			return fmt.Errorf("failed to relativize %s: %w", absTrgPath, err)
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
		if s.isRedundant(rel, d.IsDir()) {
			tasks = append(tasks, deleteTask{RelPathKey: rel, AbsPath: absTrgPath, IsFile: !d.IsDir()})
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) && s.session.DryRun {
		// The target root is only created by a real pass.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to walk target %s: %w", trg, err)
	}
	return tasks, nil
}

// isRedundantBase reports whether a target entry should go on its own merit:
// it is absent from the source and not ignored, or it is ignored and ignored
// entries are deleted.
func (s *Syncer) isRedundantBase(relPathKey string, isDir bool) bool {
	ignored := s.matcher.Match(relPathKey, isDir)
	if ignored {
		return s.session.DeleteIgnored
	}
	_, err := os.Lstat(util.DenormalizedAbsPath(s.session.Source, relPathKey))
	return isNotExist(err)
}

// isRedundant reports whether the target entry at relPathKey should be
// deleted. An ignored entry that is kept on its own merit is still redundant
// when one of its ancestors below the root is.
func (s *Syncer) isRedundant(relPathKey string, isDir bool) bool {
	if _, err := os.Lstat(util.DenormalizedAbsPath(s.session.Target, relPathKey)); err != nil {
		return false
	}
	ignore := s.matcher.Match(relPathKey, isDir)
	redundant := s.isRedundantBase(relPathKey, isDir)
	for !s.session.DeleteIgnored && ignore && !redundant {
		relPathKey = util.ParentKey(relPathKey)
		if relPathKey == "." {
			break
		}
		redundant = s.isRedundantBase(relPathKey, true)
	}
	return redundant
}

func (s *Syncer) deleteFile(_ context.Context, t deleteTask) {
	if s.session.DryRun {
		plog.Notice("[DRY RUN] DELETE", "path", t.RelPathKey)
		s.counters.AddDeletedFiles(1)
		return
	}
	if s.guard.InStore(t.AbsPath) {
		if !s.guard.SafeDelete(t.AbsPath) {
			s.fail("Failed to delete", t.RelPathKey, errors.New("guarded removal refused"))
			return
		}
	} else if err := os.Remove(t.AbsPath); err != nil {
		s.fail("Failed to delete", t.RelPathKey, err)
		return
	}
	s.forgetDigest(t.AbsPath)
	s.log.Log(synclog.CodeDeleted, t.RelPathKey)
	s.counters.AddDeletedFiles(1)
}

func (s *Syncer) deleteDir(t deleteTask) {
	if s.session.DryRun {
		plog.Notice("[DRY RUN] DELETE", "path", t.RelPathKey+"/")
		s.counters.AddDeletedDirs(1)
		return
	}
	entries, err := os.ReadDir(t.AbsPath)
	if err != nil {
		s.fail("Failed to delete directory", t.RelPathKey+"/", err)
		return
	}
	if len(entries) > 0 {
		s.fail("Failed to delete directory", t.RelPathKey+"/", errors.New("directory not empty"))
		return
	}
	if err := os.Remove(t.AbsPath); err != nil {
		s.fail("Failed to delete directory", t.RelPathKey+"/", err)
		return
	}
	s.log.Log(synclog.CodeDeleted, t.RelPathKey+"/")
	s.counters.AddDeletedDirs(1)
}
