package pathsync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-sync/pkg/plog"
	"github.com/paulschiretz/pgl-sync/pkg/sharded"
	"github.com/paulschiretz/pgl-sync/pkg/synclog"
	"github.com/paulschiretz/pgl-sync/pkg/util"
)

// Reset empties the target root, keeping only the engine state directory,
// and copies the non-ignored source tree into it. The action log history is
// preserved across the wipe; individual copies are not logged.
func (s *Syncer) Reset(ctx context.Context) error {
	oldLog, err := s.log.ReadExisting()
	if err != nil {
		s.log.Log(synclog.CodeWarning, fmt.Sprintf("Cannot read old action log: %v", err))
	}
	s.log.Log(synclog.CodeReset, s.session.Target)

	if s.session.DryRun {
		plog.Notice("[DRY RUN] RESET", "target", s.session.Target)
		return nil
	}

	if err := s.wipeTarget(); err != nil {
		s.log.Log(synclog.CodeError, fmt.Sprintf("Reset failed: %v", err))
		return fmt.Errorf("reset failed: %w", err)
	}

	tasks, dirs, err := s.collectSyncTasks(ctx)
	if err != nil {
		s.log.Log(synclog.CodeError, fmt.Sprintf("Reset failed: %v", err))
		return fmt.Errorf("reset failed: %w", err)
	}
	// The whole non-ignored structure is recreated, empty directories included.
	for _, rel := range dirs {
		if err := s.ensureParentDir(rel); err != nil {
			s.fail("Failed to create directory", rel, err)
		}
	}
	plog.Info("Copying source tree", "files", len(tasks), "workers", s.session.Workers)
	runPool(ctx, s.session.Workers, tasks, "Reset progress", copyProgressEvery, s.resetCopy)

	if oldLog != "" {
		if err := s.log.Restore(oldLog); err != nil {
			s.log.Log(synclog.CodeWarning, fmt.Sprintf("Cannot restore old action log: %v", err))
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if failed := s.counters.Snapshot().Failed; failed > 0 {
		return fmt.Errorf("reset failed: %d entries could not be copied", failed)
	}
	return nil
}

func (s *Syncer) resetCopy(_ context.Context, task fileTask) {
	absSrcPath := util.DenormalizedAbsPath(s.session.Source, task.RelPathKey)
	absTrgPath := util.DenormalizedAbsPath(s.session.Target, task.RelPathKey)
	if err := s.ensureParentDir(util.ParentKey(task.RelPathKey)); err != nil {
		s.fail("Failed to create parent directory", task.RelPathKey, err)
		return
	}
	if err := s.copyEntry(absSrcPath, absTrgPath, task.Info); err != nil {
		s.fail("Failed to copy file", task.RelPathKey, err)
	}
}

// wipeTarget removes every child of the target root except the state dir.
func (s *Syncer) wipeTarget() error {
	trg := s.session.Target
	if err := os.MkdirAll(trg, util.UserWritableDirPerms); err != nil {
		return err
	}
	entries, err := os.ReadDir(trg)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == StateDirName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(trg, e.Name())); err != nil {
			return err
		}
	}
	s.createdDirs = sharded.NewSet(sharded.DefaultShards)
	return nil
}
