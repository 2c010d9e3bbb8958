package pathsync

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/paulschiretz/pgl-sync/pkg/util"
)

// copyEntry copies a regular file or recreates a symlink at absTrgPath.
func (s *Syncer) copyEntry(absSrcPath, absTrgPath string, info os.FileInfo) error {
	var err error
	if info.Mode()&os.ModeSymlink != 0 {
		var target string
		target, err = os.Readlink(absSrcPath)
		if err != nil {
			return fmt.Errorf("failed to read link target of %s: %w", absSrcPath, err)
		}
		err = copySymlink(target, absTrgPath)
	} else {
		err = s.copyFile(absSrcPath, absTrgPath, info)
	}
	if err == nil {
		s.forgetDigest(absTrgPath)
	}
	return err
}

// copyFile writes the content of absSrcPath to a temporary file next to
// absTrgPath and renames it into place, so an existing target is replaced
// atomically. Permissions (plus owner write) and the modification time of
// the source are preserved.
func (s *Syncer) copyFile(absSrcPath, absTrgPath string, info os.FileInfo) error {
	in, err := os.Open(absSrcPath)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", absSrcPath, err)
	}
	defer in.Close()

	absTrgDir := filepath.Dir(absTrgPath)
	out, err := os.CreateTemp(absTrgDir, "pgl-sync-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", absTrgDir, err)
	}
	defer out.Close()

	absTempPath := out.Name()
	// Cleared after the rename.
	defer func() {
		if absTempPath != "" {
			os.Remove(absTempPath)
		}
	}()

	bufPtr := s.buffers.Get()
	defer s.buffers.Put(bufPtr)

	written, err := io.CopyBuffer(out, in, *bufPtr)
	if err != nil {
		return fmt.Errorf("failed to copy content from %s to %s: %w", absSrcPath, absTempPath, err)
	}
	s.counters.AddBytesCopied(written)

	if err := out.Chmod(util.WithUserWritePermission(info.Mode().Perm())); err != nil {
		return fmt.Errorf("failed to set permissions on temporary file %s: %w", absTempPath, err)
	}
	// Close before Chtimes: flushing may touch the modification time.
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file %s: %w", absTempPath, err)
	}
	if err := os.Chtimes(absTempPath, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("failed to set timestamps on %s: %w", absTempPath, err)
	}
	if err := os.Rename(absTempPath, absTrgPath); err != nil {
		return err
	}
	absTempPath = ""
	return nil
}

// copySymlink creates a symlink to target at absTrgPath, replacing whatever
// non-directory entry is there.
func copySymlink(target, absTrgPath string) error {
	absTrgDir := filepath.Dir(absTrgPath)

	f, err := os.CreateTemp(absTrgDir, "pgl-sync-symlink-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to generate temp name for symlink: %w", err)
	}
	tempName := f.Name()
	f.Close()
	// Only the unique name is needed.
	os.Remove(tempName)
	defer func() {
		if tempName != "" {
			os.Remove(tempName)
		}
	}()

	if err := os.Symlink(target, tempName); err != nil {
		if runtime.GOOS == "windows" && strings.Contains(err.Error(), "privilege") {
			return fmt.Errorf("failed to create symlink (requires Admin or Developer Mode): %w", err)
		}
		return fmt.Errorf("failed to create symlink %s -> %s: %w", tempName, target, err)
	}
	if err := os.Rename(tempName, absTrgPath); err != nil {
		return fmt.Errorf("failed to rename temp symlink to %s: %w", absTrgPath, err)
	}
	tempName = ""
	return nil
}
