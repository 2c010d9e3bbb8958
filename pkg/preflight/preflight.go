// Package preflight provides checks that run before a sync session starts.
// Apart from creating the target root in CheckTargetWritable they do not
// change the filesystem.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-sync/pkg/util"
)

// CheckSourceAccessible validates that the source path exists and is a directory.
func CheckSourceAccessible(srcPath string) error {
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("source directory %s does not exist", srcPath)
		}
		return fmt.Errorf("cannot stat source directory %s: %w", srcPath, err)
	}
	if !srcInfo.IsDir() {
		return fmt.Errorf("source path %s is not a directory", srcPath)
	}
	return nil
}

// CheckTargetAccessible checks that the target is a directory or can be
// created as one: its volume exists (Windows) and, if the target does not
// exist yet, its parent is accessible.
func CheckTargetAccessible(targetPath string) error {
	if err := checkVolumeExists(targetPath); err != nil {
		return err
	}
	info, err := os.Stat(targetPath)
	if os.IsNotExist(err) {
		parentDir := filepath.Dir(targetPath)
		if _, err := os.Stat(parentDir); os.IsNotExist(err) {
			return fmt.Errorf("target path and its parent directory do not exist: %s", parentDir)
		} else if err != nil {
			return fmt.Errorf("cannot access parent directory %s: %w", parentDir, err)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("cannot access target path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("target path exists but is not a directory: %s", targetPath)
	}
	return nil
}

// CheckPathsDistinct fails when source and target name the same directory,
// either literally or through links.
func CheckPathsDistinct(srcPath, targetPath string) error {
	src := filepath.Clean(srcPath)
	trg := filepath.Clean(targetPath)
	if src == trg || (util.IsHostCaseInsensitiveFS() && strings.EqualFold(src, trg)) {
		return fmt.Errorf("source and target are the same directory: %s", src)
	}
	srcInfo, err := os.Stat(src)
	if err != nil {
		return nil
	}
	trgInfo, err := os.Stat(trg)
	if err != nil {
		return nil
	}
	if os.SameFile(srcInfo, trgInfo) {
		return fmt.Errorf("source %s and target %s are the same directory", src, trg)
	}
	return nil
}

// CheckPathNesting fails when the source lies inside the target: removing
// redundant target entries would then delete the source itself.
func CheckPathNesting(srcPath, targetPath string) error {
	if util.IsWithin(filepath.Clean(targetPath), filepath.Clean(srcPath)) {
		return fmt.Errorf("source %s must not be inside target %s", srcPath, targetPath)
	}
	return nil
}

// CheckTargetWritable creates the target directory if needed and verifies
// that a file can be written to it.
func CheckTargetWritable(targetPath string) error {
	if err := os.MkdirAll(targetPath, 0755); err != nil {
		return fmt.Errorf("failed to create target directory %s: %w", targetPath, err)
	}
	f, err := os.CreateTemp(targetPath, ".pgl-sync-writetest-*.tmp")
	if err != nil {
		return fmt.Errorf("target directory %s is not writable: %w", targetPath, err)
	}
	name := f.Name()
	f.Close()
	_ = os.Remove(name)
	return nil
}
