// Package objstore protects content-addressed object stores (git's
// .git/objects) in the target tree. Object files are immutable and named by
// their hash, so they are only ever removed as a whole and never rewritten in
// place.
package objstore

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/paulschiretz/pgl-sync/pkg/plog"
	"github.com/paulschiretz/pgl-sync/pkg/util"
)

// DefaultSegment marks a path as lying inside a git object store.
const DefaultSegment = ".git/objects/"

// Action log codes written by the guard.
const (
	CodeError   = "ERROR"
	CodeWarning = "WARNING"
)

// looseNameLen is the length of a loose object file name; the first two hex
// digits of the object id form the fan-out directory.
const looseNameLen = 38

var packExtensions = map[string]struct{}{
	".pack": {}, ".idx": {}, ".rev": {}, ".bitmap": {},
	".keep": {}, ".promisor": {}, ".mtimes": {},
}

// Logger receives the guard's action log entries.
type Logger interface {
	Log(code, text string)
}

// Guard deletes object files without leaving half-removed fan-out directories.
type Guard struct {
	segments []string
	log      Logger
	// root, when set, shortens logged paths to root-relative keys.
	root string
}

// NewGuard creates a guard for the given store segments. With no segments,
// DefaultSegment is used.
func NewGuard(log Logger, segments ...string) *Guard {
	if len(segments) == 0 {
		segments = []string{DefaultSegment}
	}
	normalized := make([]string, 0, len(segments))
	for _, s := range segments {
		s = filepath.ToSlash(s)
		if !strings.HasSuffix(s, "/") {
			s += "/"
		}
		normalized = append(normalized, s)
	}
	return &Guard{segments: normalized, log: log}
}

// WithRoot returns a copy of g that logs paths relative to root.
func (g *Guard) WithRoot(root string) *Guard {
	c := *g
	c.root = root
	return &c
}

func (g *Guard) display(absPath string) string {
	if g.root == "" || !util.IsWithin(g.root, absPath) {
		return absPath
	}
	if rel, err := util.NormalizedRelPath(g.root, absPath); err == nil {
		return rel
	}
	return absPath
}

// InStore reports whether p lies under one of the guard's store segments.
func (g *Guard) InStore(p string) bool {
	p = filepath.ToSlash(p)
	for _, s := range g.segments {
		if strings.Contains(p, s) {
			return true
		}
	}
	return false
}

// IsObjectFile reports whether p is in a store and has a content-address name:
// a loose object (2 hex fan-out dir + 38 hex file) or a pack artifact
// ("pack-<40 hex>.<ext>").
func (g *Guard) IsObjectFile(p string) bool {
	if !g.InStore(p) {
		return false
	}
	return hasObjectName(filepath.ToSlash(p))
}

func hasObjectName(slashPath string) bool {
	name := path.Base(slashPath)
	if len(name) == looseNameLen {
		fanout := path.Base(path.Dir(slashPath))
		return isLowerHexID(fanout + name)
	}
	if id, ok := strings.CutPrefix(name, "pack-"); ok {
		ext := path.Ext(id)
		if _, known := packExtensions[ext]; known {
			return isLowerHexID(strings.TrimSuffix(id, ext))
		}
	}
	return false
}

func isLowerHexID(s string) bool {
	return plumbing.IsHash(s) && strings.ToLower(s) == s
}

// SafeDelete removes the object file at absPath. It clears read-only
// attributes and removes the file; if that fails and the file is the only
// entry of its fan-out directory, the directory is removed and recreated
// empty. It returns false, after writing an ERROR entry, when the path is not
// a well-formed object file or cannot be removed. Callers must not proceed
// with a dependent copy or delete on false.
func (g *Guard) SafeDelete(absPath string) bool {
	info, err := os.Lstat(absPath)
	if err != nil || !info.Mode().IsRegular() {
		g.log.Log(CodeError, fmt.Sprintf("%s is not a single regular file", g.display(absPath)))
		return false
	}
	if !g.InStore(absPath) {
		g.log.Log(CodeError, fmt.Sprintf("illegal path: %s must reside under %s", g.display(absPath), strings.Join(g.segments, " or ")))
		return false
	}
	if !hasObjectName(filepath.ToSlash(absPath)) {
		g.log.Log(CodeError, fmt.Sprintf("illegal object name: %s is not content-addressed", g.display(absPath)))
		return false
	}

	removeErr := clearReadOnly(absPath, info.Mode())
	if removeErr == nil {
		removeErr = os.Remove(absPath)
	}
	if removeErr == nil || errors.Is(removeErr, os.ErrNotExist) {
		return true
	}
	g.log.Log(CodeWarning, fmt.Sprintf("removing %s failed: %v, trying directory-level removal", g.display(absPath), removeErr))

	if err := removeSoleEntryDir(absPath); err != nil {
		g.log.Log(CodeError, fmt.Sprintf("cannot remove %s: %v", g.display(absPath), err))
		return false
	}
	plog.Debug("Removed object fan-out directory", "path", filepath.Dir(absPath))
	return true
}

// removeSoleEntryDir removes the parent of absPath if absPath is its only
// entry, then recreates it empty with its original permissions.
func removeSoleEntryDir(absPath string) error {
	dir := filepath.Dir(absPath)
	dirInfo, err := os.Stat(dir)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if len(entries) != 1 || entries[0].Name() != filepath.Base(absPath) {
		return fmt.Errorf("containing directory holds %d entries, expected exactly 1", len(entries))
	}

	if err := clearReadOnly(dir, dirInfo.Mode()); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	if err := os.Mkdir(dir, dirInfo.Mode().Perm()); err != nil {
		return fmt.Errorf("removed %s but could not recreate it: %w", dir, err)
	}
	// Mkdir is subject to the umask.
	return os.Chmod(dir, dirInfo.Mode().Perm())
}
