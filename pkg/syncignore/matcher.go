package syncignore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/paulschiretz/pgl-sync/pkg/sharded"
	"github.com/paulschiretz/pgl-sync/pkg/util"
)

// ReloadResult describes what ReloadIfChanged did.
type ReloadResult int

const (
	// Unchanged means the ignore file did not change since the last load.
	Unchanged ReloadResult = iota
	// Loaded means rules were (re)read from the ignore file.
	Loaded
	// Cleared means the ignore file disappeared and the rules were dropped.
	Cleared
)

func (r ReloadResult) String() string {
	switch r {
	case Unchanged:
		return "unchanged"
	case Loaded:
		return "loaded"
	case Cleared:
		return "cleared"
	default:
		return fmt.Sprintf("unknown_reload_result(%d)", int(r))
	}
}

// Matcher evaluates one ignore file against paths of the source and target
// trees. It is safe for concurrent use by sync workers.
type Matcher struct {
	path string

	// mu serializes reloads against readers picking up rules and memo.
	mu      sync.RWMutex
	rules   *RuleSet
	memo    *sharded.Map[bool]
	modTime time.Time
	exists  bool
}

// NewMatcher creates a matcher for the ignore file at path. No rules are
// active until the first reload.
func NewMatcher(path string) *Matcher {
	return &Matcher{
		path:  path,
		rules: &RuleSet{},
		memo:  sharded.NewMap[bool](sharded.DefaultShards),
	}
}

// NewMatcherFromRules builds a matcher with a fixed rule set.
func NewMatcherFromRules(rs *RuleSet) *Matcher {
	m := NewMatcher("")
	m.rules = rs
	return m
}

// Path returns the ignore file path.
func (m *Matcher) Path() string {
	return m.path
}

// ReloadIfChanged re-reads the ignore file only if its mtime increased since
// the last load, or if it appeared or disappeared. On a read error the
// matcher is left with no rules and the error is returned.
func (m *Matcher) ReloadIfChanged() (ReloadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := os.Stat(m.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if !m.exists {
			return Unchanged, nil
		}
		m.install(&RuleSet{})
		return Cleared, nil
	case err != nil:
		m.install(&RuleSet{ModTime: m.modTime, Exists: m.exists})
		return Loaded, fmt.Errorf("cannot stat ignore file %s: %w", m.path, err)
	case m.exists && !info.ModTime().After(m.modTime):
		return Unchanged, nil
	}

	rs, err := Load(m.path)
	m.install(rs)
	return Loaded, err
}

// Reload unconditionally re-reads the ignore file.
func (m *Matcher) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, err := Load(m.path)
	m.install(rs)
	return err
}

// install must be called with mu held.
func (m *Matcher) install(rs *RuleSet) {
	m.rules = rs
	m.modTime = rs.ModTime
	m.exists = rs.Exists
	m.memo = sharded.NewMap[bool](sharded.DefaultShards)
}

// Patterns returns the active expanded patterns.
func (m *Matcher) Patterns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rules.Patterns()
}

func (m *Matcher) snapshot() (*RuleSet, *sharded.Map[bool]) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rules, m.memo
}

func subjectFor(relPathKey string, isDir bool) string {
	if isDir {
		return relPathKey + "/"
	}
	return relPathKey
}

// Match reports whether the forward-slash relative path is ignored. isDir
// selects the directory form of the path. The root (".") is never ignored.
func (m *Matcher) Match(relPathKey string, isDir bool) bool {
	if relPathKey == "." || relPathKey == "" {
		return false
	}
	rules, memo := m.snapshot()
	if len(rules.Rules) == 0 {
		return false
	}
	subject := subjectFor(relPathKey, isDir)
	ignored, _ := memo.LoadOrCompute(subject, func() bool {
		_, ok := rules.Match(subject)
		return ok
	})
	return ignored
}

// MatchingRule returns the first rule that ignores the path, bypassing the memo.
func (m *Matcher) MatchingRule(relPathKey string, isDir bool) (string, bool) {
	if relPathKey == "." || relPathKey == "" {
		return "", false
	}
	rules, _ := m.snapshot()
	r, ok := rules.Match(subjectFor(relPathKey, isDir))
	return r.Pattern, ok
}

// IsIgnored reports whether absPath, taken relative to root, is ignored.
// Directory status is read from the filesystem. Paths outside root and the
// root itself are never ignored.
func (m *Matcher) IsIgnored(absPath, root string) bool {
	if !util.IsWithin(root, absPath) {
		return false
	}
	rel, err := util.NormalizedRelPath(root, absPath)
	if err != nil || rel == "." {
		return false
	}
	info, err := os.Stat(absPath)
	isDir := err == nil && info.IsDir()
	return m.Match(rel, isDir)
}

// IsIgnoredRel is IsIgnored for a relative key resolved against root.
func (m *Matcher) IsIgnoredRel(root, relPathKey string) bool {
	if relPathKey == "." || relPathKey == "" {
		return false
	}
	return m.IsIgnored(filepath.Join(root, filepath.FromSlash(relPathKey)), root)
}
