// Package syncignore loads .syncignore files and decides which relative paths
// of a tree are excluded from synchronization.
package syncignore

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-sync/pkg/plog"
	"github.com/paulschiretz/pgl-sync/pkg/util"
)

// DefaultFileName is the ignore file looked up at the source root.
const DefaultFileName = ".syncignore"

// Rule is one expanded pattern.
type Rule struct {
	Pattern string
	re      *regexp.Regexp
}

// Matches reports whether the forward-slash subject equals the pattern or
// matches it as a full-path glob.
func (r Rule) Matches(subject string) bool {
	if subject == r.Pattern {
		return true
	}
	if r.re == nil {
		return false
	}
	return r.re.MatchString(subject)
}

// RuleSet is the parsed content of one ignore file.
type RuleSet struct {
	Rules []Rule
	// ModTime is the ignore file's mtime at load, zero if it did not exist.
	ModTime time.Time
	// Exists reports whether the ignore file was present at load.
	Exists bool
}

// Match returns the first rule matching subject.
func (rs *RuleSet) Match(subject string) (Rule, bool) {
	if rs == nil {
		return Rule{}, false
	}
	for _, r := range rs.Rules {
		if r.Matches(subject) {
			return r, true
		}
	}
	return Rule{}, false
}

// Patterns returns the expanded pattern strings in order.
func (rs *RuleSet) Patterns() []string {
	if rs == nil {
		return nil
	}
	out := make([]string, len(rs.Rules))
	for i, r := range rs.Rules {
		out[i] = r.Pattern
	}
	return out
}

// ExpandLine turns one ignore-file line into the patterns it stands for.
//
//	**/name/  ->  */name/  name/  */name/*  name/*
//	**/name   ->  */name   name
//	name/     ->  name/    name/*
//	name      ->  name
//
// Blank lines and comments expand to nothing.
func ExpandLine(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	line = strings.ReplaceAll(line, `\`, "/")

	if strings.HasPrefix(line, "**/") {
		anyDepth, rootOnly := line[1:], line[3:]
		out := []string{anyDepth, rootOnly}
		if strings.HasSuffix(line, "/") {
			out = append(out, anyDepth+"*", rootOnly+"*")
		}
		return out
	}
	if strings.HasSuffix(line, "/") {
		return []string{line, line + "*"}
	}
	return []string{line}
}

// Parse reads ignore rules from r.
func Parse(r io.Reader) (*RuleSet, error) {
	foldCase := util.IsHostCaseInsensitiveFS()
	rs := &RuleSet{}

	scanner := bufio.NewScanner(r)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		for _, pattern := range ExpandLine(line) {
			re, err := compileGlob(pattern, foldCase)
			if err != nil {
				// Still usable through exact equality.
				plog.Warn("Ignore pattern is not a valid glob, using literal match only", "pattern", pattern, "error", err)
				re = nil
			}
			rs.Rules = append(rs.Rules, Rule{Pattern: pattern, re: re})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ignore rules: %w", err)
	}
	return rs, nil
}

// Load reads the ignore file at path. A missing file yields an empty set.
func Load(path string) (*RuleSet, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return &RuleSet{}, nil
	}
	if err != nil {
		return &RuleSet{}, fmt.Errorf("cannot stat ignore file %s: %w", path, err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		// Keep the mtime so an unreadable file is not retried until it changes.
		return &RuleSet{ModTime: info.ModTime(), Exists: true}, fmt.Errorf("cannot read ignore file %s: %w", path, err)
	}

	rs, err := Parse(bytes.NewReader(content))
	if err != nil {
		return &RuleSet{ModTime: info.ModTime(), Exists: true}, err
	}
	rs.ModTime = info.ModTime()
	rs.Exists = true
	return rs, nil
}
