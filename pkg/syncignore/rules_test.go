package syncignore

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestExpandLine(t *testing.T) {
	testCases := []struct {
		name     string
		line     string
		expected []string
	}{
		{"Blank", "   ", nil},
		{"Comment", "# build output", nil},
		{"Plain file", "notes.txt", []string{"notes.txt"}},
		{"Trimmed", "  *.log \r", []string{"*.log"}},
		{"Directory", "build/", []string{"build/", "build/*"}},
		{"Any depth file", "**/.DS_Store", []string{"*/.DS_Store", ".DS_Store"}},
		{"Any depth directory", "**/node_modules/", []string{"*/node_modules/", "node_modules/", "*/node_modules/*", "node_modules/*"}},
		{"Backslashes", `out\bin\`, []string{"out/bin/", "out/bin/*"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExpandLine(tc.line)
			if !slices.Equal(got, tc.expected) {
				t.Errorf("ExpandLine(%q) = %q, want %q", tc.line, got, tc.expected)
			}
		})
	}
}

func TestRuleMatches(t *testing.T) {
	testCases := []struct {
		pattern  string
		subject  string
		expected bool
	}{
		{"*.log", "app.log", true},
		{"*.log", "logs/2024/app.log", true}, // '*' crosses '/'
		{"notes.txt", "notes.txt", true},
		{"notes.txt", "docs/notes.txt", false}, // no basename fallback
		{"build/", "build/", true},
		{"build/*", "build/out/x.o", true},
		{"build/*", "build", false},
		{"data?.csv", "data1.csv", true},
		{"data?.csv", "data10.csv", false},
		{"[!a]bc", "xbc", true},
		{"[!a]bc", "abc", false},
		{"[a-c]x", "bx", true},
		{"[]]x", "]x", true},
		{"a[b", "a[b", true}, // unterminated class is literal
		{"a.b", "axb", false},
		{"(x)+", "(x)+", true},
	}

	for _, tc := range testCases {
		rs, err := Parse(strings.NewReader(tc.pattern))
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", tc.pattern, err)
		}
		if len(rs.Rules) != 1 {
			t.Fatalf("expected a single rule for %q, got %d", tc.pattern, len(rs.Rules))
		}
		if got := rs.Rules[0].Matches(tc.subject); got != tc.expected {
			t.Errorf("rule %q matching %q = %v, want %v", tc.pattern, tc.subject, got, tc.expected)
		}
	}
}

func TestLoad(t *testing.T) {
	t.Run("Missing file yields empty set", func(t *testing.T) {
		rs, err := Load(filepath.Join(t.TempDir(), DefaultFileName))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rs.Exists || len(rs.Rules) != 0 {
			t.Errorf("expected empty, non-existing rule set, got %+v", rs)
		}
	})

	t.Run("Reads and expands rules", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), DefaultFileName)
		content := "\ufeff# comment\n\n*.tmp\r\n**/cache/\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		rs, err := Load(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{"*.tmp", "*/cache/", "cache/", "*/cache/*", "cache/*"}
		if got := rs.Patterns(); !slices.Equal(got, want) {
			t.Errorf("Patterns() = %q, want %q", got, want)
		}
		if !rs.Exists || rs.ModTime.IsZero() {
			t.Errorf("expected Exists and ModTime to be set, got %+v", rs)
		}
	})
}
