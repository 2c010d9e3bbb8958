package cmd_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulschiretz/pgl-sync/cmd"
	"github.com/paulschiretz/pgl-sync/pkg/buildinfo"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := cmd.NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	want := buildinfo.Name + " version " + buildinfo.Version
	if !strings.Contains(out, want) {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestCheckIgnoreCommand(t *testing.T) {
	source := t.TempDir()
	writeFile(t, filepath.Join(source, ".syncignore"), "*.tmp\nbuild/\n")
	writeFile(t, filepath.Join(source, "notes.txt"), "keep")
	if err := os.MkdirAll(filepath.Join(source, "build"), 0755); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "check-ignore", source, "scratch.tmp", "notes.txt", "build", filepath.Join(t.TempDir(), "elsewhere"))
	if err != nil {
		t.Fatalf("check-ignore error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), out)
	}
	checks := []struct {
		line int
		want string
	}{
		{0, `scratch.tmp: ignored by "*.tmp"`},
		{1, "notes.txt: not ignored"},
		{2, `build/: ignored by "build/"`},
		{3, "not inside"},
	}
	for _, c := range checks {
		if !strings.Contains(lines[c.line], c.want) {
			t.Errorf("line %d = %q, want it to contain %q", c.line, lines[c.line], c.want)
		}
	}
}

func TestSyncCommand(t *testing.T) {
	source := t.TempDir()
	target := filepath.Join(t.TempDir(), "mirror")
	writeFile(t, filepath.Join(source, "a.txt"), "alpha")
	writeFile(t, filepath.Join(source, "sub", "b.txt"), "beta")
	writeFile(t, filepath.Join(source, "skip.log"), "noise")
	writeFile(t, filepath.Join(source, ".syncignore"), "*.log\n")

	if _, err := execute(t, "sync", source, target, "--yes"); err != nil {
		t.Fatalf("sync error = %v", err)
	}

	for _, rel := range []string{"a.txt", filepath.Join("sub", "b.txt"), ".syncignore", "synclog.txt"} {
		if _, err := os.Stat(filepath.Join(target, rel)); err != nil {
			t.Errorf("expected %s in target: %v", rel, err)
		}
	}
	if _, err := os.Stat(filepath.Join(target, "skip.log")); !os.IsNotExist(err) {
		t.Errorf("ignored file should not be copied, stat error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(source, "synclog.txt"))
	if err != nil {
		t.Fatalf("action log should be mirrored into the source: %v", err)
	}
	if !strings.Contains(string(data), "Sync complete: added 3 files") {
		t.Errorf("action log missing summary line:\n%s", data)
	}
}

func TestSyncCommandDeclined(t *testing.T) {
	source := t.TempDir()
	target := t.TempDir()
	writeFile(t, filepath.Join(source, "a.txt"), "alpha")

	// Empty input answers the prompt with its default, which is no.
	if _, err := execute(t, "sync", source, target); err == nil {
		t.Fatal("sync should report the declined session")
	}
	if _, err := os.Stat(filepath.Join(target, "a.txt")); !os.IsNotExist(err) {
		t.Errorf("nothing should be copied after declining, stat error = %v", err)
	}
}

func TestSyncCommandRequiresTarget(t *testing.T) {
	source := t.TempDir()
	if _, err := execute(t, "sync", source, "--yes"); err == nil {
		t.Fatal("sync without a target should fail")
	}
}

func TestSyncCommandRejectsZeroWorkers(t *testing.T) {
	source := t.TempDir()
	target := t.TempDir()
	writeFile(t, filepath.Join(source, "a.txt"), "alpha")

	_, err := execute(t, "sync", source, target, "--yes", "--workers", "0")
	if err == nil || !strings.Contains(err.Error(), "workers") {
		t.Fatalf("sync error = %v, want a workers validation error", err)
	}
	if _, err := os.Stat(filepath.Join(target, "a.txt")); !os.IsNotExist(err) {
		t.Errorf("nothing should be copied with an invalid config, stat error = %v", err)
	}
}
