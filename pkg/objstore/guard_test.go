package objstore

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
)

type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (r *recordingLogger) Log(code, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, code+" "+text)
}

func (r *recordingLogger) has(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if strings.HasPrefix(e, code+" ") {
			return true
		}
	}
	return false
}

const (
	looseDir  = "ab"
	looseName = "cdef0123456789abcdef0123456789abcdef01"
	packID    = "0123456789abcdef0123456789abcdef01234567"
)

func createObject(t *testing.T, root string, rel string, perm os.FileMode) string {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		t.Fatalf("failed to create dir for %s: %v", rel, err)
	}
	if err := os.WriteFile(abs, []byte("blob"), perm); err != nil {
		t.Fatalf("failed to create object %s: %v", rel, err)
	}
	return abs
}

func skipIfPermissionsIgnored(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced for this user")
	}
}

func TestGuard_InStore(t *testing.T) {
	g := NewGuard(&recordingLogger{})
	testCases := []struct {
		path string
		want bool
	}{
		{"repo/.git/objects/ab/" + looseName, true},
		{"/abs/repo/.git/objects/pack/pack-" + packID + ".pack", true},
		{"repo/.git/config", false},
		{"repo/objects/ab/" + looseName, false},
		{"repo/.gitobjects/ab", false},
	}
	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			if got := g.InStore(tc.path); got != tc.want {
				t.Errorf("InStore(%q) = %v, want %v", tc.path, got, tc.want)
			}
		})
	}
}

func TestGuard_IsObjectFile(t *testing.T) {
	g := NewGuard(&recordingLogger{})
	testCases := []struct {
		name string
		path string
		want bool
	}{
		{"loose object", "r/.git/objects/ab/" + looseName, true},
		{"pack file", "r/.git/objects/pack/pack-" + packID + ".pack", true},
		{"pack index", "r/.git/objects/pack/pack-" + packID + ".idx", true},
		{"uppercase hex", "r/.git/objects/AB/" + strings.ToUpper(looseName), false},
		{"short name", "r/.git/objects/ab/cdef", false},
		{"non hex name", "r/.git/objects/ab/" + strings.Repeat("z", 38), false},
		{"info file", "r/.git/objects/info/packs", false},
		{"unknown pack extension", "r/.git/objects/pack/pack-" + packID + ".tmp", false},
		{"outside store", "r/ab/" + looseName, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := g.IsObjectFile(tc.path); got != tc.want {
				t.Errorf("IsObjectFile(%q) = %v, want %v", tc.path, got, tc.want)
			}
		})
	}
}

func TestGuard_SafeDelete(t *testing.T) {
	t.Run("removes read-only loose object", func(t *testing.T) {
		root := t.TempDir()
		logger := &recordingLogger{}
		abs := createObject(t, root, ".git/objects/"+looseDir+"/"+looseName, 0444)

		if !NewGuard(logger).SafeDelete(abs) {
			t.Fatalf("SafeDelete returned false, log: %v", logger.entries)
		}
		if _, err := os.Stat(abs); !os.IsNotExist(err) {
			t.Errorf("expected object to be removed, stat err: %v", err)
		}
		if _, err := os.Stat(filepath.Dir(abs)); err != nil {
			t.Errorf("expected fan-out directory to remain: %v", err)
		}
	})

	t.Run("rejects directory", func(t *testing.T) {
		root := t.TempDir()
		logger := &recordingLogger{}
		dir := filepath.Join(root, ".git", "objects", looseDir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		if NewGuard(logger).SafeDelete(dir) {
			t.Error("expected SafeDelete to refuse a directory")
		}
		if !logger.has(CodeError) {
			t.Error("expected an ERROR entry")
		}
	})

	t.Run("rejects path outside store", func(t *testing.T) {
		root := t.TempDir()
		logger := &recordingLogger{}
		abs := createObject(t, root, "plain/"+looseDir+"/"+looseName, 0644)
		if NewGuard(logger).SafeDelete(abs) {
			t.Error("expected SafeDelete to refuse a path outside the store")
		}
		if _, err := os.Stat(abs); err != nil {
			t.Errorf("file must not be touched: %v", err)
		}
		if !logger.has(CodeError) {
			t.Error("expected an ERROR entry")
		}
	})

	t.Run("rejects malformed name", func(t *testing.T) {
		root := t.TempDir()
		logger := &recordingLogger{}
		abs := createObject(t, root, ".git/objects/info/packs", 0644)
		if NewGuard(logger).SafeDelete(abs) {
			t.Error("expected SafeDelete to refuse a non content-addressed name")
		}
		if _, err := os.Stat(abs); err != nil {
			t.Errorf("file must not be touched: %v", err)
		}
	})

	t.Run("logs paths relative to the root", func(t *testing.T) {
		root := t.TempDir()
		logger := &recordingLogger{}
		abs := createObject(t, root, ".git/objects/info/packs", 0644)
		if NewGuard(logger).WithRoot(root).SafeDelete(abs) {
			t.Fatal("expected SafeDelete to refuse a non content-addressed name")
		}
		if len(logger.entries) != 1 {
			t.Fatalf("expected one entry, got %v", logger.entries)
		}
		want := "ERROR illegal object name: .git/objects/info/packs is not content-addressed"
		if logger.entries[0] != want {
			t.Errorf("entry = %q, want %q", logger.entries[0], want)
		}
	})

	t.Run("falls back to fan-out directory removal", func(t *testing.T) {
		skipIfPermissionsIgnored(t)
		root := t.TempDir()
		logger := &recordingLogger{}
		abs := createObject(t, root, ".git/objects/"+looseDir+"/"+looseName, 0444)
		dir := filepath.Dir(abs)
		if err := os.Chmod(dir, 0555); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = os.Chmod(dir, 0755) })

		if !NewGuard(logger).SafeDelete(abs) {
			t.Fatalf("SafeDelete returned false, log: %v", logger.entries)
		}
		if !logger.has(CodeWarning) {
			t.Error("expected a WARNING entry for the failed direct removal")
		}
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected fan-out directory to be recreated: %v", err)
		}
		if info.Mode().Perm() != 0555 {
			t.Errorf("expected recreated dir perms 0555, got %o", info.Mode().Perm())
		}
		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Errorf("expected recreated dir to be empty, got %d entries", len(entries))
		}
	})

	t.Run("refuses when fan-out directory has siblings", func(t *testing.T) {
		skipIfPermissionsIgnored(t)
		root := t.TempDir()
		logger := &recordingLogger{}
		abs := createObject(t, root, ".git/objects/"+looseDir+"/"+looseName, 0444)
		sibling := createObject(t, root, ".git/objects/"+looseDir+"/"+strings.Repeat("1", 38), 0444)
		dir := filepath.Dir(abs)
		if err := os.Chmod(dir, 0555); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = os.Chmod(dir, 0755) })

		if NewGuard(logger).SafeDelete(abs) {
			t.Fatal("expected SafeDelete to fail")
		}
		if !logger.has(CodeError) {
			t.Error("expected an ERROR entry")
		}
		for _, p := range []string{abs, sibling} {
			if _, err := os.Stat(p); err != nil {
				t.Errorf("expected %s to survive: %v", p, err)
			}
		}
	})
}
