package pathsync

import (
	"strings"
	"testing"
	"time"
)

func TestParseMode(t *testing.T) {
	testCases := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"date", DateMode, false},
		{"hash", HashMode, false},
		{"file", HashMode, false},
		{" RESET ", ResetMode, false},
		{"mirror", 0, true},
		{"", 0, true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseMode(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
			if !tc.wantErr && got != tc.want {
				t.Errorf("ParseMode(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestDefaultWorkers(t *testing.T) {
	if n := DefaultWorkers(); n < 4 || n > 32 {
		t.Errorf("DefaultWorkers() = %d, want a value in [4, 32]", n)
	}
}

func TestSession_IsEngineFile(t *testing.T) {
	s := Session{LogFileName: "synclog.txt"}
	testCases := map[string]bool{
		"synclog.txt":         true,
		".pgl-sync":           true,
		".pgl-sync/sync.lock": true,
		"sub/synclog.txt":     false,
		".pgl-sync-other":     false,
		"a.txt":               false,
	}
	for rel, want := range testCases {
		if got := s.isEngineFile(rel); got != want {
			t.Errorf("isEngineFile(%q) = %v, want %v", rel, got, want)
		}
	}
}

func TestSession_Summary(t *testing.T) {
	s := Session{Source: "/src", Target: "/trg", Mode: HashMode, Workers: 8, Interval: time.Minute, DeleteIgnored: true}
	got := s.Summary()
	for _, want := range []string{"/src", "/trg", "hash", "8", "1m0s", "deleted from target"} {
		if !strings.Contains(got, want) {
			t.Errorf("Summary() missing %q:\n%s", want, got)
		}
	}
}

func TestCounts_String(t *testing.T) {
	c := &Counters{}
	c.AddAdded(2)
	c.AddModified(1)
	c.AddDeletedFiles(3)
	c.AddDeletedDirs(1)
	c.AddFailed(4)
	c.AddBytesCopied(2048)
	got := c.Snapshot().String()
	want := "Sync complete: added 2 files, modified 1 files, deleted 3 files and 1 dirs, 4 failed (2.0 kB copied)"
	if got != want {
		t.Errorf("Counts.String() = %q, want %q", got, want)
	}
}
