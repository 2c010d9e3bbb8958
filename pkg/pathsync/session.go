package pathsync

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-sync/pkg/util"
)

// Mode selects how a pass brings the target in line with the source.
type Mode int

const (
	// DateMode compares modification times within a tolerance window.
	DateMode Mode = iota
	// HashMode compares file sizes and content digests.
	HashMode
	// ResetMode wipes the target and copies the source afresh every pass.
	ResetMode
)

var modeToString = map[Mode]string{
	DateMode:  "date",
	HashMode:  "hash",
	ResetMode: "reset",
}

var stringToMode map[string]Mode

func init() {
	stringToMode = util.InvertMap(modeToString)
	// "file" is the historical name of the content comparison mode.
	stringToMode["file"] = HashMode
}

func (m Mode) String() string {
	if str, ok := modeToString[m]; ok {
		return str
	}
	return fmt.Sprintf("unknown_mode(%d)", int(m))
}

// ParseMode parses "date", "hash" ("file") or "reset".
func ParseMode(s string) (Mode, error) {
	if m, ok := stringToMode[strings.ToLower(strings.TrimSpace(s))]; ok {
		return m, nil
	}
	return 0, fmt.Errorf("invalid mode: %q. Must be 'date', 'hash' or 'reset'", s)
}

const (
	// DefaultToleranceFactor makes date comparison accurate to a microsecond.
	DefaultToleranceFactor = 1e6
	// StateDirName holds engine state inside the target root.
	StateDirName = ".pgl-sync"
)

// DefaultWorkers returns min(max(2*NumCPU, 4), 32).
func DefaultWorkers() int {
	return min(max(2*runtime.NumCPU(), 4), 32)
}

// Session is the immutable description of a sync job.
type Session struct {
	Source          string
	Target          string
	Mode            Mode
	DeleteIgnored   bool
	ToleranceFactor float64
	// Interval between passes; zero runs a single pass.
	Interval time.Duration
	Workers  int
	// LogFileName is the action log name in both roots.
	LogFileName string
	DryRun      bool
}

// Summary renders the session for confirmation prompts and logs.
func (s Session) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source:          %s\n", s.Source)
	fmt.Fprintf(&b, "Target:          %s\n", s.Target)
	fmt.Fprintf(&b, "Mode:            %s\n", s.Mode)
	fmt.Fprintf(&b, "Workers:         %d\n", s.Workers)
	if s.Interval > 0 {
		fmt.Fprintf(&b, "Interval:        %s\n", s.Interval)
	} else {
		b.WriteString("Interval:        single pass\n")
	}
	if s.DeleteIgnored {
		b.WriteString("Ignored entries: deleted from target")
	} else {
		b.WriteString("Ignored entries: left untouched in target")
	}
	if s.DryRun {
		b.WriteString("\nDry run:         yes")
	}
	return b.String()
}

// isEngineFile reports whether a root-relative key belongs to the engine
// itself and must be neither synced nor reaped.
func (s Session) isEngineFile(relPathKey string) bool {
	return relPathKey == StateDirName || strings.HasPrefix(relPathKey, StateDirName+"/") || relPathKey == s.LogFileName
}
