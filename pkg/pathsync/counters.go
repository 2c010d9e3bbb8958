package pathsync

import (
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// Counters tracks the outcome of one pass. A fresh instance is used per pass.
type Counters struct {
	added        atomic.Int64
	modified     atomic.Int64
	deletedFiles atomic.Int64
	deletedDirs  atomic.Int64
	failed       atomic.Int64
	bytesCopied  atomic.Int64
}

// Counts is a point-in-time copy of Counters.
type Counts struct {
	Added        int64
	Modified     int64
	DeletedFiles int64
	DeletedDirs  int64
	Failed       int64
	BytesCopied  int64
}

func (c *Counters) AddAdded(n int64)        { c.added.Add(n) }
func (c *Counters) AddModified(n int64)     { c.modified.Add(n) }
func (c *Counters) AddDeletedFiles(n int64) { c.deletedFiles.Add(n) }
func (c *Counters) AddDeletedDirs(n int64)  { c.deletedDirs.Add(n) }
func (c *Counters) AddFailed(n int64)       { c.failed.Add(n) }
func (c *Counters) AddBytesCopied(n int64)  { c.bytesCopied.Add(n) }

// Snapshot returns the current values.
func (c *Counters) Snapshot() Counts {
	return Counts{
		Added:        c.added.Load(),
		Modified:     c.modified.Load(),
		DeletedFiles: c.deletedFiles.Load(),
		DeletedDirs:  c.deletedDirs.Load(),
		Failed:       c.failed.Load(),
		BytesCopied:  c.bytesCopied.Load(),
	}
}

// String renders the totals line written at the end of a pass.
func (c Counts) String() string {
	return fmt.Sprintf("Sync complete: added %d files, modified %d files, deleted %d files and %d dirs, %d failed (%s copied)",
		c.Added, c.Modified, c.DeletedFiles, c.DeletedDirs, c.Failed, humanize.Bytes(uint64(c.BytesCopied)))
}
