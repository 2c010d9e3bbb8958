// Package compare decides whether a target file already matches its source.
//
// Two strategies exist. ByDate treats files as equal when their modification
// times lie within a tolerance window; ByHash compares sizes and then SHA-256
// digests of the content. Files inside a content-addressed object store are
// never rewritten because of a clock difference alone: in date mode a date
// mismatch there is settled by content.
package compare

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/paulschiretz/pgl-sync/pkg/digestcache"
	"github.com/paulschiretz/pgl-sync/pkg/plog"
	"github.com/paulschiretz/pgl-sync/pkg/pool"
)

// Strategy selects how two files are compared.
type Strategy int

const (
	ByDate Strategy = iota
	ByHash
)

func (s Strategy) String() string {
	switch s {
	case ByDate:
		return "date"
	case ByHash:
		return "hash"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// DefaultBufferSize is the read buffer used when hashing.
const DefaultBufferSize = 64 * 1024

// StoreDetector reports whether a path lies inside an object store.
type StoreDetector interface {
	InStore(path string) bool
}

// SameByDate reports whether the modification times of a and b are equal
// under factor: |Δt| * factor must be below one second. A larger factor is a
// stricter comparison.
func SameByDate(a, b os.FileInfo, factor float64) bool {
	delta := math.Abs(float64(a.ModTime().Sub(b.ModTime())))
	return delta*factor < float64(time.Second)
}

// Options configures a Comparer.
type Options struct {
	Strategy        Strategy
	ToleranceFactor float64
	// BufferSize is the hashing buffer size; DefaultBufferSize when zero.
	BufferSize int
	// Stores enables the object-store tie-break in date mode. Optional.
	Stores StoreDetector
	// Cache memoizes digests across passes. Optional.
	Cache *digestcache.Cache
}

// Comparer is safe for concurrent use.
type Comparer struct {
	strategy Strategy
	factor   float64
	stores   StoreDetector
	cache    *digestcache.Cache
	buffers  *pool.BufferPool
}

// New creates a Comparer.
func New(opts Options) *Comparer {
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Comparer{
		strategy: opts.Strategy,
		factor:   opts.ToleranceFactor,
		stores:   opts.Stores,
		cache:    opts.Cache,
		buffers:  pool.NewBufferPool(size),
	}
}

// Strategy returns the configured strategy.
func (c *Comparer) Strategy() Strategy {
	return c.strategy
}

// Same reports whether dst already matches src. On error the caller should
// treat the files as different.
func (c *Comparer) Same(ctx context.Context, src, dst string, srcInfo, dstInfo os.FileInfo) (bool, error) {
	switch c.strategy {
	case ByHash:
		return c.sameContent(ctx, src, dst, srcInfo, dstInfo)
	default:
		if SameByDate(srcInfo, dstInfo, c.factor) {
			return true, nil
		}
		if c.stores != nil && c.stores.InStore(src) && c.stores.InStore(dst) {
			plog.Debug("Object store date mismatch, comparing content", "path", dst)
			return c.sameContent(ctx, src, dst, srcInfo, dstInfo)
		}
		return false, nil
	}
}

// SameByHash compares the files at a and b by size and SHA-256 digest.
func (c *Comparer) SameByHash(ctx context.Context, a, b string) (bool, error) {
	aInfo, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	bInfo, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	return c.sameContent(ctx, a, b, aInfo, bInfo)
}

func (c *Comparer) sameContent(ctx context.Context, a, b string, aInfo, bInfo os.FileInfo) (bool, error) {
	if aInfo.Size() != bInfo.Size() {
		return false, nil
	}
	da, err := c.Digest(ctx, a, aInfo)
	if err != nil {
		return false, err
	}
	db, err := c.Digest(ctx, b, bInfo)
	if err != nil {
		return false, err
	}
	return da == db, nil
}

// Digest returns the hex SHA-256 of the file at path, consulting the cache
// when one is configured. info must describe path.
func (c *Comparer) Digest(ctx context.Context, path string, info os.FileInfo) (string, error) {
	if c.cache != nil {
		if d, ok := c.cache.Lookup(path, info); ok {
			return d, nil
		}
	}
	d, err := c.hashFile(ctx, path)
	if err != nil {
		return "", err
	}
	if c.cache != nil {
		if err := c.cache.Store(path, info, d); err != nil {
			plog.Warn("Failed to cache digest", "path", path, "error", err)
		}
	}
	return d, nil
}

func (c *Comparer) hashFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	bufPtr := c.buffers.Get()
	defer c.buffers.Put(bufPtr)
	buf := *bufPtr

	h := sha256.New()
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
