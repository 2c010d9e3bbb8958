// Package digestcache memoizes file content digests across passes in a bbolt
// database. An entry is only trusted while the file's size and modification
// time still match the values recorded with it.
package digestcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/paulschiretz/pgl-sync/pkg/buildinfo"
)

const (
	bucketName = "Digests"
	fileName   = "digests.db"
	// openTimeout bounds the wait for another process holding the database.
	openTimeout = time.Second
)

type record struct {
	Size    int64  `json:"size"`
	ModTime int64  `json:"modTimeNs"`
	Digest  string `json:"digest"`
}

// Cache is a persistent absolute-path -> digest memo. It is safe for
// concurrent use.
type Cache struct {
	db *bbolt.DB
}

// DefaultPath returns <user cache dir>/pgl-sync/digests.db.
func DefaultPath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user cache dir: %w", err)
	}
	return filepath.Join(dir, buildinfo.AppID, fileName), nil
}

// Open opens or creates the cache database at path.
func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create digest cache dir: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open digest cache %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create digest bucket: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Lookup returns the cached digest for absPath if it was recorded for the
// same size and modification time as info.
func (c *Cache) Lookup(absPath string, info os.FileInfo) (string, bool) {
	var rec record
	found := false
	_ = c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get([]byte(absPath))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &rec); err != nil {
			return nil
		}
		found = true
		return nil
	})
	if !found || rec.Size != info.Size() || rec.ModTime != info.ModTime().UnixNano() {
		return "", false
	}
	return rec.Digest, true
}

// Store records digest for absPath as observed with info.
func (c *Cache) Store(absPath string, info os.FileInfo, digest string) error {
	data, err := json.Marshal(record{
		Size:    info.Size(),
		ModTime: info.ModTime().UnixNano(),
		Digest:  digest,
	})
	if err != nil {
		return fmt.Errorf("failed to encode digest record: %w", err)
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(absPath), data)
	})
}

// Forget drops the entry for absPath, if any.
func (c *Cache) Forget(absPath string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(absPath))
	})
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	n := 0
	_ = c.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(bucketName)).Stats().KeyN
		return nil
	})
	return n
}
