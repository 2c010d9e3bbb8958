package sharded

import "sync"

type setShard struct {
	mu    sync.RWMutex
	items map[string]struct{}
}

// Set is a concurrent string set with per-shard locking.
type Set struct {
	shards []*setShard
}

// NewSet creates a set with numShards shards. numShards must be a power of 2.
func NewSet(numShards int) *Set {
	if !isPowerOfTwo(numShards) {
		panic("num shards must be a power of 2")
	}
	s := &Set{shards: make([]*setShard, numShards)}
	for i := range numShards {
		s.shards[i] = &setShard{items: make(map[string]struct{})}
	}
	return s
}

func (s *Set) getShard(key string) *setShard {
	return s.shards[getShardIndex(key, len(s.shards))]
}

// Store adds a key to the set.
func (s *Set) Store(key string) {
	shard := s.getShard(key)
	shard.mu.Lock()
	shard.items[key] = struct{}{}
	shard.mu.Unlock()
}

// Has checks for the presence of a key.
func (s *Set) Has(key string) bool {
	shard := s.getShard(key)
	shard.mu.RLock()
	_, ok := shard.items[key]
	shard.mu.RUnlock()
	return ok
}

// LoadOrStore adds key and reports whether it was already present.
func (s *Set) LoadOrStore(key string) (loaded bool) {
	shard := s.getShard(key)
	shard.mu.Lock()
	_, loaded = shard.items[key]
	if !loaded {
		shard.items[key] = struct{}{}
	}
	shard.mu.Unlock()
	return loaded
}

// Delete removes a key from the set.
func (s *Set) Delete(key string) {
	shard := s.getShard(key)
	shard.mu.Lock()
	delete(shard.items, key)
	shard.mu.Unlock()
}

// Len returns the number of keys in the set.
func (s *Set) Len() int {
	count := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		count += len(shard.items)
		shard.mu.RUnlock()
	}
	return count
}

// Keys returns all keys in no particular order.
func (s *Set) Keys() []string {
	keys := make([]string, 0, s.Len())
	for _, shard := range s.shards {
		shard.mu.RLock()
		for k := range shard.items {
			keys = append(keys, k)
		}
		shard.mu.RUnlock()
	}
	return keys
}
