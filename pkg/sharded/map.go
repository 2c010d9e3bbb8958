package sharded

import "sync"

type mapShard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// Map is a string-keyed map split into independently locked shards, so
// workers touching different keys rarely contend on the same mutex.
type Map[V any] struct {
	shards []*mapShard[V]
}

// NewMap creates a map with numShards shards. numShards must be a power of 2.
func NewMap[V any](numShards int) *Map[V] {
	if !isPowerOfTwo(numShards) {
		panic("num shards must be a power of 2")
	}
	m := &Map[V]{shards: make([]*mapShard[V], numShards)}
	for i := range numShards {
		m.shards[i] = &mapShard[V]{items: make(map[string]V)}
	}
	return m
}

func (m *Map[V]) getShard(key string) *mapShard[V] {
	return m.shards[getShardIndex(key, len(m.shards))]
}

// Store adds a key-value pair to the map.
func (m *Map[V]) Store(key string, value V) {
	shard := m.getShard(key)
	shard.mu.Lock()
	shard.items[key] = value
	shard.mu.Unlock()
}

// Load retrieves the value associated with a key.
func (m *Map[V]) Load(key string) (value V, ok bool) {
	shard := m.getShard(key)
	shard.mu.RLock()
	value, ok = shard.items[key]
	shard.mu.RUnlock()
	return value, ok
}

// LoadOrCompute returns the cached value for key, or computes, stores and
// returns it. compute runs under the shard lock, so it is evaluated at most
// once per key and must not call back into the map.
func (m *Map[V]) LoadOrCompute(key string, compute func() V) (value V, loaded bool) {
	shard := m.getShard(key)

	shard.mu.RLock()
	value, loaded = shard.items[key]
	shard.mu.RUnlock()
	if loaded {
		return value, true
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	// Another worker may have filled the slot between the two locks.
	if value, loaded = shard.items[key]; loaded {
		return value, true
	}
	value = compute()
	shard.items[key] = value
	return value, false
}

// Delete removes a key.
func (m *Map[V]) Delete(key string) {
	shard := m.getShard(key)
	shard.mu.Lock()
	delete(shard.items, key)
	shard.mu.Unlock()
}

// Len returns the total number of elements in the map.
func (m *Map[V]) Len() int {
	count := 0
	for _, shard := range m.shards {
		shard.mu.RLock()
		count += len(shard.items)
		shard.mu.RUnlock()
	}
	return count
}

// Items returns a snapshot of all key-value pairs.
func (m *Map[V]) Items() map[string]V {
	items := make(map[string]V, m.Len())
	for _, shard := range m.shards {
		shard.mu.RLock()
		for k, v := range shard.items {
			items[k] = v
		}
		shard.mu.RUnlock()
	}
	return items
}
