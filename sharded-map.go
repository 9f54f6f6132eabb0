package nhdb

import (
	"hash/maphash"
	"net/netip"
)

// ShardedMap splits a hash map into independently locked partitions so
// operations on different keys rarely contend. Every operation locks only the
// shard the key hashes into, never the whole map. The locks protect the
// structure of the shards, not the values; values handed out are shared with
// other callers and need their own concurrency discipline (see Extendible).
type ShardedMap[K comparable, V any] struct {
	shards []map[K]V
	locks  *LockPool
	hash   func(K) uint64
}

// NewShardedMap returns a map partitioned into one shard per mutex of the
// given pool. The hash function picks the shard for a key; it must be
// consistent with key equality.
func NewShardedMap[K comparable, V any](locks *LockPool, hash func(K) uint64) *ShardedMap[K, V] {
	shards := make([]map[K]V, locks.Size())
	for i := range shards {
		shards[i] = make(map[K]V)
	}
	return &ShardedMap[K, V]{
		shards: shards,
		locks:  locks,
		hash:   hash,
	}
}

func (m *ShardedMap[K, V]) shardFor(key K) int {
	return m.locks.Index(m.hash(key))
}

// Find returns the value stored under key, if any. Only the owning shard is
// locked for the lookup.
func (m *ShardedMap[K, V]) Find(key K) (V, bool) {
	i := m.shardFor(key)
	mu := m.locks.Mutex(i)
	mu.Lock()
	v, ok := m.shards[i][key]
	mu.Unlock()
	return v, ok
}

// Put inserts or overwrites the value stored under key.
func (m *ShardedMap[K, V]) Put(key K, val V) {
	i := m.shardFor(key)
	mu := m.locks.Mutex(i)
	mu.Lock()
	m.shards[i][key] = val
	mu.Unlock()
}

// Pop removes the value stored under key and returns it.
func (m *ShardedMap[K, V]) Pop(key K) (V, bool) {
	i := m.shardFor(key)
	mu := m.locks.Mutex(i)
	mu.Lock()
	v, ok := m.shards[i][key]
	if ok {
		delete(m.shards[i], key)
	}
	mu.Unlock()
	return v, ok
}

// PopIf removes the value stored under key if cond accepts it. The check and
// the removal happen under one shard lock, so the value removed is always the
// value the condition approved. Use this over Find followed by Pop whenever
// another caller could replace the entry in between.
func (m *ShardedMap[K, V]) PopIf(key K, cond func(V) bool) (V, bool) {
	i := m.shardFor(key)
	mu := m.locks.Mutex(i)
	mu.Lock()
	defer mu.Unlock()
	v, ok := m.shards[i][key]
	if !ok || !cond(v) {
		var zero V
		return zero, false
	}
	delete(m.shards[i], key)
	return v, true
}

// FindOrAllocate returns the value stored under key, allocating one with
// alloc if the key is absent. The shard is locked once for the whole
// operation, so concurrent callers racing to create the same key all receive
// the one value that won. This is the only create-if-absent primitive.
// Returns true if the value already existed.
func (m *ShardedMap[K, V]) FindOrAllocate(key K, alloc func() V) (V, bool) {
	i := m.shardFor(key)
	mu := m.locks.Mutex(i)
	mu.Lock()
	defer mu.Unlock()
	if v, ok := m.shards[i][key]; ok {
		return v, true
	}
	v := alloc()
	m.shards[i][key] = v
	return v, false
}

// Visit calls fn for every entry, locking one shard at a time. Returning true
// from fn stops the iteration. Shards not currently being visited can be
// mutated concurrently, so Visit never sees a frozen snapshot of the whole
// map, only of each shard in turn.
func (m *ShardedMap[K, V]) Visit(fn func(K, V) bool) {
	for i := range m.shards {
		mu := m.locks.Mutex(i)
		mu.Lock()
		for k, v := range m.shards[i] {
			if fn(k, v) {
				mu.Unlock()
				return
			}
		}
		mu.Unlock()
	}
}

// Clear removes all entries. All shards are locked for the duration.
func (m *ShardedMap[K, V]) Clear() {
	m.locks.LockAll()
	for i := range m.shards {
		m.shards[i] = make(map[K]V)
	}
	m.locks.UnlockAll()
}

// Len returns the number of entries, summed shard by shard. Like Visit it is
// only weakly consistent under concurrent mutation.
func (m *ShardedMap[K, V]) Len() int {
	var n int
	for i := range m.shards {
		mu := m.locks.Mutex(i)
		mu.Lock()
		n += len(m.shards[i])
		mu.Unlock()
	}
	return n
}

// Hash functions for the key types used by the registry maps. Each map gets
// its own seed so shard distribution differs between processes.

// StringHasher returns a hash function for string keys.
func StringHasher() func(string) uint64 {
	seed := maphash.MakeSeed()
	return func(s string) uint64 {
		return maphash.String(seed, s)
	}
}

// AddrHasher returns a hash function for netip.Addr keys.
func AddrHasher() func(netip.Addr) uint64 {
	seed := maphash.MakeSeed()
	return func(a netip.Addr) uint64 {
		b := a.As16()
		return maphash.Bytes(seed, b[:])
	}
}
