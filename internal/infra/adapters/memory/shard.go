package memory

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/qrave1/parley/internal/domain/roomkey"
)

// shardedMap делит ключи между независимыми мьютексами, чтобы операции над
// разными пользователями и комнатами не ждали друг друга.
type shardedMap[K comparable, V any] struct {
	shards []*shard[K, V]
	hash   func(K) uint64
}

type shard[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

func newShardedMap[K comparable, V any](n int, hash func(K) uint64) *shardedMap[K, V] {
	if n <= 0 {
		n = 1
	}

	m := &shardedMap[K, V]{
		shards: make([]*shard[K, V], n),
		hash:   hash,
	}

	for i := range m.shards {
		m.shards[i] = &shard[K, V]{items: make(map[K]V)}
	}

	return m
}

func hashUUID(id uuid.UUID) uint64 {
	return xxhash.Sum64(id[:])
}

func hashKey(k roomkey.Key) uint64 {
	return xxhash.Sum64String(string(k))
}

func (m *shardedMap[K, V]) shardFor(k K) *shard[K, V] {
	return m.shards[m.hash(k)%uint64(len(m.shards))]
}

func (m *shardedMap[K, V]) Get(k K) (V, bool) {
	s := m.shardFor(k)

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.items[k]
	return v, ok
}

// View runs fn under the read lock of k's shard.
func (m *shardedMap[K, V]) View(k K, fn func(v V, ok bool)) {
	s := m.shardFor(k)

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.items[k]
	fn(v, ok)
}

// Update runs fn under the write lock of k's shard. fn returns the new value and
// whether to keep it; keep=false deletes the key.
func (m *shardedMap[K, V]) Update(k K, fn func(v V, ok bool) (V, bool)) {
	s := m.shardFor(k)

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.items[k]

	nv, keep := fn(v, ok)
	if keep {
		s.items[k] = nv
	} else if ok {
		delete(s.items, k)
	}
}

func (m *shardedMap[K, V]) Delete(k K) (V, bool) {
	s := m.shardFor(k)

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.items[k]
	if ok {
		delete(s.items, k)
	}

	return v, ok
}

// DeleteFunc removes every entry for which fn returns true, one shard at a time.
func (m *shardedMap[K, V]) DeleteFunc(fn func(k K, v V) bool) int {
	removed := 0

	for _, s := range m.shards {
		s.mu.Lock()
		for k, v := range s.items {
			if fn(k, v) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}

	return removed
}

func (m *shardedMap[K, V]) Len() int {
	n := 0

	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}

	return n
}
