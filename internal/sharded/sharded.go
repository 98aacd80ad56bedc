// Package sharded provides a partitioned in-memory map. Values are grouped
// into shards by a caller-supplied key function; mutations on different
// shards never contend, which keeps the hot ingestion path free of a global
// lock.
package sharded

import (
	"sync"
)

// Store partitions values by shard key. The zero value is not usable;
// construct with New.
type Store[V any] struct {
	shardKey func(V) string

	mu     sync.RWMutex // guards the shard directory only
	shards map[string]*shard[V]
	order  []string // shard creation order, for full scans
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
	order []string // insertion order of ids
}

// New builds a Store. shardKey extracts the partition key from a value; it
// must be stable for the lifetime of the value.
func New[V any](shardKey func(V) string) *Store[V] {
	return &Store[V]{
		shardKey: shardKey,
		shards:   make(map[string]*shard[V]),
	}
}

func (s *Store[V]) shardFor(key string, create bool) *shard[V] {
	s.mu.RLock()
	sh := s.shards[key]
	s.mu.RUnlock()
	if sh != nil || !create {
		return sh
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sh = s.shards[key]; sh != nil {
		return sh
	}
	sh = &shard[V]{items: make(map[string]V)}
	s.shards[key] = sh
	s.order = append(s.order, key)
	return sh
}

// Put inserts or replaces the value under id within its shard.
func (s *Store[V]) Put(id string, v V) {
	sh := s.shardFor(s.shardKey(v), true)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, exists := sh.items[id]; !exists {
		sh.order = append(sh.order, id)
	}
	sh.items[id] = v
}

// Get looks up id. With a shard key the lookup touches one shard; without,
// shards are scanned in creation order.
func (s *Store[V]) Get(id string, shardKey ...string) (V, bool) {
	var zero V
	if len(shardKey) > 0 {
		sh := s.shardFor(shardKey[0], false)
		if sh == nil {
			return zero, false
		}
		sh.mu.RLock()
		defer sh.mu.RUnlock()
		v, ok := sh.items[id]
		return v, ok
	}

	s.mu.RLock()
	keys := append([]string(nil), s.order...)
	s.mu.RUnlock()
	for _, k := range keys {
		sh := s.shardFor(k, false)
		if sh == nil {
			continue
		}
		sh.mu.RLock()
		v, ok := sh.items[id]
		sh.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return zero, false
}

// Delete removes id, returning whether it was present.
func (s *Store[V]) Delete(id string, shardKey ...string) bool {
	remove := func(sh *shard[V]) bool {
		sh.mu.Lock()
		defer sh.mu.Unlock()
		if _, ok := sh.items[id]; !ok {
			return false
		}
		delete(sh.items, id)
		for i, oid := range sh.order {
			if oid == id {
				sh.order = append(sh.order[:i], sh.order[i+1:]...)
				break
			}
		}
		return true
	}

	if len(shardKey) > 0 {
		if sh := s.shardFor(shardKey[0], false); sh != nil {
			return remove(sh)
		}
		return false
	}

	s.mu.RLock()
	keys := append([]string(nil), s.order...)
	s.mu.RUnlock()
	for _, k := range keys {
		if sh := s.shardFor(k, false); sh != nil && remove(sh) {
			return true
		}
	}
	return false
}

// QueryShard returns up to limit values from one shard that pass filter,
// in insertion order. A nil filter passes everything; limit <= 0 means all.
func (s *Store[V]) QueryShard(shardKey string, filter func(V) bool, limit int) []V {
	sh := s.shardFor(shardKey, false)
	if sh == nil {
		return nil
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	var out []V
	for _, id := range sh.order {
		v := sh.items[id]
		if filter != nil && !filter(v) {
			continue
		}
		out = append(out, v)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// All returns every value across all shards, shard creation order first,
// insertion order within a shard.
func (s *Store[V]) All() []V {
	s.mu.RLock()
	keys := append([]string(nil), s.order...)
	s.mu.RUnlock()

	var out []V
	for _, k := range keys {
		out = append(out, s.QueryShard(k, nil, 0)...)
	}
	return out
}

// ListShards returns the shard keys in creation order.
func (s *Store[V]) ListShards() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// TotalSize counts values across all shards.
func (s *Store[V]) TotalSize() int {
	s.mu.RLock()
	keys := append([]string(nil), s.order...)
	s.mu.RUnlock()

	total := 0
	for _, k := range keys {
		if sh := s.shardFor(k, false); sh != nil {
			sh.mu.RLock()
			total += len(sh.items)
			sh.mu.RUnlock()
		}
	}
	return total
}

// Export snapshots the full store as shardKey -> id -> value. The snapshot
// shares value references; callers that need isolation clone values first.
func (s *Store[V]) Export() map[string]map[string]V {
	s.mu.RLock()
	keys := append([]string(nil), s.order...)
	s.mu.RUnlock()

	out := make(map[string]map[string]V, len(keys))
	for _, k := range keys {
		sh := s.shardFor(k, false)
		if sh == nil {
			continue
		}
		sh.mu.RLock()
		m := make(map[string]V, len(sh.items))
		for id, v := range sh.items {
			m[id] = v
		}
		sh.mu.RUnlock()
		out[k] = m
	}
	return out
}

// Import replaces the store contents with a previously exported snapshot.
func (s *Store[V]) Import(snapshot map[string]map[string]V) {
	s.mu.Lock()
	s.shards = make(map[string]*shard[V], len(snapshot))
	s.order = s.order[:0]
	s.mu.Unlock()

	for key, items := range snapshot {
		sh := s.shardFor(key, true)
		sh.mu.Lock()
		for id, v := range items {
			sh.items[id] = v
			sh.order = append(sh.order, id)
		}
		sh.mu.Unlock()
	}
}
