// Package syncutil provides lock helpers shared by the in-memory engine structures.
package syncutil

import (
	"hash/fnv"
	"sort"
	"sync"
)

const shardCount = 256

// ShardedMutex provides a fixed-size pool of mutexes keyed by string.
// Memory is bounded regardless of how many actor keys are seen, at the cost
// of occasional false sharing between keys that hash to the same shard.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the mutex for the given key and returns an unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := &s.shards[shardIndex(key)]
	mu.Lock()
	return mu.Unlock
}

// LockKeys acquires the mutexes for every key as one unit and returns a
// function releasing all of them. Shards are deduplicated and taken in
// ascending order so two callers locking overlapping key sets cannot
// deadlock, and keys that collide on one shard do not self-deadlock.
func (s *ShardedMutex) LockKeys(keys ...string) func() {
	idx := make([]int, 0, len(keys))
	seen := make(map[int]struct{}, len(keys))
	for _, k := range keys {
		i := shardIndex(k)
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		idx = append(idx, i)
	}
	sort.Ints(idx)

	for _, i := range idx {
		s.shards[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			s.shards[idx[j]].Unlock()
		}
	}
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}
