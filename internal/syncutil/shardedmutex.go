package syncutil

import (
	"hash/fnv"
	"sort"
	"sync"
)

// ShardedMutex provides a fixed-size pool of mutexes keyed by string.
// Unlike sync.Map-based per-key locks, this uses bounded memory regardless
// of how many keys are seen, at the cost of occasional false sharing between
// keys that hash to the same shard.
type ShardedMutex struct {
	shards [256]sync.Mutex
}

// Lock acquires the mutex for the given key and returns an unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := s.shard(key)
	mu.Lock()
	return mu.Unlock
}

// LockAll acquires the mutexes for all given keys in ascending shard order
// and returns a single unlock function releasing them in reverse.
// Acquiring by shard index (deduplicating shared shards) gives every caller
// the same global acquisition order, so two operations touching overlapping
// rows cannot deadlock.
func (s *ShardedMutex) LockAll(keys ...string) func() {
	seen := make(map[uint32]struct{}, len(keys))
	idx := make([]uint32, 0, len(keys))
	for _, key := range keys {
		i := s.shardIndex(key)
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		idx = append(idx, i)
	}
	sort.Slice(idx, func(a, b int) bool { return idx[a] < idx[b] })

	for _, i := range idx {
		s.shards[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			s.shards[idx[j]].Unlock()
		}
	}
}

func (s *ShardedMutex) shard(key string) *sync.Mutex {
	return &s.shards[s.shardIndex(key)]
}

func (s *ShardedMutex) shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % 256
}
