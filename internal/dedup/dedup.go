package dedup

import (
	"sync"

	"github.com/xtaci/shredstream/internal/shred"
)

const shardCount = 64

// Set is a process-wide, sharded concurrent set of FEC-set keys that have
// already been reconstructed. Stage A reads it to drop redundant fragments;
// stage B writes it once a set completes. Sharding avoids a single mutex
// becoming the pipeline's bottleneck under concurrent FEC workers.
type Set struct {
	shards [shardCount]shard
}

type shard struct {
	mu   sync.RWMutex
	keys map[shred.Key]struct{}
}

// New returns an empty Set.
func New() *Set {
	s := &Set{}
	for i := range s.shards {
		s.shards[i].keys = make(map[shred.Key]struct{})
	}
	return s
}

func (s *Set) shardFor(k shred.Key) *shard {
	return &s.shards[ShardIndex(k, shardCount)]
}

// Contains reports whether k has already been reconstructed. A stale
// negative (the insert landed a moment after this read started) is
// harmless: the fragment is simply routed to its FEC worker, which
// discovers the set already gone and does nothing.
func (s *Set) Contains(k shred.Key) bool {
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	_, ok := sh.keys[k]
	return ok
}

// Insert marks k as reconstructed.
func (s *Set) Insert(k shred.Key) {
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.keys[k] = struct{}{}
}

// ShardIndex is the stable routing hash shared by the dedup set and the
// ingress fan-out, so a key's dedup shard and its FEC worker inbox are
// derived identically and a single key never splits across workers.
func ShardIndex(k shred.Key, n int) int {
	return int(fnv1a(k.Slot, k.FecSetIndex) % uint64(n))
}

func fnv1a(slot uint64, fecSetIndex uint32) uint64 {
	const (
		offsetBasis = 14695981039346656037
		prime       = 1099511628211
	)
	h := uint64(offsetBasis)
	for i := 0; i < 8; i++ {
		h ^= (slot >> uint(8*i)) & 0xff
		h *= prime
	}
	for i := 0; i < 4; i++ {
		h ^= uint64((fecSetIndex >> uint(8*i)) & 0xff)
		h *= prime
	}
	return h
}
