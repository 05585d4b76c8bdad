// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package cache implements the bounded chunk cache and prefetcher from
// spec.md §4.9: a TinyLFU admission cache keyed by chunk index, consulted on
// every Get by a Prefetcher that predicts which indices to fetch next.
package cache

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-tinylfu"

	"github.com/cosnicolaou/rapidgzip/internal/chunk"
)

// Stats tracks cache introspection counters (spec.md §4.9).
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// Cache is a bounded LRU-ish (TinyLFU-admission) cache of decoded chunks,
// keyed by chunk index, fronted by a Prefetcher.
//
// Safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	lfu        *tinylfu.T[int64, *chunk.Decoded]
	prefetcher *Prefetcher
	stats      Stats
}

// DefaultCapacityFor returns spec.md §4.9's default capacity, 16+parallelism.
func DefaultCapacityFor(parallelism int) int {
	return 16 + parallelism
}

// New returns a Cache with room for capacity chunks, predicting at most
// maxAhead indices ahead.
func New(capacity, maxAhead int) *Cache {
	if capacity <= 0 {
		capacity = 16
	}
	c := &Cache{prefetcher: NewPrefetcher(maxAhead)}
	c.lfu = tinylfu.New[int64, *chunk.Decoded](capacity, capacity*10, hashIndex,
		tinylfu.OnEvict(func(int64, *chunk.Decoded) {
			c.mu.Lock()
			c.stats.Evictions++
			c.mu.Unlock()
		}))
	return c
}

func hashIndex(k int64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(k))
	return xxhash.Sum64(b[:])
}

// Get returns the chunk cached for index, if any, and records the access
// with the prefetcher regardless of whether it was a hit or a miss (spec.md
// §4.9: "the prefetcher is consulted on every get").
func (c *Cache) Get(index int64) (*chunk.Decoded, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lfu.Get(index)
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	c.prefetcher.Record(index)
	return v, ok
}

// Insert adds decoded under index, evicting the least valuable entry if the
// cache is at capacity.
func (c *Cache) Insert(index int64, decoded *chunk.Decoded) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lfu.Add(index, decoded)
}

// Predict returns the indices the prefetcher recommends fetching next.
func (c *Cache) Predict() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefetcher.Predict()
}

// NotifySplit tells the prefetcher that the chunk previously known as
// splitIndex has been partitioned into k sub-chunks.
func (c *Cache) NotifySplit(splitIndex int64, k int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefetcher.NotifySplit(splitIndex, k)
}

// Stats returns a snapshot of the cache's hit/miss/eviction counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
