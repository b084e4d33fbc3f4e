// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package psrpc

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DedupCache is a bounded set of recently seen call identifiers.
//
// Membership reflects the most recently inserted distinct keys. Eviction is
// strictly first-inserted-first-evicted: neither Has nor a repeated Put
// refreshes a key. An identifier seen again after capacity other keys have
// been inserted is treated as new.
type DedupCache struct {
	// Only Contains and ContainsOrAdd are used, neither of which touches
	// recency, so the LRU order is insertion order.
	keys *lru.Cache[string, struct{}]
}

// NewDedupCache creates a cache holding at most size keys. A non-positive
// size falls back to DefaultDedupSize.
func NewDedupCache(size int) *DedupCache {
	if size <= 0 {
		size = DefaultDedupSize
	}
	keys, err := lru.New[string, struct{}](size)
	if err != nil {
		panic(err) // only returned for a non-positive size
	}
	return &DedupCache{keys: keys}
}

// Put records key. Putting a resident key is a no-op.
func (c *DedupCache) Put(key string) {
	c.keys.ContainsOrAdd(key, struct{}{})
}

// Has reports whether key is resident.
func (c *DedupCache) Has(key string) bool {
	return c.keys.Contains(key)
}

// CheckAndPut atomically checks for key and records it if absent.
// Returns true if key was already resident (a duplicate).
func (c *DedupCache) CheckAndPut(key string) bool {
	found, _ := c.keys.ContainsOrAdd(key, struct{}{})
	return found
}

// Len returns the number of resident keys.
func (c *DedupCache) Len() int {
	return c.keys.Len()
}
