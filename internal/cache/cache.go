// Package cache provides a content-addressed cache of compiled
// factory.Factory values, keyed by a blake2b digest of the schema bytes
// that produced them, so repeatedly compiling the same pattern within one
// process (a --watch reload of an unchanged file, a library caller
// compiling a constant pattern) skips the parser. The cache lives in
// memory only and is not shared between separate runs.
package cache

import (
	"encoding/hex"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/NotsoanoNimus/nanofuzz/pkgs/factory"
)

// FactoryCache caches compiled Factories by schema digest.
type FactoryCache struct {
	mu      sync.RWMutex
	entries map[string]*factory.Factory
	maxSize int
}

// New returns a FactoryCache holding at most maxSize compiled Factories.
func New(maxSize int) *FactoryCache {
	if maxSize <= 0 {
		maxSize = 64
	}
	return &FactoryCache{
		entries: make(map[string]*factory.Factory),
		maxSize: maxSize,
	}
}

// Get retrieves the Factory previously stored for schema, if any.
func (c *FactoryCache) Get(schema []byte) (*factory.Factory, bool) {
	key := digest(schema)
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.entries[key]
	return f, ok
}

// Put stores f under schema's digest. If the cache is already at maxSize,
// it is cleared first: a simple full-clear eviction rather than LRU, since
// this is a small convenience cache, not a correctness-critical index.
func (c *FactoryCache) Put(schema []byte, f *factory.Factory) {
	key := digest(schema)
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxSize {
		c.entries = make(map[string]*factory.Factory)
	}
	c.entries[key] = f
}

func digest(schema []byte) string {
	sum := blake2b.Sum256(schema)
	return hex.EncodeToString(sum[:])
}
