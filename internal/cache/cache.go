// DPOrdesk - Multi-Tenant GDPR Compliance Portal Backend
// Copyright 2026 DPOrdesk Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dpordesk/dpordesk

// Package cache provides the in-process TTL response cache that fronts
// expensive history reads.
//
// The cache is instrumented for the admin "Performance Settings" panel:
// size, lifetime hit/miss counters, and a formatted hit rate. Clearing
// the cache ("vider le cache") resets its contents, never the lifetime
// counters.
package cache

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// sweepInterval is how often the background sweep evicts expired
// entries. Sweeping bounds memory even for keys that are never
// re-requested after expiring.
const sweepInterval = 5 * time.Minute

// Entry is a cached value with its expiry.
type Entry struct {
	Data      interface{}
	ExpiresAt time.Time
}

// Stats is the statistics snapshot consumed by the admin UI.
// Hits and Misses are lifetime counters; Size is current.
type Stats struct {
	Size    int    `json:"size"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	HitRate string `json:"hitRate"`
}

// Cache is a thread-safe in-memory cache with TTL support.
//
// A background goroutine sweeps expired entries every 5 minutes; call
// Close when discarding a cache to stop it.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration

	statsMu sync.Mutex
	hits    int64
	misses  int64

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache whose entries expire after ttl by default and
// starts the background sweep goroutine.
//
//	c := cache.New(5 * time.Minute)
//	c.Set("history:tenant1:traitement", payload)
//	if v, ok := c.Get("history:tenant1:traitement"); ok { ... }
func New(ttl time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]Entry),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Get retrieves a value by key. Expired entries are removed on access
// and count as misses.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		c.recordMiss()
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		c.recordMiss()
		return nil, false
	}

	c.recordHit()
	return entry.Data, true
}

// Set stores a value with the default TTL, overwriting any existing
// entry for the key.
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value with a custom TTL.
func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry{
		Data:      value,
		ExpiresAt: time.Now().Add(ttl),
	}
}

// Delete removes a single entry. No-op for absent keys.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Invalidate removes every entry whose key starts with prefix and
// returns the number removed. Called on writes to the data the cache
// fronts.
func (c *Cache) Invalidate(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Clear removes all entries. Lifetime hit/miss counters are preserved:
// the admin panel shows them as cumulative statistics across clears.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.mu.Unlock()
}

// Close stops the background sweep goroutine. Safe to call more than
// once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// GetStats returns the statistics snapshot for the admin UI. With no
// lookups recorded the hit rate is "0%", never a division error.
func (c *Cache) GetStats() Stats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()

	c.statsMu.Lock()
	hits, misses := c.hits, c.misses
	c.statsMu.Unlock()

	return Stats{
		Size:    size,
		Hits:    hits,
		Misses:  misses,
		HitRate: formatHitRate(hits, misses),
	}
}

// formatHitRate renders hits/(hits+misses) as a percentage string with
// one decimal place, e.g. "82.3%".
func formatHitRate(hits, misses int64) string {
	total := hits + misses
	if total == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.1f%%", float64(hits)/float64(total)*100.0)
}

// sweepLoop periodically removes expired entries.
func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep removes all expired entries.
func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}
}

func (c *Cache) recordHit() {
	c.statsMu.Lock()
	c.hits++
	c.statsMu.Unlock()
}

func (c *Cache) recordMiss() {
	c.statsMu.Lock()
	c.misses++
	c.statsMu.Unlock()
}

// GenerateKey creates a cache key from a method name and its parameters
// so queries with identical parameters share an entry.
func GenerateKey(method string, params interface{}) string {
	data, err := json.Marshal(params)
	if err != nil {
		// Fallback to simple string key
		return fmt.Sprintf("%s:%v", method, params)
	}
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%s:%x", method, hash[:16])
}
