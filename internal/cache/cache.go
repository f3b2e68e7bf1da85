// Package cache provides a TTL keyed cache shared across request handlers.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Entry is one cached value. Data is immutable once written; refreshes
// overwrite the entry wholesale.
type Entry struct {
	Data      any
	Timestamp time.Time
}

// IsValid reports whether the entry is fresh for the given TTL.
// A nil entry is never valid.
func IsValid(e *Entry, ttl time.Duration) bool {
	if e == nil {
		return false
	}
	return time.Since(e.Timestamp) < ttl
}

// Key builds a deterministic cache key from request parameters.
func Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

// Cache is a mutex-guarded TTL map. Expired entries are dropped lazily on
// read and periodically by the sweeper, so the map stays bounded even for
// keys that are never read again.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	ttl     time.Duration
}

// New creates a Cache with the given TTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		entries: make(map[string]*Entry),
		ttl:     ttl,
	}
}

// Get returns the cached value if present and fresh.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e := c.entries[key]
	c.mu.RUnlock()

	if !IsValid(e, c.ttl) {
		if e != nil {
			c.Delete(key)
		}
		return nil, false
	}
	return e.Data, true
}

// Put stores a value, replacing any previous entry for the key.
func (c *Cache) Put(key string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &Entry{Data: data, Timestamp: time.Now()}
}

// Delete removes a key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len reports the number of stored entries, including stale ones not yet
// swept.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// StartSweeper runs a background goroutine that periodically evicts
// expired entries until ctx is cancelled.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed := c.sweep()
				if removed > 0 {
					slog.Debug("cache sweeper evicted entries", "count", removed)
				}
			case <-ctx.Done():
				slog.Info("cache sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (c *Cache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if !IsValid(e, c.ttl) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}
