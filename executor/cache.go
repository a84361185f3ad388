// Copyright 2025 QueryFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package executor

import (
	"context"
	"sync"
	"time"
)

// Entry is a cached tool-call payload.
type Entry struct {
	Payload    map[string]interface{} `json:"payload"`
	Endpoint   string                 `json:"endpoint"`
	InsertedAt time.Time              `json:"inserted_at"`
}

// Cache stores tool-call results keyed by ToolCall.CacheKey. A live
// entry is never returned past its TTL; writes supersede rather than
// merge. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, bool)
	Put(ctx context.Context, key string, entry *Entry, ttl time.Duration)
}

// MemoryCache is the in-process Cache. Expired entries are evicted
// lazily on lookup.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memEntry
}

type memEntry struct {
	entry     Entry
	expiresAt time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memEntry)}
}

// Get returns the live entry for key, evicting it if expired.
func (c *MemoryCache) Get(ctx context.Context, key string) (*Entry, bool) {
	c.mu.RLock()
	me, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(me.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Put may have
		// refreshed the entry.
		if cur, still := c.entries[key]; still && time.Now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	entry := me.entry
	return &entry, true
}

// Put stores an entry, superseding any previous value for the key.
func (c *MemoryCache) Put(ctx context.Context, key string, entry *Entry, ttl time.Duration) {
	if entry == nil || ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = memEntry{entry: *entry, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// Len reports the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
