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
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// redisKeyPrefix namespaces cache entries so the engine can share a
// Redis instance with other components.
const redisKeyPrefix = "queryflow:cache:"

// RedisCache externalizes the result cache to Redis so entries survive
// process restarts and can be shared across engine instances. Redis
// owns TTL expiry; a miss and an expired entry are indistinguishable.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a cache backed by the given Redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get fetches and decodes the entry for key. Decode failures count as
// misses: a corrupt entry must never short-circuit a real call.
func (c *RedisCache) Get(ctx context.Context, key string) (*Entry, bool) {
	data, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Printf("[CACHE] Redis get failed for %s: %v", key, err)
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		log.Printf("[CACHE] Discarding undecodable cache entry %s: %v", key, err)
		return nil, false
	}
	return &entry, true
}

// Put stores the entry with its TTL. Write failures are logged and
// swallowed; caching is best effort.
func (c *RedisCache) Put(ctx context.Context, key string, entry *Entry, ttl time.Duration) {
	if entry == nil || ttl <= 0 {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("[CACHE] Failed to encode cache entry %s: %v", key, err)
		return
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, data, ttl).Err(); err != nil {
		log.Printf("[CACHE] Redis set failed for %s: %v", key, err)
	}
}
