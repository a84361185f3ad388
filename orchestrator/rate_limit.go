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

package orchestrator

import (
	"sync"
	"time"
)

// tokenBucket is a simple token bucket refilled continuously over time.
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func (b *tokenBucket) tryAcquire(now time.Time) bool {
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// CallerLimiter rate-limits queries per opaque caller identity. The
// caller identity is used for limiting and trace attribution only; the
// engine performs no authentication.
type CallerLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	rate    float64
	burst   float64
}

// NewCallerLimiter creates a limiter allowing rate queries per second
// with the given burst per caller. A nil limiter allows everything.
func NewCallerLimiter(rate, burst float64) *CallerLimiter {
	return &CallerLimiter{
		buckets: make(map[string]*tokenBucket),
		rate:    rate,
		burst:   burst,
	}
}

// Allow reports whether the caller may issue a query right now.
func (l *CallerLimiter) Allow(callerID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[callerID]
	if !ok {
		b = &tokenBucket{
			tokens:     l.burst,
			maxTokens:  l.burst,
			refillRate: l.rate,
			lastRefill: time.Now(),
		}
		l.buckets[callerID] = b
	}
	return b.tryAcquire(time.Now())
}
