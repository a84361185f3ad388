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

// Package router selects tool-provider endpoints for tool calls. It
// applies health filtering on top of the endpoint registry and
// distributes load across equally healthy candidates with round-robin.
package router

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"queryflow/core/endpoint"
)

// ErrNoProvider is returned when no registered endpoint declares the
// requested tool.
type ErrNoProvider struct {
	Tool string
}

func (e *ErrNoProvider) Error() string {
	return fmt.Sprintf("no provider for tool %q", e.Tool)
}

// Selection is a ranked list of candidate endpoints for one tool call.
// The first entry is the primary; the rest are fallbacks in order.
type Selection struct {
	Candidates []endpoint.Endpoint

	// LastResort is set when every candidate is UNREACHABLE and the
	// router had to offer them anyway. Results obtained through such a
	// selection are flagged as degraded quality in the trace.
	LastResort bool
}

// Router picks endpoints for tool calls and runs health probes.
type Router struct {
	registry *endpoint.Registry

	mu       sync.Mutex
	rrIndex  map[string]uint64 // per-tool round-robin counters
	probeTTL time.Duration

	httpClient *http.Client
	logger     *log.Logger
}

// Option configures the Router.
type Option func(*Router)

// WithLogger sets the logger for the router.
func WithLogger(l *log.Logger) Option {
	return func(r *Router) {
		r.logger = l
	}
}

// WithProbeTimeout bounds each synthetic health probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.probeTTL = d
		}
	}
}

// WithHTTPClient replaces the probe HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Router) {
		r.httpClient = c
	}
}

// New creates a Router over the given registry.
func New(registry *endpoint.Registry, opts ...Option) *Router {
	r := &Router{
		registry: registry,
		rrIndex:  make(map[string]uint64),
		probeTTL: 5 * time.Second,
		logger:   log.New(os.Stdout, "[ROUTER] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.httpClient == nil {
		r.httpClient = &http.Client{Timeout: r.probeTTL}
	}
	return r
}

// Registry returns the underlying endpoint registry.
func (r *Router) Registry() *endpoint.Registry {
	return r.registry
}

// Pick returns the ranked candidate list for a tool. Policy:
//
//  1. HEALTHY candidates first, rotated round-robin per tool.
//  2. DEGRADED candidates after them, in registration order.
//  3. UNREACHABLE candidates are excluded entirely, unless nothing else
//     serves the tool; then they are offered least-recently-failed first
//     and the selection is marked LastResort.
func (r *Router) Pick(tool string) (Selection, error) {
	candidates := r.registry.Lookup(tool)
	if len(candidates) == 0 {
		return Selection{}, &ErrNoProvider{Tool: tool}
	}

	var healthy, degraded, unreachable []endpoint.Endpoint
	for _, ep := range candidates {
		switch ep.State {
		case endpoint.Healthy:
			healthy = append(healthy, ep)
		case endpoint.Degraded:
			degraded = append(degraded, ep)
		default:
			unreachable = append(unreachable, ep)
		}
	}

	if len(healthy) == 0 && len(degraded) == 0 {
		// Last resort: least-recently-failed unreachable endpoint first.
		sort.SliceStable(unreachable, func(i, j int) bool {
			return unreachable[i].LastFailure.Before(unreachable[j].LastFailure)
		})
		r.logger.Printf("All %d candidates for tool %q are unreachable, routing as last resort", len(unreachable), tool)
		return Selection{Candidates: unreachable, LastResort: true}, nil
	}

	ranked := append(r.rotate(tool, healthy), degraded...)
	return Selection{Candidates: ranked}, nil
}

// rotate applies the per-tool round-robin offset to equally healthy
// candidates so load spreads across them.
func (r *Router) rotate(tool string, eps []endpoint.Endpoint) []endpoint.Endpoint {
	if len(eps) < 2 {
		return eps
	}
	r.mu.Lock()
	index := r.rrIndex[tool]
	r.rrIndex[tool] = index + 1
	r.mu.Unlock()

	offset := int(index % uint64(len(eps)))
	rotated := make([]endpoint.Endpoint, 0, len(eps))
	rotated = append(rotated, eps[offset:]...)
	rotated = append(rotated, eps[:offset]...)
	return rotated
}

// Probe performs a lightweight synthetic call (GET {address}/health)
// against the named endpoint. A passing probe promotes an UNREACHABLE
// endpoint back to DEGRADED so real traffic can retry it.
func (r *Router) Probe(ctx context.Context, name string) bool {
	ep, ok := r.registry.Get(name)
	if !ok {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.probeTTL)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, ep.Address+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			r.logger.Printf("Error closing probe response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return false
	}
	if ep.State == endpoint.Unreachable {
		r.registry.PromoteForRetrial(name)
	}
	return true
}

// StartPeriodicProbe launches a background goroutine that probes every
// UNREACHABLE endpoint at the given interval until ctx is cancelled.
func (r *Router) StartPeriodicProbe(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				promoted := 0
				for _, ep := range r.registry.List() {
					if ep.State != endpoint.Unreachable {
						continue
					}
					if r.Probe(ctx, ep.Name) {
						promoted++
					}
				}
				if promoted > 0 {
					r.logger.Printf("Health probe promoted %d endpoints for retrial", promoted)
				}
			}
		}
	}()
}
