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

package endpoint

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"queryflow/core/config"
)

// Registry holds the configured tool-provider endpoints and owns their
// health state. Endpoints are registered once at startup and never
// deleted at runtime, only marked unreachable.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	order     []string // registration order, keeps Lookup deterministic

	failureThreshold  int
	recoveryThreshold int

	logger *log.Logger
}

// RegistryOption configures the Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger for the registry.
func WithLogger(l *log.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithFailureThreshold sets how many consecutive failures move an
// endpoint one health state down.
func WithFailureThreshold(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.failureThreshold = n
		}
	}
}

// WithRecoveryThreshold sets how many consecutive successes return a
// non-healthy endpoint to HEALTHY.
func WithRecoveryThreshold(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.recoveryThreshold = n
		}
	}
}

// NewRegistry creates an empty registry with the given options.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		endpoints:         make(map[string]*Endpoint),
		failureThreshold:  config.DefaultHealthFailureThreshold,
		recoveryThreshold: config.DefaultHealthRecoveryThreshold,
		logger:            log.New(os.Stdout, "[REGISTRY] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRegistryFromConfig creates a registry pre-populated with the
// configured endpoints.
func NewRegistryFromConfig(cfg config.Config, opts ...RegistryOption) (*Registry, error) {
	opts = append([]RegistryOption{
		WithFailureThreshold(cfg.HealthFailureThreshold),
		WithRecoveryThreshold(cfg.HealthRecoveryThreshold),
	}, opts...)
	r := NewRegistry(opts...)
	for _, ec := range cfg.Endpoints {
		ep := &Endpoint{
			Name:       ec.Name,
			Category:   ec.Category,
			Address:    ec.Address,
			Credential: ec.Credential,
			Tools:      append([]string(nil), ec.Tools...),
		}
		if err := r.Register(ep); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an endpoint to the registry. New endpoints start HEALTHY.
func (r *Registry) Register(ep *Endpoint) error {
	if ep.Name == "" {
		return fmt.Errorf("endpoint has no name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.endpoints[ep.Name]; exists {
		return fmt.Errorf("endpoint %q already registered", ep.Name)
	}
	ep.State = Healthy
	r.endpoints[ep.Name] = ep
	r.order = append(r.order, ep.Name)
	r.logger.Printf("Registered endpoint %s (%s) serving %d tools", ep.Name, ep.Address, len(ep.Tools))
	return nil
}

// Lookup returns snapshot copies of every endpoint declaring the given
// tool, in registration order. An empty slice means no provider.
func (r *Registry) Lookup(tool string) []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Endpoint
	for _, name := range r.order {
		ep := r.endpoints[name]
		if ep.ServesTool(tool) {
			out = append(out, *ep)
		}
	}
	return out
}

// Get returns a snapshot copy of the named endpoint.
func (r *Registry) Get(name string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[name]
	if !ok {
		return Endpoint{}, false
	}
	return *ep, true
}

// List returns snapshot copies of all endpoints in registration order.
func (r *Registry) List() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Endpoint, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.endpoints[name])
	}
	return out
}

// Health returns the current health state of the named endpoint.
func (r *Registry) Health(name string) (HealthState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[name]
	if !ok {
		return "", fmt.Errorf("unknown endpoint %q", name)
	}
	return ep.State, nil
}

// MarkResult records the outcome of a real call against an endpoint and
// drives the health state machine:
//
//	HEALTHY --(failureThreshold consecutive failures)--> DEGRADED
//	DEGRADED --(failureThreshold more)--> UNREACHABLE
//
// Any success resets the failure count; recoveryThreshold consecutive
// successes return a non-healthy endpoint to HEALTHY.
func (r *Registry) MarkResult(name string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.endpoints[name]
	if !ok {
		return
	}
	ep.LastCheck = time.Now()

	if success {
		ep.ConsecutiveFailures = 0
		ep.ConsecutiveSuccesses++
		if ep.State != Healthy && ep.ConsecutiveSuccesses >= r.recoveryThreshold {
			r.logger.Printf("Endpoint %s recovered: %s -> %s", name, ep.State, Healthy)
			ep.State = Healthy
		}
		return
	}

	ep.ConsecutiveSuccesses = 0
	ep.ConsecutiveFailures++
	ep.LastFailure = ep.LastCheck

	switch ep.State {
	case Healthy:
		if ep.ConsecutiveFailures >= r.failureThreshold {
			r.logger.Printf("Endpoint %s degraded after %d consecutive failures", name, ep.ConsecutiveFailures)
			ep.State = Degraded
			ep.ConsecutiveFailures = 0
		}
	case Degraded:
		if ep.ConsecutiveFailures >= r.failureThreshold {
			r.logger.Printf("Endpoint %s unreachable after %d more consecutive failures", name, ep.ConsecutiveFailures)
			ep.State = Unreachable
			ep.ConsecutiveFailures = 0
		}
	case Unreachable:
		// Already at the bottom; keep counting for diagnostics.
	}
}

// PromoteForRetrial moves an UNREACHABLE endpoint back to DEGRADED so the
// router will offer it real traffic again. Used by health probes; a no-op
// for endpoints in any other state.
func (r *Registry) PromoteForRetrial(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.endpoints[name]
	if !ok || ep.State != Unreachable {
		return
	}
	r.logger.Printf("Endpoint %s promoted for retrial: %s -> %s", name, Unreachable, Degraded)
	ep.State = Degraded
	ep.ConsecutiveFailures = 0
	ep.LastCheck = time.Now()
}
