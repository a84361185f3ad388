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

// Package config defines the configuration surface consumed from the
// external config loader. Only the options enumerated here are recognized.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EndpointConfig describes a single tool-provider endpoint as declared
// in configuration.
type EndpointConfig struct {
	Name       string   `yaml:"name"`
	Category   string   `yaml:"category"`
	Address    string   `yaml:"address"`
	Credential string   `yaml:"credential"` // opaque credential reference, never the secret itself
	Tools      []string `yaml:"tools"`
}

// Config holds every recognized engine option.
type Config struct {
	Endpoints []EndpointConfig `yaml:"endpoints"`

	// Cache
	CacheDefaultTTL time.Duration `yaml:"cache_default_ttl"`

	// Retry / fallback
	RetryMaxAttempts     int           `yaml:"retry_max_attempts"`
	FallbackMaxEndpoints int           `yaml:"fallback_max_endpoints"` // 0 means try all candidates
	BackoffBaseDelay     time.Duration `yaml:"backoff_base_delay"`
	BackoffCapDelay      time.Duration `yaml:"backoff_cap_delay"`

	// Endpoint health state machine
	HealthFailureThreshold  int `yaml:"health_failure_threshold"`
	HealthRecoveryThreshold int `yaml:"health_recovery_threshold"`

	// Sessions / tracing
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
	SessionTraceCap    int           `yaml:"session_trace_cap"`

	// Query processing
	OverallQueryDeadline time.Duration `yaml:"overall_query_deadline"`
}

// Default values applied by DefaultConfig. Vague relative-time defaults
// live in the timeparse package; everything tunable at runtime is here.
const (
	DefaultRetryMaxAttempts        = 3
	DefaultHealthFailureThreshold  = 3
	DefaultHealthRecoveryThreshold = 1
	DefaultSessionTraceCap         = 200
)

// DefaultConfig returns a Config with documented defaults and no endpoints.
func DefaultConfig() Config {
	return Config{
		CacheDefaultTTL:         5 * time.Minute,
		RetryMaxAttempts:        DefaultRetryMaxAttempts,
		FallbackMaxEndpoints:    0, // try all healthy candidates
		BackoffBaseDelay:        100 * time.Millisecond,
		BackoffCapDelay:         5 * time.Second,
		HealthFailureThreshold:  DefaultHealthFailureThreshold,
		HealthRecoveryThreshold: DefaultHealthRecoveryThreshold,
		SessionIdleTimeout:      30 * time.Minute,
		SessionTraceCap:         DefaultSessionTraceCap,
		OverallQueryDeadline:    30 * time.Second,
	}
}

// Parse decodes YAML configuration on top of the defaults.
func Parse(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("retry_max_attempts must be at least 1, got %d", c.RetryMaxAttempts)
	}
	if c.FallbackMaxEndpoints < 0 {
		return fmt.Errorf("fallback_max_endpoints must not be negative, got %d", c.FallbackMaxEndpoints)
	}
	if c.HealthFailureThreshold < 1 {
		return fmt.Errorf("health_failure_threshold must be at least 1, got %d", c.HealthFailureThreshold)
	}
	if c.HealthRecoveryThreshold < 1 {
		return fmt.Errorf("health_recovery_threshold must be at least 1, got %d", c.HealthRecoveryThreshold)
	}
	if c.SessionTraceCap < 1 {
		return fmt.Errorf("session_trace_cap must be at least 1, got %d", c.SessionTraceCap)
	}
	if c.BackoffBaseDelay <= 0 {
		return fmt.Errorf("backoff_base_delay must be positive, got %v", c.BackoffBaseDelay)
	}
	if c.BackoffCapDelay < c.BackoffBaseDelay {
		return fmt.Errorf("backoff_cap_delay %v is below backoff_base_delay %v", c.BackoffCapDelay, c.BackoffBaseDelay)
	}
	seen := make(map[string]bool, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		if ep.Name == "" {
			return fmt.Errorf("endpoint %d has no name", i)
		}
		if seen[ep.Name] {
			return fmt.Errorf("duplicate endpoint name %q", ep.Name)
		}
		seen[ep.Name] = true
		if ep.Address == "" {
			return fmt.Errorf("endpoint %q has no address", ep.Name)
		}
		if len(ep.Tools) == 0 {
			return fmt.Errorf("endpoint %q declares no tools", ep.Name)
		}
	}
	return nil
}
