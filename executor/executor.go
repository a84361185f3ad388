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

// Package executor runs individual tool calls end to end: cache lookup,
// routed HTTP call, same-endpoint retries with capped jittered backoff,
// fallback across alternate endpoints, and trace recording.
package executor

import (
	"context"
	"log"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"queryflow/core/config"
	"queryflow/core/endpoint"
	"queryflow/core/router"
	"queryflow/core/trace"
)

// Prometheus metrics for tool-call execution.
var (
	promToolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryflow_tool_calls_total",
			Help: "Total number of tool calls by terminal status",
		},
		[]string{"tool", "status"},
	)
	promToolRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryflow_tool_retries_total",
			Help: "Total number of same-endpoint retries",
		},
		[]string{"tool"},
	)
	promToolFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryflow_tool_fallbacks_total",
			Help: "Total number of fallbacks to an alternate endpoint",
		},
		[]string{"tool"},
	)
	promCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryflow_cache_hits_total",
			Help: "Total number of tool calls served from cache",
		},
		[]string{"tool"},
	)
	promToolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queryflow_tool_call_duration_milliseconds",
			Help:    "End-to-end tool call duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"tool"},
	)
)

func init() {
	prometheus.MustRegister(promToolCalls)
	prometheus.MustRegister(promToolRetries)
	prometheus.MustRegister(promToolFallbacks)
	prometheus.MustRegister(promCacheHits)
	prometheus.MustRegister(promToolDuration)
}

// Phase is the executor's position in the attempt state machine.
// Transitions: Attempting -> Retrying (same endpoint) -> FallingBack
// (next endpoint) -> Exhausted. Tests assert on these rather than on
// wrapped errors.
type Phase string

const (
	PhaseAttempting  Phase = "ATTEMPTING"
	PhaseRetrying    Phase = "RETRYING"
	PhaseFallingBack Phase = "FALLING_BACK"
	PhaseExhausted   Phase = "EXHAUSTED"
)

// Executor drives single tool calls: cache check, routed network call,
// retry with capped jittered backoff, fallback across candidates, trace
// recording. Independent calls run without mutual exclusion; only the
// registry counters and the cache are shared state.
type Executor struct {
	router   *router.Router
	registry *endpoint.Registry
	recorder *trace.Recorder
	caller   Caller
	cache    Cache

	maxAttempts  int // total attempts per endpoint
	maxFallbacks int // additional endpoints after the primary, 0 = all
	baseDelay    time.Duration
	capDelay     time.Duration
	cacheTTL     time.Duration

	randMu sync.Mutex
	random *rand.Rand

	logger *log.Logger

	// phaseHook observes state-machine transitions; tests install it.
	phaseHook func(Phase)
}

// ExecOption configures the Executor.
type ExecOption func(*Executor)

// WithCaller sets the network caller.
func WithCaller(c Caller) ExecOption {
	return func(e *Executor) { e.caller = c }
}

// WithCache sets the result cache.
func WithCache(c Cache) ExecOption {
	return func(e *Executor) { e.cache = c }
}

// WithCacheTTL sets the TTL applied to stored results.
func WithCacheTTL(ttl time.Duration) ExecOption {
	return func(e *Executor) { e.cacheTTL = ttl }
}

// WithMaxAttempts sets total attempts per endpoint (minimum 1).
func WithMaxAttempts(n int) ExecOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithMaxFallbacks bounds how many alternate endpoints are tried after
// the primary. Zero means all remaining candidates.
func WithMaxFallbacks(n int) ExecOption {
	return func(e *Executor) {
		if n >= 0 {
			e.maxFallbacks = n
		}
	}
}

// WithBackoff sets the base and ceiling for exponential backoff delays.
func WithBackoff(base, ceiling time.Duration) ExecOption {
	return func(e *Executor) {
		if base > 0 {
			e.baseDelay = base
		}
		if ceiling >= base {
			e.capDelay = ceiling
		}
	}
}

// WithExecLogger sets the logger.
func WithExecLogger(l *log.Logger) ExecOption {
	return func(e *Executor) { e.logger = l }
}

// WithPhaseHook installs an observer for attempt state transitions.
func WithPhaseHook(hook func(Phase)) ExecOption {
	return func(e *Executor) { e.phaseHook = hook }
}

// New creates an Executor over the given router and trace recorder.
func New(rt *router.Router, recorder *trace.Recorder, opts ...ExecOption) *Executor {
	e := &Executor{
		router:       rt,
		registry:     rt.Registry(),
		recorder:     recorder,
		maxAttempts:  config.DefaultRetryMaxAttempts,
		maxFallbacks: 0,
		baseDelay:    100 * time.Millisecond,
		capDelay:     5 * time.Second,
		cacheTTL:     5 * time.Minute,
		random:       rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:       log.New(os.Stdout, "[EXECUTOR] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.caller == nil {
		e.caller = NewHTTPToolClient()
	}
	if e.cache == nil {
		e.cache = NewMemoryCache()
	}
	return e
}

// NewFromConfig creates an Executor tuned by configuration.
func NewFromConfig(cfg config.Config, rt *router.Router, recorder *trace.Recorder, opts ...ExecOption) *Executor {
	base := []ExecOption{
		WithMaxAttempts(cfg.RetryMaxAttempts),
		WithMaxFallbacks(cfg.FallbackMaxEndpoints),
		WithBackoff(cfg.BackoffBaseDelay, cfg.BackoffCapDelay),
		WithCacheTTL(cfg.CacheDefaultTTL),
	}
	return New(rt, recorder, append(base, opts...)...)
}

// Execute runs one tool call to completion. It always returns a
// CallResult; per-call errors never escape as Go errors.
func (e *Executor) Execute(ctx context.Context, call ToolCall) CallResult {
	start := time.Now()

	if call.SessionID != "" {
		e.recorder.Acquire(call.SessionID)
		defer e.recorder.Release(call.SessionID)
	}

	if !call.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, call.Deadline)
		defer cancel()
	}

	key := call.CacheKey()
	if key != "" {
		if entry, ok := e.cache.Get(ctx, key); ok {
			promCacheHits.WithLabelValues(call.Tool).Inc()
			promToolCalls.WithLabelValues(call.Tool, string(StatusCached)).Inc()
			return CallResult{
				Status:   StatusCached,
				Payload:  entry.Payload,
				Endpoint: entry.Endpoint,
				Latency:  time.Since(start),
			}
		}
	}

	selection, err := e.router.Pick(call.Tool)
	if err != nil {
		e.record(call, trace.KindError, map[string]interface{}{
			"tool":       call.Tool,
			"error_kind": string(ErrKindNoProvider),
			"error":      err.Error(),
		})
		promToolCalls.WithLabelValues(call.Tool, string(StatusFailed)).Inc()
		return CallResult{Status: StatusFailed, ErrKind: ErrKindNoProvider, Latency: time.Since(start)}
	}

	candidates := selection.Candidates
	if e.maxFallbacks > 0 && len(candidates) > e.maxFallbacks+1 {
		candidates = candidates[:e.maxFallbacks+1]
	}

	e.phase(PhaseAttempting)

	var attempts []Attempt
	var lastErr *CallError

candidateLoop:
	for ci, ep := range candidates {
		if ci > 0 {
			e.phase(PhaseFallingBack)
			promToolFallbacks.WithLabelValues(call.Tool).Inc()
			e.record(call, trace.KindToolFallback, map[string]interface{}{
				"tool": call.Tool,
				"from": candidates[ci-1].Name,
				"to":   ep.Name,
			})
		}

		for attempt := 1; attempt <= e.maxAttempts; attempt++ {
			if attempt > 1 {
				e.phase(PhaseRetrying)
				promToolRetries.WithLabelValues(call.Tool).Inc()
				e.record(call, trace.KindToolRetry, map[string]interface{}{
					"tool":     call.Tool,
					"endpoint": ep.Name,
					"attempt":  attempt,
				})
				if err := e.sleepBackoff(ctx, attempt-1); err != nil {
					lastErr = &CallError{Kind: ErrKindTimeout, Endpoint: ep.Name, Err: err}
					break candidateLoop
				}
			}

			attemptStart := time.Now()
			payload, callErr := e.caller.Call(ctx, ep, call)
			latency := time.Since(attemptStart)

			if callErr == nil {
				e.registry.MarkResult(ep.Name, true)
				if key != "" {
					e.cache.Put(ctx, key, &Entry{Payload: payload, Endpoint: ep.Name, InsertedAt: time.Now()}, e.cacheTTL)
				}
				e.record(call, trace.KindToolCall, map[string]interface{}{
					"tool":     call.Tool,
					"endpoint": ep.Name,
					"status":   string(StatusSuccess),
					"attempts": len(attempts) + 1,
					"degraded": selection.LastResort,
				})
				promToolCalls.WithLabelValues(call.Tool, string(StatusSuccess)).Inc()
				promToolDuration.WithLabelValues(call.Tool).Observe(float64(time.Since(start).Milliseconds()))
				return CallResult{
					Status:          StatusSuccess,
					Payload:         payload,
					Endpoint:        ep.Name,
					Latency:         time.Since(start),
					DegradedQuality: selection.LastResort,
				}
			}

			ce := classify(ep.Name, ErrKindUnreachable, callErr)
			lastErr = ce
			attempts = append(attempts, Attempt{
				Endpoint:  ep.Name,
				ErrKind:   ce.Kind,
				Error:     ce.Error(),
				LatencyMS: latency.Milliseconds(),
			})
			e.registry.MarkResult(ep.Name, false)
			e.logger.Printf("Tool %s attempt %d/%d on %s failed: %v", call.Tool, attempt, e.maxAttempts, ep.Name, ce)

			if ctx.Err() != nil {
				break candidateLoop
			}
			if !ce.Retryable() {
				// Endpoint-specific, not transient; move to the next candidate.
				continue candidateLoop
			}
		}
	}

	e.phase(PhaseExhausted)

	errKind := ErrKindUnreachable
	if lastErr != nil {
		errKind = lastErr.Kind
	}
	attemptHistory := make([]interface{}, 0, len(attempts))
	for _, a := range attempts {
		attemptHistory = append(attemptHistory, map[string]interface{}{
			"endpoint":   a.Endpoint,
			"error_kind": string(a.ErrKind),
			"error":      a.Error,
			"latency_ms": a.LatencyMS,
		})
	}
	e.record(call, trace.KindError, map[string]interface{}{
		"tool":       call.Tool,
		"error_kind": string(errKind),
		"attempts":   attemptHistory,
	})
	promToolCalls.WithLabelValues(call.Tool, string(StatusFailed)).Inc()
	promToolDuration.WithLabelValues(call.Tool).Observe(float64(time.Since(start).Milliseconds()))

	lastEndpoint := ""
	if len(attempts) > 0 {
		lastEndpoint = attempts[len(attempts)-1].Endpoint
	}
	return CallResult{
		Status:          StatusFailed,
		Endpoint:        lastEndpoint,
		Latency:         time.Since(start),
		ErrKind:         errKind,
		DegradedQuality: selection.LastResort,
	}
}

// sleepBackoff waits the exponential capped jittered delay before the
// given retry (1-based), honoring context cancellation.
func (e *Executor) sleepBackoff(ctx context.Context, retry int) error {
	delay := e.baseDelay
	for i := 1; i < retry; i++ {
		delay *= 2
		if delay >= e.capDelay {
			delay = e.capDelay
			break
		}
	}
	if delay > e.capDelay {
		delay = e.capDelay
	}

	// +/-10% jitter so concurrent sessions do not retry in lockstep.
	e.randMu.Lock()
	jitter := (e.random.Float64()*2 - 1) * 0.1 * float64(delay)
	e.randMu.Unlock()
	delay = time.Duration(float64(delay) + jitter)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// record appends a trace event when the call belongs to a session.
func (e *Executor) record(call ToolCall, kind trace.Kind, detail map[string]interface{}) {
	if call.SessionID == "" {
		return
	}
	e.recorder.Append(call.SessionID, kind, detail)
}

// phase notifies the test hook of a state transition.
func (e *Executor) phase(p Phase) {
	if e.phaseHook != nil {
		e.phaseHook(p)
	}
}
