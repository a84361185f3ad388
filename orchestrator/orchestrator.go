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

// Package orchestrator turns natural-language queries into executed tool
// calls. It owns the query pipeline: rate limiting, session resolution,
// relative-time rewriting, intent translation, parallel execution of
// independent invocations, and report assembly.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"queryflow/core/config"
	"queryflow/core/executor"
	"queryflow/core/shared/logger"
	"queryflow/core/timeparse"
	"queryflow/core/trace"
)

// Prometheus metrics for query processing.
var (
	promQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryflow_queries_total",
			Help: "Total number of processed queries by outcome",
		},
		[]string{"outcome"},
	)
	promQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queryflow_query_duration_milliseconds",
			Help:    "End-to-end query processing duration in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(promQueries)
	prometheus.MustRegister(promQueryDuration)
}

// historyWindow bounds the conversation context handed to the intent
// translator.
const historyWindow = 10

// Orchestrator is the top-level query entry point. It rewrites relative
// time phrases, asks the external intent translator which tools to call,
// drives the calls through the executor (independent proposals in
// parallel, dependent ones sequentially) and assembles a Report.
type Orchestrator struct {
	translator IntentTranslator
	exec       *executor.Executor
	recorder   *trace.Recorder
	limiter    *CallerLimiter

	deadline time.Duration
	now      func() time.Time // injectable for time-phrase tests

	histMu  sync.Mutex
	history map[string][]HistoryTurn // per session, bounded window

	log *logger.Logger
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithDeadline sets the overall per-query deadline.
func WithDeadline(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.deadline = d
		}
	}
}

// WithLimiter installs a per-caller rate limiter.
func WithLimiter(l *CallerLimiter) Option {
	return func(o *Orchestrator) { o.limiter = l }
}

// WithClock injects the reference instant source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an Orchestrator.
func New(translator IntentTranslator, exec *executor.Executor, recorder *trace.Recorder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		translator: translator,
		exec:       exec,
		recorder:   recorder,
		deadline:   30 * time.Second,
		now:        time.Now,
		history:    make(map[string][]HistoryTurn),
		log:        logger.New("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewFromConfig creates an Orchestrator tuned by configuration.
func NewFromConfig(cfg config.Config, translator IntentTranslator, exec *executor.Executor, recorder *trace.Recorder, opts ...Option) *Orchestrator {
	return New(translator, exec, recorder, append([]Option{WithDeadline(cfg.OverallQueryDeadline)}, opts...)...)
}

// ProcessQuery resolves a natural-language query into tool calls and
// returns a structured Report. sessionID may be empty; the caller's
// live session is used or a fresh one created. A Report is always
// returned, never a bare error.
func (o *Orchestrator) ProcessQuery(ctx context.Context, query, sessionID, callerID string) *Report {
	start := time.Now()

	if !o.limiter.Allow(callerID) {
		promQueries.WithLabelValues("rate_limited").Inc()
		return &Report{
			Summary:     "query rejected: rate limit exceeded",
			Failed:      true,
			FailureKind: FailureRateLimited,
		}
	}

	sid := o.resolveSession(sessionID, callerID)
	o.recorder.Acquire(sid)
	defer o.recorder.Release(sid)

	ctx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	// Best-effort rewrite of embedded relative-time phrases; anything
	// unrecognized passes through to the translator untouched.
	rewritten := timeparse.RewriteQuery(query, o.now())
	if rewritten != query {
		o.log.Debug(sid, "", "Rewrote relative time phrases", map[string]interface{}{
			"original":  query,
			"rewritten": rewritten,
		})
	}

	intent, err := o.translate(ctx, sid, rewritten)
	if err != nil {
		o.recorder.Append(sid, trace.KindError, map[string]interface{}{
			"stage": "intent",
			"error": err.Error(),
		})
		o.log.ErrorWithErr(sid, "", "Intent resolution failed", err, nil)
		promQueries.WithLabelValues("intent_failed").Inc()
		return &Report{
			SessionID:   sid,
			Summary:     "unable to resolve the query into an action",
			Failed:      true,
			FailureKind: FailureIntentResolution,
		}
	}

	var report *Report
	switch intent.Kind {
	case IntentPlainAnswer:
		report = &Report{SessionID: sid, Summary: intent.Text}
	case IntentUnresolvable:
		report = &Report{
			SessionID: sid,
			Summary:   "the query could not be mapped to any available tool",
			Degraded:  true,
		}
	case IntentToolInvocations:
		report = o.runInvocations(ctx, sid, intent.Invocations)
	default:
		report = &Report{
			SessionID: sid,
			Summary:   fmt.Sprintf("unsupported intent kind %q", intent.Kind),
			Degraded:  true,
		}
	}

	o.appendHistory(sid, HistoryTurn{Role: "user", Content: query})
	o.appendHistory(sid, HistoryTurn{Role: "assistant", Content: report.Summary})

	outcome := "ok"
	if report.Failed {
		outcome = "failed"
	} else if report.Degraded {
		outcome = "degraded"
	}
	promQueries.WithLabelValues(outcome).Inc()
	promQueryDuration.WithLabelValues(outcome).Observe(float64(time.Since(start).Milliseconds()))
	return report
}

// GetTrace returns the ordered trace of a session.
func (o *Orchestrator) GetTrace(sessionID string) ([]trace.Event, error) {
	return o.recorder.Trace(sessionID)
}

// SubscribeTrace returns a live feed of a session's new trace events.
func (o *Orchestrator) SubscribeTrace(sessionID string) (<-chan trace.Event, func(), error) {
	return o.recorder.Subscribe(sessionID)
}

// resolveSession maps the supplied session ID to a live session,
// falling back to the caller's session (created on demand).
func (o *Orchestrator) resolveSession(sessionID, callerID string) string {
	if sessionID != "" {
		if _, err := o.recorder.Trace(sessionID); err == nil {
			return sessionID
		}
	}
	return o.recorder.EnsureSession(callerID)
}

// translate invokes the external intent collaborator with the bounded
// conversation window and records the LLM call in the trace.
func (o *Orchestrator) translate(ctx context.Context, sid, query string) (*Intent, error) {
	o.recorder.Append(sid, trace.KindLLMCall, map[string]interface{}{
		"stage": "intent",
		"query": query,
	})
	intent, err := o.translator.Translate(ctx, TranslateRequest{
		Query:   query,
		History: o.historyFor(sid),
	})
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, fmt.Errorf("translator returned no intent")
	}
	return intent, nil
}

// invocationResult pairs an invocation with its executed result.
type invocationResult struct {
	inv    ToolInvocation
	result executor.CallResult
	ran    bool // false when skipped because its dependency failed
}

// runInvocations executes the proposed tool calls: independent ones
// concurrently, dependent ones sequentially after their dependency.
// Dependents of a failed call are not executed; they surface as FAILED
// with the dependency's error kind.
func (o *Orchestrator) runInvocations(ctx context.Context, sid string, invs []ToolInvocation) *Report {
	// Assign IDs where the translator omitted them and index children.
	ids := make(map[string]int, len(invs))
	for i := range invs {
		if invs[i].ID == "" {
			invs[i].ID = fmt.Sprintf("call-%d", i)
		}
		ids[invs[i].ID] = i
	}
	children := make(map[int][]int)
	var roots []int
	for i, inv := range invs {
		if inv.DependsOn == "" {
			roots = append(roots, i)
			continue
		}
		parent, ok := ids[inv.DependsOn]
		if !ok || parent == i {
			// Unknown or self dependency; treat as independent.
			roots = append(roots, i)
			continue
		}
		children[parent] = append(children[parent], i)
	}

	results := make([]invocationResult, len(invs))
	var wg sync.WaitGroup

	var run func(idx int, feed map[string]interface{}, depFailed bool)
	run = func(idx int, feed map[string]interface{}, depFailed bool) {
		defer wg.Done()
		inv := invs[idx]

		if depFailed {
			results[idx] = invocationResult{inv: inv, ran: false}
			for _, child := range children[idx] {
				wg.Add(1)
				go run(child, nil, true)
			}
			return
		}

		call := executor.ToolCall{
			Tool:      inv.Tool,
			Params:    mergeParams(inv.Params, feed),
			SessionID: sid,
		}
		res := o.exec.Execute(ctx, call)
		results[idx] = invocationResult{inv: inv, result: res, ran: true}

		failed := res.Status == executor.StatusFailed
		for _, child := range children[idx] {
			wg.Add(1)
			go run(child, res.Payload, failed)
		}
	}

	for _, idx := range roots {
		wg.Add(1)
		go run(idx, nil, false)
	}
	wg.Wait()

	return o.assemble(ctx, sid, results)
}

// assemble folds the executed results into a Report, preferring partial
// success over all-or-nothing failure.
func (o *Orchestrator) assemble(ctx context.Context, sid string, results []invocationResult) *Report {
	report := &Report{SessionID: sid}
	succeeded := 0
	failed := 0

	for _, r := range results {
		tr := ToolResult{Tool: r.inv.Tool}
		switch {
		case !r.ran:
			tr.Status = executor.StatusFailed
			tr.ErrKind = executor.ErrKindUnreachable
			failed++
			report.Degraded = true
		case r.result.Status == executor.StatusFailed:
			tr.Status = executor.StatusFailed
			tr.ErrKind = r.result.ErrKind
			failed++
			report.Degraded = true
		default:
			tr.Status = r.result.Status
			tr.Payload = r.result.Payload
			succeeded++
			if r.result.DegradedQuality {
				report.Degraded = true
			}
		}
		report.PerToolResults = append(report.PerToolResults, tr)
	}

	if succeeded == 0 && ctx.Err() == context.DeadlineExceeded {
		report.Failed = true
		report.FailureKind = FailureDeadlineExceeded
		report.Summary = "query deadline exceeded before any tool call completed"
		return report
	}

	switch {
	case failed == 0:
		report.Summary = fmt.Sprintf("all %d tool calls completed", len(results))
	case succeeded == 0:
		report.Summary = fmt.Sprintf("all %d tool calls failed", len(results))
	default:
		report.Summary = fmt.Sprintf("%d of %d tool calls completed; results are partial", succeeded, len(results))
	}
	return report
}

// historyFor returns the session's bounded conversation window.
func (o *Orchestrator) historyFor(sid string) []HistoryTurn {
	o.histMu.Lock()
	defer o.histMu.Unlock()
	turns := o.history[sid]
	out := make([]HistoryTurn, len(turns))
	copy(out, turns)
	return out
}

// appendHistory records one turn, trimming beyond the window.
func (o *Orchestrator) appendHistory(sid string, turn HistoryTurn) {
	o.histMu.Lock()
	defer o.histMu.Unlock()
	turns := append(o.history[sid], turn)
	if len(turns) > historyWindow {
		turns = turns[len(turns)-historyWindow:]
	}
	o.history[sid] = turns
}

// mergeParams overlays the dependency's output onto the invocation's own
// parameters; explicit parameters win.
func mergeParams(own, feed map[string]interface{}) map[string]interface{} {
	if len(feed) == 0 {
		return own
	}
	merged := make(map[string]interface{}, len(own)+len(feed))
	for k, v := range feed {
		merged[k] = v
	}
	for k, v := range own {
		merged[k] = v
	}
	return merged
}
