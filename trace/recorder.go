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

// Package trace records per-session execution traces: LLM calls, tool
// calls, retries, fallbacks and errors. Traces are append-only and held
// in memory with a per-session size cap; sessions are retired on idle
// timeout or when their history exceeds the cap.
//
// Event order within a session reflects operation completion, not
// dispatch: concurrent tool calls append their events as they finish.
package trace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"queryflow/core/shared/logger"
)

// Kind classifies a trace event.
type Kind string

const (
	KindLLMCall      Kind = "LLM_CALL"
	KindToolCall     Kind = "TOOL_CALL"
	KindToolRetry    Kind = "TOOL_RETRY"
	KindToolFallback Kind = "TOOL_FALLBACK"
	KindError        Kind = "ERROR"
)

// Event is one structured record of an internal action.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id"`
	Kind      Kind                   `json:"kind"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

// SessionInfo is the read-only summary of a live session.
type SessionInfo struct {
	ID         string    `json:"id"`
	CallerID   string    `json:"caller_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	EventCount int       `json:"event_count"`
}

// session is the recorder-owned state for one caller session.
type session struct {
	id         string
	callerID   string
	createdAt  time.Time
	lastActive time.Time

	events   []Event // bounded ring, oldest dropped beyond cap
	appended int     // total events ever appended

	inflight      int  // calls currently referencing the session
	pendingRetire bool // retire once inflight drops to zero

	subscribers map[int]chan Event
	nextSubID   int
}

// Recorder owns all live sessions and their traces.
type Recorder struct {
	mu        sync.Mutex
	sessions  map[string]*session // by session ID
	byCaller  map[string]string   // caller ID -> live session ID
	traceCap  int
	idleAfter time.Duration

	log *logger.Logger
}

// subscriberBuffer is the per-subscriber channel depth. Slow subscribers
// drop events rather than stalling the recorder.
const subscriberBuffer = 64

// NewRecorder creates a Recorder. traceCap bounds each session's history;
// idleAfter is the inactivity window before a session is retired.
func NewRecorder(traceCap int, idleAfter time.Duration) *Recorder {
	return &Recorder{
		sessions:  make(map[string]*session),
		byCaller:  make(map[string]string),
		traceCap:  traceCap,
		idleAfter: idleAfter,
		log:       logger.New("trace"),
	}
}

// EnsureSession returns the live session ID for a caller, creating a
// fresh session (with a new identifier) if the caller has none.
func (r *Recorder) EnsureSession(callerID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byCaller[callerID]; ok {
		if s, live := r.sessions[id]; live && !s.pendingRetire {
			return id
		}
	}

	s := &session{
		id:          uuid.NewString(),
		callerID:    callerID,
		createdAt:   time.Now(),
		lastActive:  time.Now(),
		subscribers: make(map[int]chan Event),
	}
	r.sessions[s.id] = s
	r.byCaller[callerID] = s.id
	r.log.Info(s.id, "", "Session created", map[string]interface{}{"caller_id": callerID})
	return s.id
}

// Append records an event for a session. Events are append-only and
// time-ordered by the moment of appending. Appending beyond the trace
// cap schedules the session for retirement.
func (r *Recorder) Append(sessionID string, kind Kind, detail map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}

	ev := Event{
		Timestamp: time.Now(),
		SessionID: sessionID,
		Kind:      kind,
		Detail:    detail,
	}
	s.events = append(s.events, ev)
	if len(s.events) > r.traceCap {
		s.events = s.events[len(s.events)-r.traceCap:]
	}
	s.appended++
	s.lastActive = ev.Timestamp

	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// subscriber too slow, drop
		}
	}

	if s.appended > r.traceCap {
		r.scheduleRetireLocked(s, "trace cap exceeded")
	}
}

// Trace returns the ordered event history of a session.
func (r *Recorder) Trace(sessionID string) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown session %q", sessionID)
	}
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out, nil
}

// Sessions lists all live sessions.
func (r *Recorder) Sessions() []SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, SessionInfo{
			ID:         s.id,
			CallerID:   s.callerID,
			CreatedAt:  s.createdAt,
			LastActive: s.lastActive,
			EventCount: len(s.events),
		})
	}
	return out
}

// Subscribe returns a live feed of new events for a session plus a
// cancel function. The channel is closed when the session is retired or
// the subscriber cancels.
func (r *Recorder) Subscribe(sessionID string) (<-chan Event, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, nil, fmt.Errorf("unknown session %q", sessionID)
	}

	ch := make(chan Event, subscriberBuffer)
	subID := s.nextSubID
	s.nextSubID++
	s.subscribers[subID] = ch

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, live := r.sessions[sessionID]; live {
			if c, found := cur.subscribers[subID]; found {
				delete(cur.subscribers, subID)
				close(c)
			}
		}
	}
	return ch, cancel, nil
}

// Acquire marks a call as in-flight for the session. Retirement is
// deferred while any call holds a reference.
func (r *Recorder) Acquire(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.inflight++
		s.lastActive = time.Now()
	}
}

// Release drops an in-flight reference, completing any deferred
// retirement once the count reaches zero.
func (r *Recorder) Release(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	if s.inflight > 0 {
		s.inflight--
	}
	s.lastActive = time.Now()
	if s.pendingRetire && s.inflight == 0 {
		r.retireLocked(s)
	}
}

// StartJanitor launches a background goroutine retiring idle sessions at
// the given interval until ctx is cancelled.
func (r *Recorder) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.evictIdle()
			}
		}
	}()
}

// evictIdle retires every session idle beyond the configured window.
func (r *Recorder) evictIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-r.idleAfter)
	for _, s := range r.sessions {
		if s.lastActive.Before(cutoff) {
			r.scheduleRetireLocked(s, "idle timeout")
		}
	}
}

// scheduleRetireLocked retires a session now, or defers retirement while
// in-flight calls still reference it. Caller holds r.mu.
func (r *Recorder) scheduleRetireLocked(s *session, reason string) {
	if s.inflight > 0 {
		s.pendingRetire = true
		return
	}
	r.log.Info(s.id, "", "Session retired", map[string]interface{}{
		"caller_id": s.callerID,
		"reason":    reason,
		"events":    s.appended,
	})
	r.retireLocked(s)
}

// retireLocked removes the session and closes its subscriber feeds.
// Caller holds r.mu.
func (r *Recorder) retireLocked(s *session) {
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
	delete(r.sessions, s.id)
	if r.byCaller[s.callerID] == s.id {
		delete(r.byCaller, s.callerID)
	}
}
