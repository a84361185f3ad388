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
	"queryflow/core/executor"
)

// FailureKind classifies a query-level failure. Per-call failures never
// produce one; they are folded into a degraded Report instead.
type FailureKind string

const (
	// FailureIntentResolution: the external intent translator errored.
	FailureIntentResolution FailureKind = "INTENT_RESOLUTION_FAILED"

	// FailureDeadlineExceeded: the overall query deadline elapsed before
	// any useful partial result existed.
	FailureDeadlineExceeded FailureKind = "DEADLINE_EXCEEDED"

	// FailureRateLimited: the caller exceeded its query rate.
	FailureRateLimited FailureKind = "RATE_LIMITED"
)

// ToolResult is the per-tool slice of a Report.
type ToolResult struct {
	Tool    string                 `json:"tool"`
	Status  executor.Status        `json:"status"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	ErrKind executor.ErrKind       `json:"error_kind,omitempty"`
}

// Report is the structured answer to one query. A Report is always
// returned; Failed is set only for intent-resolution failures, rate
// limiting, or a deadline breach with nothing useful to show.
type Report struct {
	SessionID      string       `json:"session_id"`
	Summary        string       `json:"summary"`
	PerToolResults []ToolResult `json:"per_tool_results,omitempty"`
	Degraded       bool         `json:"degraded"`

	Failed      bool        `json:"failed,omitempty"`
	FailureKind FailureKind `json:"failure_kind,omitempty"`
}
