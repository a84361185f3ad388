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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Status tags the outcome of a tool call.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusCached  Status = "CACHED"
)

// ToolCall is a request for a named capability with concrete parameters.
type ToolCall struct {
	Tool      string
	Params    map[string]interface{}
	SessionID string
	Deadline  time.Time // zero means no per-call deadline beyond ctx
}

// CacheKey derives the idempotency key for the call. It is a pure
// function of the tool name and normalized parameters: encoding/json
// sorts map keys, so semantically equal parameter maps produce the same
// key regardless of construction order. Calls whose parameters cannot
// be serialized have no key and are never cached; they still execute.
func (c ToolCall) CacheKey() string {
	params, err := json.Marshal(c.Params)
	if err != nil {
		return ""
	}
	h := sha256.New()
	h.Write([]byte(c.Tool))
	h.Write([]byte{0})
	h.Write(params)
	return hex.EncodeToString(h.Sum(nil))
}

// CallResult is the outcome of executing one ToolCall.
type CallResult struct {
	Status   Status
	Payload  map[string]interface{}
	Endpoint string // endpoint that produced the payload
	Latency  time.Duration
	ErrKind  ErrKind // set when Status is FAILED

	// DegradedQuality marks results obtained through a last-resort
	// selection of unreachable endpoints.
	DegradedQuality bool
}

// Attempt records one executed attempt for the trace history.
type Attempt struct {
	Endpoint  string  `json:"endpoint"`
	ErrKind   ErrKind `json:"error_kind,omitempty"`
	Error     string  `json:"error,omitempty"`
	LatencyMS int64   `json:"latency_ms"`
}
