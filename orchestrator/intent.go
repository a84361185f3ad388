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
	"context"
)

// IntentKind tags the translator's decision so the orchestrator handles
// each case exhaustively, without runtime type inspection.
type IntentKind string

const (
	// IntentToolInvocations: the query maps to one or more tool calls.
	IntentToolInvocations IntentKind = "TOOL_INVOCATIONS"

	// IntentPlainAnswer: no tool call is warranted; Text is the answer.
	IntentPlainAnswer IntentKind = "PLAIN_ANSWER"

	// IntentUnresolvable: the translator could not map the query.
	IntentUnresolvable IntentKind = "UNRESOLVABLE"
)

// ToolInvocation is one proposed tool call. DependsOn names the ID of
// another invocation whose output feeds this one's input; empty means
// the invocation is independent and may run concurrently.
type ToolInvocation struct {
	ID        string                 `json:"id"`
	Tool      string                 `json:"tool"`
	Params    map[string]interface{} `json:"params"`
	DependsOn string                 `json:"depends_on,omitempty"`
}

// Intent is the translator's structured decision.
type Intent struct {
	Kind        IntentKind
	Invocations []ToolInvocation // set when Kind is IntentToolInvocations
	Text        string           // set when Kind is IntentPlainAnswer
}

// HistoryTurn is one prior exchange passed to the translator as context.
type HistoryTurn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// TranslateRequest carries the rewritten query plus a bounded window of
// the session's conversation history.
type TranslateRequest struct {
	Query   string
	History []HistoryTurn
}

// IntentTranslator is the external natural-language-to-intent
// collaborator. Given a prompt and conversation context it produces a
// structured intent; it may fail with a provider error, which the
// orchestrator surfaces as IntentResolutionFailed.
type IntentTranslator interface {
	Translate(ctx context.Context, req TranslateRequest) (*Intent, error)
}
