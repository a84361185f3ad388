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
	"fmt"
)

// ErrKind classifies a failed tool call.
type ErrKind string

const (
	// ErrKindTimeout: the call exceeded its deadline.
	ErrKindTimeout ErrKind = "TIMEOUT"

	// ErrKindUnreachable: transport failure or server-side error.
	ErrKindUnreachable ErrKind = "UNREACHABLE"

	// ErrKindInvalidResponse: the endpoint answered with something the
	// engine could not interpret.
	ErrKindInvalidResponse ErrKind = "INVALID_RESPONSE"

	// ErrKindUnauthorized: the endpoint rejected the credential.
	ErrKindUnauthorized ErrKind = "UNAUTHORIZED"

	// ErrKindNoProvider: no registered endpoint declares the tool.
	// Fatal for the single call, never retried.
	ErrKindNoProvider ErrKind = "NO_PROVIDER"
)

// CallError is a classified tool-call failure against one endpoint.
type CallError struct {
	Kind     ErrKind
	Endpoint string
	Err      error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s against %s: %v", e.Kind, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("%s against %s", e.Kind, e.Endpoint)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same endpoint is worth another attempt.
// Timeouts and transport failures are transient; an endpoint that
// rejects the credential or returns garbage will keep doing so, so the
// executor falls back to the next candidate instead.
func (e *CallError) Retryable() bool {
	switch e.Kind {
	case ErrKindTimeout, ErrKindUnreachable:
		return true
	}
	return false
}

// classify wraps an error as a CallError, passing existing CallErrors
// through unchanged.
func classify(endpointName string, kind ErrKind, err error) *CallError {
	if ce, ok := err.(*CallError); ok {
		return ce
	}
	return &CallError{Kind: kind, Endpoint: endpointName, Err: err}
}
