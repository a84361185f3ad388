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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"queryflow/core/endpoint"
)

// Caller performs one tool call against one endpoint. Implementations
// return a *CallError so the executor can classify and route failures.
type Caller interface {
	Call(ctx context.Context, ep endpoint.Endpoint, call ToolCall) (map[string]interface{}, error)
}

// HTTPToolClient calls tool-provider endpoints over HTTP. The wire
// contract is POST {address}/tools/call with a JSON body; providers
// answer {"success": bool, "data": {...}, "error": "..."}.
type HTTPToolClient struct {
	httpClient *http.Client
}

// HTTPToolClientOption configures the client.
type HTTPToolClientOption func(*HTTPToolClient)

// WithToolHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithToolHTTPClient(c *http.Client) HTTPToolClientOption {
	return func(t *HTTPToolClient) {
		t.httpClient = c
	}
}

// NewHTTPToolClient creates a tool client with pooled connections.
func NewHTTPToolClient(opts ...HTTPToolClientOption) *HTTPToolClient {
	t := &HTTPToolClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second, // tool calls can be slow; per-call deadlines cut this short
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// toolCallRequest is the wire request body.
type toolCallRequest struct {
	Tool       string                 `json:"tool"`
	Parameters map[string]interface{} `json:"parameters"`
	SessionID  string                 `json:"session_id,omitempty"`
}

// toolCallResponse is the wire response body.
type toolCallResponse struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data"`
	Error   string                 `json:"error"`
}

// Call executes the tool call and classifies every failure mode.
func (t *HTTPToolClient) Call(ctx context.Context, ep endpoint.Endpoint, call ToolCall) (map[string]interface{}, error) {
	body, err := json.Marshal(toolCallRequest{
		Tool:       call.Tool,
		Parameters: call.Params,
		SessionID:  call.SessionID,
	})
	if err != nil {
		return nil, &CallError{Kind: ErrKindInvalidResponse, Endpoint: ep.Name, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	url := ep.Address + "/tools/call"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &CallError{Kind: ErrKindUnreachable, Endpoint: ep.Name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if ep.Credential != "" {
		// Opaque credential reference; the provider resolves it.
		req.Header.Set("X-Credential-Ref", ep.Credential)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, &CallError{Kind: transportErrKind(ctx, err), Endpoint: ep.Name, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			// Nothing actionable; payload already consumed or abandoned.
			_ = err
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CallError{Kind: transportErrKind(ctx, err), Endpoint: ep.Name, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &CallError{Kind: ErrKindUnauthorized, Endpoint: ep.Name, Err: fmt.Errorf("endpoint returned status %d", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return nil, &CallError{Kind: ErrKindUnreachable, Endpoint: ep.Name, Err: fmt.Errorf("endpoint returned status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, &CallError{Kind: ErrKindInvalidResponse, Endpoint: ep.Name, Err: fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, respBody)}
	}

	var parsed toolCallResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &CallError{Kind: ErrKindInvalidResponse, Endpoint: ep.Name, Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if !parsed.Success {
		msg := parsed.Error
		if msg == "" {
			msg = "endpoint reported failure without detail"
		}
		return nil, &CallError{Kind: ErrKindInvalidResponse, Endpoint: ep.Name, Err: errors.New(msg)}
	}
	return parsed.Data, nil
}

// transportErrKind distinguishes deadline breaches from plain transport
// failures.
func transportErrKind(ctx context.Context, err error) ErrKind {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return ErrKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrKindTimeout
	}
	return ErrKindUnreachable
}
