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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryflow/core/endpoint"
)

func callErrorKind(t *testing.T, err error) ErrKind {
	t.Helper()
	require.Error(t, err)
	ce, ok := err.(*CallError)
	require.True(t, ok, "caller must return *CallError, got %T", err)
	return ce.Kind
}

func TestHTTPToolClientCall(t *testing.T) {
	t.Run("successful call returns data", func(t *testing.T) {
		var gotReq toolCallRequest
		var gotCred string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/tools/call", r.URL.Path)
			gotCred = r.Header.Get("X-Credential-Ref")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
			json.NewEncoder(w).Encode(toolCallResponse{
				Success: true,
				Data:    map[string]interface{}{"total": 1234.5},
			})
		}))
		defer srv.Close()

		client := NewHTTPToolClient(WithToolHTTPClient(srv.Client()))
		data, err := client.Call(context.Background(),
			endpoint.Endpoint{Name: "sales", Address: srv.URL, Credential: "vault:sales-key"},
			ToolCall{Tool: "query_sales", Params: map[string]interface{}{"region": "EU"}, SessionID: "s1"},
		)
		require.NoError(t, err)
		assert.Equal(t, 1234.5, data["total"])
		assert.Equal(t, "query_sales", gotReq.Tool)
		assert.Equal(t, "EU", gotReq.Parameters["region"])
		assert.Equal(t, "s1", gotReq.SessionID)
		assert.Equal(t, "vault:sales-key", gotCred)
	})

	t.Run("401 maps to unauthorized", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		client := NewHTTPToolClient(WithToolHTTPClient(srv.Client()))
		_, err := client.Call(context.Background(), endpoint.Endpoint{Name: "ep", Address: srv.URL}, ToolCall{Tool: "t"})
		assert.Equal(t, ErrKindUnauthorized, callErrorKind(t, err))
	})

	t.Run("403 maps to unauthorized", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		client := NewHTTPToolClient(WithToolHTTPClient(srv.Client()))
		_, err := client.Call(context.Background(), endpoint.Endpoint{Name: "ep", Address: srv.URL}, ToolCall{Tool: "t"})
		assert.Equal(t, ErrKindUnauthorized, callErrorKind(t, err))
	})

	t.Run("5xx maps to unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		client := NewHTTPToolClient(WithToolHTTPClient(srv.Client()))
		_, err := client.Call(context.Background(), endpoint.Endpoint{Name: "ep", Address: srv.URL}, ToolCall{Tool: "t"})
		assert.Equal(t, ErrKindUnreachable, callErrorKind(t, err))
	})

	t.Run("malformed body maps to invalid response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>not json</html>"))
		}))
		defer srv.Close()

		client := NewHTTPToolClient(WithToolHTTPClient(srv.Client()))
		_, err := client.Call(context.Background(), endpoint.Endpoint{Name: "ep", Address: srv.URL}, ToolCall{Tool: "t"})
		assert.Equal(t, ErrKindInvalidResponse, callErrorKind(t, err))
	})

	t.Run("declared failure maps to invalid response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(toolCallResponse{Success: false, Error: "unknown column"})
		}))
		defer srv.Close()

		client := NewHTTPToolClient(WithToolHTTPClient(srv.Client()))
		_, err := client.Call(context.Background(), endpoint.Endpoint{Name: "ep", Address: srv.URL}, ToolCall{Tool: "t"})
		assert.Equal(t, ErrKindInvalidResponse, callErrorKind(t, err))
		assert.Contains(t, err.Error(), "unknown column")
	})

	t.Run("deadline breach maps to timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			json.NewEncoder(w).Encode(toolCallResponse{Success: true})
		}))
		defer srv.Close()

		client := NewHTTPToolClient(WithToolHTTPClient(srv.Client()))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		_, err := client.Call(ctx, endpoint.Endpoint{Name: "ep", Address: srv.URL}, ToolCall{Tool: "t"})
		assert.Equal(t, ErrKindTimeout, callErrorKind(t, err))
	})

	t.Run("connection refused maps to unreachable", func(t *testing.T) {
		client := NewHTTPToolClient()
		_, err := client.Call(context.Background(),
			endpoint.Endpoint{Name: "ep", Address: "http://127.0.0.1:1"}, ToolCall{Tool: "t"})
		assert.Equal(t, ErrKindUnreachable, callErrorKind(t, err))
	})
}
