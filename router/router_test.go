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

package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryflow/core/endpoint"
)

func newTestRegistry(t *testing.T, failureThreshold int, names ...string) *endpoint.Registry {
	t.Helper()
	r := endpoint.NewRegistry(endpoint.WithFailureThreshold(failureThreshold))
	for _, name := range names {
		require.NoError(t, r.Register(&endpoint.Endpoint{
			Name:    name,
			Address: "http://" + name + ".local",
			Tools:   []string{"query_sales"},
		}))
	}
	return r
}

func fail(reg *endpoint.Registry, name string, times int) {
	for i := 0; i < times; i++ {
		reg.MarkResult(name, false)
	}
}

func TestPickNoProvider(t *testing.T) {
	rt := New(newTestRegistry(t, 3, "a"))
	_, err := rt.Pick("send_email")
	require.Error(t, err)
	var npErr *ErrNoProvider
	require.ErrorAs(t, err, &npErr)
	assert.Equal(t, "send_email", npErr.Tool)
}

func TestPickPrefersHealthyOverDegraded(t *testing.T) {
	reg := newTestRegistry(t, 1, "a", "b")
	fail(reg, "a", 1) // a degraded

	rt := New(reg)
	for i := 0; i < 5; i++ {
		sel, err := rt.Pick("query_sales")
		require.NoError(t, err)
		require.Len(t, sel.Candidates, 2)
		assert.Equal(t, "b", sel.Candidates[0].Name, "healthy candidate must rank first")
		assert.Equal(t, "a", sel.Candidates[1].Name)
		assert.False(t, sel.LastResort)
	}
}

func TestPickExcludesUnreachable(t *testing.T) {
	reg := newTestRegistry(t, 1, "a", "b")
	fail(reg, "a", 2) // a unreachable

	rt := New(reg)
	sel, err := rt.Pick("query_sales")
	require.NoError(t, err)
	require.Len(t, sel.Candidates, 1)
	assert.Equal(t, "b", sel.Candidates[0].Name)
	assert.False(t, sel.LastResort)
}

func TestPickLastResort(t *testing.T) {
	reg := newTestRegistry(t, 1, "a", "b")
	// b fails last, so a is the least recently failed.
	fail(reg, "a", 2)
	fail(reg, "b", 2)

	rt := New(reg)
	sel, err := rt.Pick("query_sales")
	require.NoError(t, err)
	assert.True(t, sel.LastResort)
	require.Len(t, sel.Candidates, 2)
	assert.Equal(t, "a", sel.Candidates[0].Name, "least recently failed must rank first")
	assert.Equal(t, "b", sel.Candidates[1].Name)
}

func TestPickRoundRobin(t *testing.T) {
	reg := newTestRegistry(t, 3, "a", "b")
	rt := New(reg)

	seen := map[string]int{}
	for i := 0; i < 10; i++ {
		sel, err := rt.Pick("query_sales")
		require.NoError(t, err)
		seen[sel.Candidates[0].Name]++
	}
	assert.Equal(t, 5, seen["a"], "round-robin must alternate primaries")
	assert.Equal(t, 5, seen["b"])
}

func TestProbe(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer healthy.Close()

	reg := endpoint.NewRegistry(endpoint.WithFailureThreshold(1))
	require.NoError(t, reg.Register(&endpoint.Endpoint{
		Name:    "probed",
		Address: healthy.URL,
		Tools:   []string{"query_sales"},
	}))
	fail(reg, "probed", 2) // unreachable

	rt := New(reg, WithHTTPClient(healthy.Client()))

	t.Run("passing probe promotes unreachable to degraded", func(t *testing.T) {
		state, _ := reg.Health("probed")
		require.Equal(t, endpoint.Unreachable, state)

		assert.True(t, rt.Probe(context.Background(), "probed"))
		state, _ = reg.Health("probed")
		assert.Equal(t, endpoint.Degraded, state)
	})

	t.Run("probe of unknown endpoint fails", func(t *testing.T) {
		assert.False(t, rt.Probe(context.Background(), "ghost"))
	})

	t.Run("failing probe leaves state alone", func(t *testing.T) {
		down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer down.Close()

		reg2 := endpoint.NewRegistry(endpoint.WithFailureThreshold(1))
		require.NoError(t, reg2.Register(&endpoint.Endpoint{
			Name: "down", Address: down.URL, Tools: []string{"t"},
		}))
		fail(reg2, "down", 2)

		rt2 := New(reg2, WithHTTPClient(down.Client()))
		assert.False(t, rt2.Probe(context.Background(), "down"))
		state, _ := reg2.Health("down")
		assert.Equal(t, endpoint.Unreachable, state)
	})
}
