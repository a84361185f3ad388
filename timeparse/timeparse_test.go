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

package timeparse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ref is the fixed reference instant used across tests; resolution must
// be deterministic given a fixed reference.
var ref = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		phrase    string
		wantStart time.Time
		wantOK    bool
	}{
		{"last N days", "last 30 days", day(2024, time.February, 14), true},
		{"past N days", "past 7 days", day(2024, time.March, 8), true},
		{"single day", "last 1 day", day(2024, time.March, 14), true},
		{"last 2 weeks", "last 2 weeks", day(2024, time.March, 1), true},
		{"last week", "last week", day(2024, time.March, 8), true},
		{"last month is calendar aware", "last month", day(2024, time.February, 15), true},
		{"last 3 months", "last 3 months", day(2023, time.December, 15), true},
		{"vague days default to 7", "the past few days", day(2024, time.March, 8), true},
		{"vague weeks default to 2", "the past few weeks", day(2024, time.March, 1), true},
		{"vague months default to 3", "the past few months", day(2023, time.December, 15), true},
		{"recently defaults to 7 days", "recently", day(2024, time.March, 8), true},
		{"case insensitive", "Last 5 Days", day(2024, time.March, 10), true},
		{"embedded in a query", "show me sales from the last 10 days please", day(2024, time.March, 5), true},
		{"unrecognized phrase", "next tuesday", time.Time{}, false},
		{"empty phrase", "", time.Time{}, false},
		{"absolute dates pass through", "from 2024-01-01 to 2024-02-01", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(tt.phrase, ref)
			require.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantStart, got.Start)
			assert.Equal(t, ref, got.End, "end must be the reference instant, inclusive")
		})
	}
}

func TestResolveDeterministic(t *testing.T) {
	first, ok := Resolve("last 2 weeks", ref)
	require.True(t, ok)
	for i := 0; i < 10; i++ {
		again, ok := Resolve("last 2 weeks", ref)
		require.True(t, ok)
		assert.Equal(t, first, again)
	}
}

func TestResolveMonthLengthVaries(t *testing.T) {
	// A month back from mid-March lands in February, which is shorter
	// than 30 days in a leap year and shorter still otherwise.
	leap, ok := Resolve("last month", day(2024, time.March, 15))
	require.True(t, ok)
	assert.Equal(t, day(2024, time.February, 15), leap.Start)
	assert.Equal(t, 29, int(leap.End.Sub(leap.Start).Hours()/24))

	plain, ok := Resolve("last month", day(2023, time.March, 15))
	require.True(t, ok)
	assert.Equal(t, 28, int(plain.End.Sub(plain.Start).Hours()/24))
}

func TestRewriteQuery(t *testing.T) {
	t.Run("rewrites embedded phrase", func(t *testing.T) {
		got := RewriteQuery("total sales for the last 2 weeks by region", ref)
		assert.Equal(t, "total sales for the 2024-03-01 to 2024-03-15 by region", got)
	})

	t.Run("rewrites multiple phrases", func(t *testing.T) {
		got := RewriteQuery("compare last 7 days against the past few months", ref)
		assert.Contains(t, got, "2024-03-08 to 2024-03-15")
		assert.Contains(t, got, "2023-12-15 to 2024-03-15")
	})

	t.Run("vague phrase", func(t *testing.T) {
		got := RewriteQuery("what changed recently", ref)
		assert.Equal(t, "what changed 2024-03-08 to 2024-03-15", got)
	})

	t.Run("no recognized phrase leaves query untouched", func(t *testing.T) {
		q := "list all customers in France"
		assert.Equal(t, q, RewriteQuery(q, ref))
	})
}
