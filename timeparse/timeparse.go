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

// Package timeparse resolves natural-language relative-time phrases
// ("last 30 days", "the past few weeks", "recently") into concrete date
// ranges. Resolution is relative to an injected reference instant so
// callers and tests control "now".
//
// Vague phrases carry no number, so fixed defaults apply: "recently"
// and "the past few days" mean 7 days, "the past few weeks" means 2
// weeks, "the past few months" means 3 months.
package timeparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Defaults for vague phrases that do not encode a number.
const (
	VagueDayCount   = 7
	VagueWeekCount  = 2
	VagueMonthCount = 3
)

// Range is a resolved date range. End is inclusive and equals the
// reference instant's date.
type Range struct {
	Start time.Time
	End   time.Time
}

// String renders the range as "YYYY-MM-DD to YYYY-MM-DD".
func (r Range) String() string {
	return fmt.Sprintf("%s to %s", r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))
}

// unit is a calendar unit. Week and month arithmetic goes through
// time.AddDate so month lengths stay calendar-aware.
type unit int

const (
	unitDay unit = iota
	unitWeek
	unitMonth
)

// rule matches one phrase family. count < 0 means the count comes from
// the first capture group.
type rule struct {
	re    *regexp.Regexp
	unit  unit
	count int
}

// Numbered patterns come first so "last 3 days" is not half-matched by a
// vaguer rule.
var rules = []rule{
	{regexp.MustCompile(`(?i)\b(?:last|past)\s+(\d+)\s+days?\b`), unitDay, -1},
	{regexp.MustCompile(`(?i)\b(?:last|past)\s+(\d+)\s+weeks?\b`), unitWeek, -1},
	{regexp.MustCompile(`(?i)\b(?:last|past)\s+(\d+)\s+months?\b`), unitMonth, -1},
	{regexp.MustCompile(`(?i)\b(?:the\s+)?(?:last|past)\s+few\s+days\b`), unitDay, VagueDayCount},
	{regexp.MustCompile(`(?i)\b(?:the\s+)?(?:last|past)\s+few\s+weeks\b`), unitWeek, VagueWeekCount},
	{regexp.MustCompile(`(?i)\b(?:the\s+)?(?:last|past)\s+few\s+months\b`), unitMonth, VagueMonthCount},
	{regexp.MustCompile(`(?i)\b(?:last|past)\s+day\b`), unitDay, 1},
	{regexp.MustCompile(`(?i)\b(?:last|past)\s+week\b`), unitWeek, 1},
	{regexp.MustCompile(`(?i)\b(?:last|past)\s+month\b`), unitMonth, 1},
	{regexp.MustCompile(`(?i)\brecently\b`), unitDay, VagueDayCount},
}

// Resolve maps a relative-time phrase (possibly embedded in a larger
// fragment) to a concrete range ending at ref. The second return value
// is false when no supported pattern matches; absence of a range is not
// an error.
func Resolve(phrase string, ref time.Time) (Range, bool) {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return Range{}, false
	}
	for _, r := range rules {
		m := r.re.FindStringSubmatch(phrase)
		if m == nil {
			continue
		}
		n := r.count
		if n < 0 {
			parsed, err := strconv.Atoi(m[1])
			if err != nil || parsed < 1 {
				continue
			}
			n = parsed
		}
		return rangeFrom(r.unit, n, ref), true
	}
	return Range{}, false
}

// RewriteQuery replaces every supported relative-time phrase in the
// query with its resolved explicit range, leaving everything else
// untouched. Unrecognized phrases pass through unchanged.
func RewriteQuery(query string, ref time.Time) string {
	for _, r := range rules {
		rl := r // capture for the closure
		query = rl.re.ReplaceAllStringFunc(query, func(match string) string {
			n := rl.count
			if n < 0 {
				m := rl.re.FindStringSubmatch(match)
				parsed, err := strconv.Atoi(m[1])
				if err != nil || parsed < 1 {
					return match
				}
				n = parsed
			}
			return rangeFrom(rl.unit, n, ref).String()
		})
	}
	return query
}

// rangeFrom computes the calendar-aware range for n units ending at ref.
func rangeFrom(u unit, n int, ref time.Time) Range {
	var start time.Time
	switch u {
	case unitDay:
		start = ref.AddDate(0, 0, -n)
	case unitWeek:
		start = ref.AddDate(0, 0, -7*n)
	case unitMonth:
		start = ref.AddDate(0, -n, 0)
	}
	return Range{Start: start, End: ref}
}
