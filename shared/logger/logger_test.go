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

package logger

import (
	"bytes"
	"encoding/json"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture redirects the standard logger to a buffer for one entry.
func capture(t *testing.T, emit func()) LogEntry {
	t.Helper()
	var buf bytes.Buffer
	oldWriter := log.Writer()
	oldFlags := log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(oldWriter)
		log.SetFlags(oldFlags)
	}()

	emit()

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)
	var entry LogEntry
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	return entry
}

func TestLoggerEmitsJSON(t *testing.T) {
	l := New("executor")

	entry := capture(t, func() {
		l.Info("sess-1", "req-1", "Tool call completed", map[string]interface{}{"tool": "query_sales"})
	})

	assert.Equal(t, INFO, entry.Level)
	assert.Equal(t, "executor", entry.Component)
	assert.Equal(t, "sess-1", entry.SessionID)
	assert.Equal(t, "req-1", entry.RequestID)
	assert.Equal(t, "Tool call completed", entry.Message)
	assert.Equal(t, "query_sales", entry.Fields["tool"])
	assert.NotEmpty(t, entry.Timestamp)
	assert.NotEmpty(t, entry.Host)
}

func TestLoggerLevels(t *testing.T) {
	l := New("test")

	tests := []struct {
		name string
		emit func()
		want LogLevel
	}{
		{"debug", func() { l.Debug("", "", "m", nil) }, DEBUG},
		{"info", func() { l.Info("", "", "m", nil) }, INFO},
		{"warn", func() { l.Warn("", "", "m", nil) }, WARN},
		{"error", func() { l.Error("", "", "m", nil) }, ERROR},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := capture(t, tt.emit)
			assert.Equal(t, tt.want, entry.Level)
		})
	}
}

func TestInfoWithDuration(t *testing.T) {
	l := New("test")
	entry := capture(t, func() {
		l.InfoWithDuration("s", "", "Query processed", 123.4, nil)
	})
	assert.Equal(t, 123.4, entry.Fields["duration_ms"])
}

func TestErrorWithErr(t *testing.T) {
	l := New("test")
	entry := capture(t, func() {
		l.ErrorWithErr("s", "", "Call failed", assert.AnError, map[string]interface{}{"endpoint": "crm"})
	})
	assert.Equal(t, ERROR, entry.Level)
	assert.Equal(t, assert.AnError.Error(), entry.Fields["error"])
	assert.Equal(t, "crm", entry.Fields["endpoint"])
}
