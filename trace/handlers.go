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

package trace

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"

	"github.com/gorilla/mux"
)

// Handler exposes the debug API over the trace recorder. The transport
// layer mounts it; the handlers themselves carry no auth (caller
// identity is opaque to the core).
type Handler struct {
	recorder *Recorder
}

// NewHandler creates a debug handler for the given recorder.
func NewHandler(recorder *Recorder) *Handler {
	return &Handler{recorder: recorder}
}

// RegisterRoutes registers the debug routes with a mux router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/debug/sessions", h.handleSessions).Methods(http.MethodGet)
	r.HandleFunc("/debug/sessions/{id}/trace", h.handleTrace).Methods(http.MethodGet)
}

// handleSessions lists live sessions, most recently active first.
func (h *Handler) handleSessions(w http.ResponseWriter, req *http.Request) {
	sessions := h.recorder.Sessions()
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActive.After(sessions[j].LastActive)
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleTrace returns the ordered trace of one session.
func (h *Handler) handleTrace(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	events, err := h.recorder.Trace(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"events":     events,
		"count":      len(events),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error encoding debug response: %v", err)
	}
}
