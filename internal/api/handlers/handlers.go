// Package handlers implements the HTTP handlers for the deskrouter control
// plane: query submission, session inspection, escalation resolution, and
// agent index introspection.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/deskrouter/deskrouter/internal/broadcast"
	"github.com/deskrouter/deskrouter/internal/index"
	"github.com/deskrouter/deskrouter/internal/orchestrator"
	"github.com/deskrouter/deskrouter/internal/sessions"
	"github.com/deskrouter/deskrouter/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Engine   *orchestrator.Engine
	Registry *sessions.Registry
	Index    *index.Index
	WS       *broadcast.WSServer
}

// New creates a Handlers instance.
func New(engine *orchestrator.Engine, reg *sessions.Registry, idx *index.Index, ws *broadcast.WSServer) *Handlers {
	return &Handlers{Engine: engine, Registry: reg, Index: idx, WS: ws}
}

// ── Query Handlers ──────────────────────────────────────────

type submitRequest struct {
	Text    string            `json:"text"`
	Context map[string]string `json:"context,omitempty"`
}

type submitResponse struct {
	SessionID string                 `json:"session_id"`
	Decision  models.RoutingDecision `json:"decision"`
}

// SubmitQuery routes a query and starts its orchestration session.
func (h *Handlers) SubmitQuery(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sessionID, decision, err := h.Engine.Submit(r.Context(), req.Text, req.Context)
	if err != nil {
		var inputErr *models.InputError
		var cfgErr *models.ConfigError
		switch {
		case errors.As(err, &inputErr):
			respondError(w, http.StatusBadRequest, inputErr.Error())
		case errors.As(err, &cfgErr):
			respondError(w, http.StatusServiceUnavailable, cfgErr.Error())
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	respondJSON(w, http.StatusAccepted, submitResponse{SessionID: sessionID, Decision: decision})
}

// ── Session Handlers ────────────────────────────────────────

// GetSession returns a session snapshot.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, ok := h.Registry.Get(sessionID)
	if !ok {
		respondError(w, http.StatusNotFound, "session not found: "+sessionID)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// ListSessions returns all registered sessions, newest first.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Registry.List())
}

// CancelSession propagates cancellation to the session's agent tasks.
func (h *Handlers) CancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !h.Engine.Cancel(sessionID) {
		respondError(w, http.StatusNotFound, "no running session: "+sessionID)
		return
	}
	log.Info().Str("session_id", sessionID).Msg("Session cancellation requested")
	respondJSON(w, http.StatusOK, map[string]string{"status": "canceling"})
}

// ── Escalation Handlers ─────────────────────────────────────

// ListEscalations returns sessions waiting on a human response.
func (h *Handlers) ListEscalations(w http.ResponseWriter, r *http.Request) {
	pending := h.Registry.PendingEscalations()
	records := make([]*models.EscalationRecord, 0, len(pending))
	for _, s := range pending {
		records = append(records, s.Escalation)
	}
	respondJSON(w, http.StatusOK, records)
}

type resolveRequest struct {
	Response string `json:"response"`
}

// ResolveEscalation records the human response and unblocks the session.
func (h *Handlers) ResolveEscalation(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Response == "" {
		respondError(w, http.StatusBadRequest, "response text is required")
		return
	}

	if err := h.Engine.ResolveEscalation(sessionID, req.Response); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// ── Agent Index Handlers ────────────────────────────────────

// ListAgents returns the loaded agent profiles.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Index.Snapshot())
}

// RefreshAgents forces a profile re-load.
func (h *Handlers) RefreshAgents(w http.ResponseWriter, r *http.Request) {
	if err := h.Index.Refresh(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"profiles": h.Index.Count()})
}

// Subscribe upgrades to the websocket event stream.
func (h *Handlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	h.WS.HandleSubscribe(w, r)
}

// ── Helpers ─────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
