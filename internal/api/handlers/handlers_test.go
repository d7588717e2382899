package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/deskrouter/deskrouter/internal/api"
	"github.com/deskrouter/deskrouter/internal/api/handlers"
	"github.com/deskrouter/deskrouter/internal/broadcast"
	"github.com/deskrouter/deskrouter/internal/config"
	"github.com/deskrouter/deskrouter/internal/index"
	"github.com/deskrouter/deskrouter/internal/orchestrator"
	"github.com/deskrouter/deskrouter/internal/routing"
	"github.com/deskrouter/deskrouter/internal/sessions"
	"github.com/deskrouter/deskrouter/pkg/models"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	idx, err := index.New("", 0)
	if err != nil {
		t.Fatalf("index.New() error = %v", err)
	}
	registry := sessions.NewRegistry(time.Minute)
	hub := broadcast.NewHub(64)
	decider, _ := routing.NewDecider("")

	engine := orchestrator.NewEngine(
		idx, registry, hub, &orchestrator.LocalBackend{},
		routing.NewScorer(nil), routing.NewSelector("general"), decider,
		time.Minute,
	)

	ws := broadcast.NewWSServer(hub, 15*time.Second, 45*time.Second)
	h := handlers.New(engine, registry, idx, ws)
	srv := httptest.NewServer(api.NewRouter(config.Load(), h))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestSubmitQuery(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/queries",
		`{"text":"My webhook is failing with SSL certificate verification errors"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}

	var body struct {
		SessionID string                 `json:"session_id"`
		Decision  models.RoutingDecision `json:"decision"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.SessionID == "" {
		t.Error("response missing session_id")
	}
	if len(body.Decision.Recommended) == 0 {
		t.Error("decision has no recommended agents")
	}

	// The accepted session must be retrievable immediately.
	got, err := http.Get(srv.URL + "/api/v1/sessions/" + body.SessionID)
	if err != nil {
		t.Fatalf("GET session: %v", err)
	}
	defer got.Body.Close()
	if got.StatusCode != http.StatusOK {
		t.Errorf("GET session status = %d, want %d", got.StatusCode, http.StatusOK)
	}
}

func TestSubmitQuery_EmptyText(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/queries", `{"text":"   "}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestSubmitQuery_InvalidBody(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/queries", `{not json`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/sessions/does-not-exist")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestCancelSession_NotRunning(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/sessions/does-not-exist/cancel", `{}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestListAgents(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/agents")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var profiles []models.AgentProfile
	if err := json.NewDecoder(resp.Body).Decode(&profiles); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(profiles) != 4 {
		t.Errorf("got %d profiles, want 4 builtins", len(profiles))
	}
}

func TestResolveEscalation_MissingResponse(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/sessions/any/escalation/resolve", `{"response":""}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}
