package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/deskrouter/deskrouter/pkg/models"
)

// Backend is the execution collaborator contract: the specialized reasoning
// performed per agent is opaque to this core.
type Backend interface {
	Execute(ctx context.Context, agentID string, query models.Query) (*models.AgentResult, error)
}

// ── HTTP Backend ────────────────────────────────────────────

// HTTPBackend calls an external execution service over JSON POST.
type HTTPBackend struct {
	endpoint string
	client   *http.Client
}

// NewHTTPBackend creates a backend client for the given endpoint.
func NewHTTPBackend(endpoint string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPBackend{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type executeRequest struct {
	AgentID   string            `json:"agent_id"`
	SessionID string            `json:"session_id"`
	Text      string            `json:"text"`
	Context   map[string]string `json:"context,omitempty"`
}

type executeResponse struct {
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
}

// Execute posts the query to the backend and decodes the agent's answer.
func (b *HTTPBackend) Execute(ctx context.Context, agentID string, query models.Query) (*models.AgentResult, error) {
	body, _ := json.Marshal(executeRequest{
		AgentID:   agentID,
		SessionID: query.SessionID,
		Text:      query.Text,
		Context:   query.Context,
	})

	url := b.endpoint + "/execute"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create execute request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("backend status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var resp executeResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode execute response: %w", err)
	}

	return &models.AgentResult{
		AgentID:    agentID,
		Content:    resp.Content,
		Confidence: resp.Confidence,
	}, nil
}

// ── Local Backend ───────────────────────────────────────────

// LocalBackend produces canned acknowledgements so the control plane runs
// end-to-end with zero configuration. It honors cancellation mid-call.
type LocalBackend struct {
	// Delay simulates backend latency per call.
	Delay time.Duration
}

// Execute returns a templated acknowledgement for the agent.
func (b *LocalBackend) Execute(ctx context.Context, agentID string, query models.Query) (*models.AgentResult, error) {
	if b.Delay > 0 {
		select {
		case <-time.After(b.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &models.AgentResult{
		AgentID:    agentID,
		Content:    fmt.Sprintf("[%s] Reviewed: %s", agentID, query.Text),
		Confidence: 0.8,
	}, nil
}
