// Package models defines the core data model for the deskrouter control
// plane: agent profiles, queries, scores, orchestration sessions, and the
// escalation record, plus the error taxonomy shared by all components.
package models

import (
	"fmt"
	"strings"
	"time"
)

// ── Agent Profiles ──────────────────────────────────────────

// AgentProfile describes one specialist handler the router can dispatch to.
// Profiles are immutable after load; the index replaces them wholesale on
// refresh.
type AgentProfile struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	Category              string   `json:"category"`
	Keywords              []string `json:"keywords"`
	Expertise             []string `json:"expertise"`
	ConfidenceThreshold   float64  `json:"confidence_threshold"`
	HistoricalSuccessRate float64  `json:"historical_success_rate"`
}

// Validate rejects malformed profiles at load time, not at use time.
func (p *AgentProfile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("profile missing id")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("profile %s: missing name", p.ID)
	}
	if strings.TrimSpace(p.Category) == "" {
		return fmt.Errorf("profile %s: missing category", p.ID)
	}
	if len(p.Keywords) == 0 {
		return fmt.Errorf("profile %s: empty keyword set", p.ID)
	}
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return fmt.Errorf("profile %s: confidence_threshold %.2f outside [0,1]", p.ID, p.ConfidenceThreshold)
	}
	if p.HistoricalSuccessRate < 0 || p.HistoricalSuccessRate > 100 {
		return fmt.Errorf("profile %s: historical_success_rate %.1f outside [0,100]", p.ID, p.HistoricalSuccessRate)
	}
	return nil
}

// ── Queries & Analysis ──────────────────────────────────────

// Query is one free-text support request bound to a session.
type Query struct {
	Text      string            `json:"text"`
	SessionID string            `json:"session_id"`
	Context   map[string]string `json:"context,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Complexity buckets a query by structural effort.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// QueryAnalysis is the analyzer's full output for one query.
type QueryAnalysis struct {
	Keywords   []string   `json:"keywords"`
	Complexity Complexity `json:"complexity"`
	Sentiment  int        `json:"sentiment"`
}

// ── Scores ──────────────────────────────────────────────────

// AgentScore is one agent's relevance against a query.
// WouldTrigger is derived from Score and the profile threshold; it is never
// stored independently of them.
type AgentScore struct {
	AgentID         string   `json:"agent_id"`
	Score           float64  `json:"score"`
	MatchedKeywords []string `json:"matched_keywords"`
	Confidence      float64  `json:"confidence"`
	WouldTrigger    bool     `json:"would_trigger"`
}

// ── Session State Machine ───────────────────────────────────

// SessionState is the overall orchestration session state.
type SessionState string

const (
	SessionCreated     SessionState = "CREATED"
	SessionDispatching SessionState = "DISPATCHING"
	SessionAggregating SessionState = "AGGREGATING"
	SessionEscalated   SessionState = "ESCALATED"
	SessionCompleted   SessionState = "COMPLETED"
	SessionFailed      SessionState = "FAILED"
)

// Terminal reports whether the session has settled.
func (s SessionState) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// AgentStatus is the per-agent runtime status within a session.
type AgentStatus string

const (
	AgentIdle          AgentStatus = "IDLE"
	AgentAnalyzing     AgentStatus = "ANALYZING"
	AgentProcessing    AgentStatus = "PROCESSING"
	AgentCollaborating AgentStatus = "COLLABORATING"
	AgentCompleting    AgentStatus = "COMPLETING"
	AgentFinished      AgentStatus = "FINISHED"
	AgentError         AgentStatus = "ERROR"
)

// Terminal reports whether the agent task has settled.
func (s AgentStatus) Terminal() bool {
	return s == AgentFinished || s == AgentError
}

// AgentRuntimeState tracks one dispatched agent's live progress. The slot is
// mutated exclusively by the goroutine executing that agent's work; everyone
// else reads immutable snapshots.
type AgentRuntimeState struct {
	AgentID     string      `json:"agent_id"`
	Status      AgentStatus `json:"status"`
	Progress    int         `json:"progress"`
	CurrentTask string      `json:"current_task"`
	LastUpdated time.Time   `json:"last_updated"`
}

// AgentResult is one agent's contribution to the aggregate answer.
type AgentResult struct {
	AgentID    string  `json:"agent_id"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// OrchestrationSession is the end-to-end lifecycle of one query's dispatch,
// tracking, and aggregation.
type OrchestrationSession struct {
	ID               string                        `json:"id"`
	Query            Query                         `json:"query"`
	Analysis         QueryAnalysis                 `json:"analysis"`
	Scores           []AgentScore                  `json:"scores"`
	SelectedAgentIDs []string                      `json:"selected_agent_ids"`
	AgentStates      map[string]*AgentRuntimeState `json:"agent_states"`
	State            SessionState                  `json:"state"`
	Escalation       *EscalationRecord             `json:"escalation,omitempty"`
	Results          []AgentResult                 `json:"results,omitempty"`
	FailedAgents     []string                      `json:"failed_agents,omitempty"`
	CreatedAt        time.Time                     `json:"created_at"`
	CompletedAt      *time.Time                    `json:"completed_at,omitempty"`
}

// ── Escalation ──────────────────────────────────────────────

// EscalationStatus is the human-in-the-loop record status.
type EscalationStatus string

const (
	EscalationPending  EscalationStatus = "PENDING"
	EscalationResolved EscalationStatus = "RESOLVED"
)

// EscalationRecord captures a human-in-the-loop handoff for a session.
type EscalationRecord struct {
	SessionID     string           `json:"session_id"`
	Reason        string           `json:"reason"`
	TriggeredAt   time.Time        `json:"triggered_at"`
	Status        EscalationStatus `json:"status"`
	HumanResponse string           `json:"human_response,omitempty"`
	ResolvedAt    *time.Time       `json:"resolved_at,omitempty"`
}

// ── Routing Decision ────────────────────────────────────────

// RoutingDecision is the synchronous output of analyze→score→select→escalate,
// echoed back to the caller on submit.
type RoutingDecision struct {
	Analysis    QueryAnalysis `json:"analysis"`
	Scores      []AgentScore  `json:"scores"`
	Recommended []string      `json:"recommended"`
	Fallback    bool          `json:"fallback"`
	Escalate    bool          `json:"escalate"`
	Reason      string        `json:"escalation_reason,omitempty"`
}
