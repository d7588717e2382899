package models

import "fmt"

// InputError rejects an invalid query before scoring. Not retried.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return "invalid input: " + e.Reason
}

// ConfigError signals that the Agent Index failed to load. Orchestration
// falls back to builtin default profiles rather than refusing all queries;
// it becomes a hard failure only when no usable fallback profile exists.
type ConfigError struct {
	Source string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("agent index config (%s): %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// AgentTaskError is one agent's execution backend failure. It is isolated:
// converted to a per-agent ERROR state, never thrown up to the session.
type AgentTaskError struct {
	AgentID   string
	SessionID string
	Err       error
}

func (e *AgentTaskError) Error() string {
	return fmt.Sprintf("agent %s (session %s): %v", e.AgentID, e.SessionID, e.Err)
}

func (e *AgentTaskError) Unwrap() error { return e.Err }

// EscalationTimeoutError reports that no human response arrived within the
// configured policy window. The session auto-resolves and completes.
type EscalationTimeoutError struct {
	SessionID string
	Window    string
}

func (e *EscalationTimeoutError) Error() string {
	return fmt.Sprintf("escalation for session %s unanswered within %s", e.SessionID, e.Window)
}

// TransportError is a broadcaster connection failure. It drives reconnect,
// never a session failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("broadcast transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
