package broadcast

import (
	"fmt"
	"time"

	"github.com/deskrouter/deskrouter/pkg/models"
)

// EventType enumerates the outbound event kinds a subscriber can receive.
type EventType string

const (
	EventSessionStarted  EventType = "session_started"
	EventAgentStatus     EventType = "agent_status_update"
	EventPhaseUpdate     EventType = "phase_update"
	EventSessionComplete EventType = "session_complete"
	EventSessionError    EventType = "session_error"

	// TypePing is a transport keepalive frame, not a session event. It shares
	// the wire envelope so consumers can dispatch on the type field alone.
	TypePing EventType = "ping"
)

// Event is one state-transition message on the subscriber stream. Seq is a
// per-agent (per-session for session-level events) monotonically increasing
// sequence; delivery is at-least-once and consumers deduplicate on it.
type Event struct {
	Type        EventType `json:"type"`
	SessionID   string    `json:"session_id,omitempty"`
	AgentName   string    `json:"agent_name,omitempty"`
	Status      string    `json:"status,omitempty"`
	Progress    int       `json:"progress"`
	CurrentTask string    `json:"current_task,omitempty"`
	Seq         uint64    `json:"seq"`
	Timestamp   time.Time `json:"timestamp"`
}

// Terminal reports whether this event must never be dropped: session
// completion/error, and per-agent FINISHED/ERROR updates.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventSessionComplete, EventSessionError:
		return true
	case EventAgentStatus:
		return models.AgentStatus(e.Status).Terminal()
	default:
		return false
	}
}

// ── Inbound control messages ────────────────────────────────

// ControlKind enumerates the closed set of control messages a client may
// send on the subscription connection.
type ControlKind string

const (
	ControlStartLogStreaming ControlKind = "start_log_streaming"
	ControlPong              ControlKind = "pong"
)

// ControlMessage is an inbound client control frame.
type ControlMessage struct {
	Kind      ControlKind `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
}

// Validate matches the control kind exhaustively; anything outside the closed
// set is rejected.
func (m ControlMessage) Validate() error {
	switch m.Kind {
	case ControlStartLogStreaming:
		if m.SessionID == "" {
			return fmt.Errorf("start_log_streaming requires session_id")
		}
		return nil
	case ControlPong:
		return nil
	default:
		return fmt.Errorf("unknown control message type %q", m.Kind)
	}
}
