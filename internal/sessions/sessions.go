// Package sessions provides the process-wide registry of active and recently
// settled orchestration sessions.
//
// Sessions live only for one query lifecycle plus a feedback window; a
// background janitor discards settled sessions once the window has passed.
package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/deskrouter/deskrouter/pkg/models"
)

// Registry is a thread-safe in-memory session store.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*models.OrchestrationSession

	window  time.Duration
	stopCh  chan struct{}
	running bool

	// OnEvict, when set before StartJanitor, is invoked for every session id
	// the janitor discards. The broadcaster uses it to drop retained events.
	OnEvict func(sessionID string)
}

// NewRegistry creates a registry whose janitor discards settled sessions
// after the given feedback window.
func NewRegistry(window time.Duration) *Registry {
	if window < time.Minute {
		window = time.Minute
	}
	return &Registry{
		sessions: make(map[string]*models.OrchestrationSession),
		window:   window,
		stopCh:   make(chan struct{}),
	}
}

// Create stores a new session.
func (r *Registry) Create(session *models.OrchestrationSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return &models.InputError{Reason: "session " + session.ID + " already exists"}
	}
	r.sessions[session.ID] = session
	return nil
}

// Get returns a deep-enough snapshot of a session: the struct and its agent
// state map are copied so callers never observe concurrent mutation.
func (r *Registry) Get(id string) (*models.OrchestrationSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return snapshot(s), true
}

// Update applies fn to the live session under the write lock.
func (r *Registry) Update(id string, fn func(*models.OrchestrationSession)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	fn(s)
	return true
}

// List returns snapshots of all sessions, newest first.
func (r *Registry) List() []*models.OrchestrationSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.OrchestrationSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, snapshot(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// PendingEscalations returns snapshots of sessions waiting on a human.
func (r *Registry) PendingEscalations() []*models.OrchestrationSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.OrchestrationSession
	for _, s := range r.sessions {
		if s.Escalation != nil && s.Escalation.Status == models.EscalationPending {
			out = append(out, snapshot(s))
		}
	}
	return out
}

// Delete removes a session.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ── Janitor ─────────────────────────────────────────────────

// StartJanitor runs the feedback-window purge loop until ctx is canceled.
func (r *Registry) StartJanitor(ctx context.Context) {
	if r.running {
		return
	}
	r.running = true

	interval := r.window / 4
	if interval < 30*time.Second {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				purged := r.purgeExpired(time.Now().UTC())
				if len(purged) == 0 {
					continue
				}
				if r.OnEvict != nil {
					for _, id := range purged {
						r.OnEvict(id)
					}
				}
				log.Info().Int("purged", len(purged)).Msg("Session janitor discarded settled sessions")
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info().Dur("feedback_window", r.window).Msg("Session janitor started")
}

// StopJanitor halts the purge loop.
func (r *Registry) StopJanitor() {
	if r.running {
		close(r.stopCh)
		r.running = false
	}
}

// purgeExpired removes settled sessions older than the feedback window and
// returns their ids.
func (r *Registry) purgeExpired(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var purged []string
	for id, s := range r.sessions {
		if !s.State.Terminal() || s.CompletedAt == nil {
			continue
		}
		if now.Sub(*s.CompletedAt) > r.window {
			delete(r.sessions, id)
			purged = append(purged, id)
		}
	}
	return purged
}

func snapshot(s *models.OrchestrationSession) *models.OrchestrationSession {
	cp := *s
	cp.AgentStates = make(map[string]*models.AgentRuntimeState, len(s.AgentStates))
	for id, st := range s.AgentStates {
		stCopy := *st
		cp.AgentStates[id] = &stCopy
	}
	if s.Escalation != nil {
		esc := *s.Escalation
		cp.Escalation = &esc
	}
	return &cp
}
