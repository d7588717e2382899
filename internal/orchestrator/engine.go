// Package orchestrator implements the session state machine coordinating
// concurrent per-agent execution and aggregation.
//
// Execution flow:
//  1. Submit analyzes, scores, and selects agents synchronously, then
//     registers the session and returns its id immediately
//  2. A background run enters DISPATCHING and starts one task per selected
//     agent; each task exclusively owns its AgentRuntimeState slot
//  3. A fan-in join waits for every agent to settle (FINISHED or ERROR)
//  4. If escalation was decided, the session holds in ESCALATED until the
//     human responds or the policy window expires
//  5. AGGREGATING folds agent results (plus any human response) into the
//     final outcome: COMPLETED if at least one agent finished, FAILED only
//     when all of them errored
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/deskrouter/deskrouter/internal/analyzer"
	"github.com/deskrouter/deskrouter/internal/broadcast"
	"github.com/deskrouter/deskrouter/internal/index"
	"github.com/deskrouter/deskrouter/internal/routing"
	"github.com/deskrouter/deskrouter/internal/sessions"
	"github.com/deskrouter/deskrouter/pkg/models"
)

var tracer = otel.Tracer("deskrouter-orchestrator")

// humanAgentID names the synthetic result folded in from a resolved escalation.
const humanAgentID = "human"

// Engine runs orchestration sessions.
type Engine struct {
	index    *index.Index
	registry *sessions.Registry
	hub      *broadcast.Hub
	backend  Backend

	scorer   *routing.Scorer
	selector *routing.Selector
	decider  *routing.Decider

	escalationTTL time.Duration

	// Running sessions: session id → cancel func
	runsMu sync.RWMutex
	runs   map[string]context.CancelFunc

	// Escalation gates: session id → human response channel
	gatesMu sync.RWMutex
	gates   map[string]chan string
}

// NewEngine wires the orchestration engine.
func NewEngine(idx *index.Index, reg *sessions.Registry, hub *broadcast.Hub, backend Backend,
	scorer *routing.Scorer, selector *routing.Selector, decider *routing.Decider,
	escalationTTL time.Duration) *Engine {
	if escalationTTL <= 0 {
		escalationTTL = 10 * time.Minute
	}
	return &Engine{
		index:         idx,
		registry:      reg,
		hub:           hub,
		backend:       backend,
		scorer:        scorer,
		selector:      selector,
		decider:       decider,
		escalationTTL: escalationTTL,
		runs:          make(map[string]context.CancelFunc),
		gates:         make(map[string]chan string),
	}
}

// Submit routes a query and starts its orchestration session. The routing
// decision is computed synchronously; dispatch happens in the background.
// Empty or whitespace-only text is rejected with an InputError.
func (e *Engine) Submit(ctx context.Context, text string, queryCtx map[string]string) (string, models.RoutingDecision, error) {
	if strings.TrimSpace(text) == "" {
		return "", models.RoutingDecision{}, &models.InputError{Reason: "query text is empty"}
	}

	profiles := e.index.Snapshot()
	if len(profiles) == 0 {
		// No profile file and no builtin fallback left. Hard failure.
		return "", models.RoutingDecision{}, &models.ConfigError{Source: "index", Err: errors.New("no usable agent profiles")}
	}

	an := analyzer.Analyze(text)
	scores := e.scorer.ScoreAll(profiles, text, an)

	profMap := make(map[string]models.AgentProfile, len(profiles))
	for _, p := range profiles {
		profMap[p.ID] = p
	}
	sel := e.selector.Select(scores, profMap)

	sessionID := uuid.New().String()
	escalation, reason := e.decider.Decide(sessionID, an, sel)

	now := time.Now().UTC()
	states := make(map[string]*models.AgentRuntimeState, len(sel.Recommended))
	for _, agentID := range sel.Recommended {
		states[agentID] = &models.AgentRuntimeState{
			AgentID:     agentID,
			Status:      models.AgentIdle,
			CurrentTask: "queued",
			LastUpdated: now,
		}
	}

	session := &models.OrchestrationSession{
		ID: sessionID,
		Query: models.Query{
			Text:      text,
			SessionID: sessionID,
			Context:   queryCtx,
			CreatedAt: now,
		},
		Analysis:         an,
		Scores:           sel.Ranked,
		SelectedAgentIDs: sel.Recommended,
		AgentStates:      states,
		State:            models.SessionCreated,
		Escalation:       escalation,
		CreatedAt:        now,
	}
	if err := e.registry.Create(session); err != nil {
		return "", models.RoutingDecision{}, fmt.Errorf("register session: %w", err)
	}

	e.hub.Publish(broadcast.Event{
		Type:      broadcast.EventSessionStarted,
		SessionID: sessionID,
		Status:    string(models.SessionCreated),
	})

	execCtx, cancel := context.WithCancel(context.Background())
	e.runsMu.Lock()
	e.runs[sessionID] = cancel
	e.runsMu.Unlock()

	log.Info().
		Str("session_id", sessionID).
		Strs("agents", sel.Recommended).
		Str("complexity", string(an.Complexity)).
		Int("sentiment", an.Sentiment).
		Bool("escalated", escalation != nil).
		Msg("Session dispatched")

	go e.run(execCtx, sessionID)

	return sessionID, models.RoutingDecision{
		Analysis:    an,
		Scores:      sel.Ranked,
		Recommended: sel.Recommended,
		Fallback:    sel.Fallback,
		Escalate:    escalation != nil,
		Reason:      reason,
	}, nil
}

// Cancel propagates cancellation to every still-running agent task of the
// session. Cancelled tasks settle as ERROR so the fan-in join completes.
func (e *Engine) Cancel(sessionID string) bool {
	e.runsMu.Lock()
	cancel, ok := e.runs[sessionID]
	if ok {
		cancel()
		delete(e.runs, sessionID)
	}
	e.runsMu.Unlock()
	return ok
}

// ResolveEscalation records the human response and unblocks the session's
// aggregation step.
func (e *Engine) ResolveEscalation(sessionID, response string) error {
	session, ok := e.registry.Get(sessionID)
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	if session.Escalation == nil {
		return fmt.Errorf("session %s has no escalation", sessionID)
	}
	if session.Escalation.Status != models.EscalationPending {
		return fmt.Errorf("escalation for session %s already resolved", sessionID)
	}

	now := time.Now().UTC()
	e.registry.Update(sessionID, func(s *models.OrchestrationSession) {
		s.Escalation.Status = models.EscalationResolved
		s.Escalation.HumanResponse = response
		s.Escalation.ResolvedAt = &now
	})

	e.gatesMu.RLock()
	gate, waiting := e.gates[sessionID]
	e.gatesMu.RUnlock()
	if waiting {
		select {
		case gate <- response:
		default:
		}
	}

	log.Info().Str("session_id", sessionID).Msg("Escalation resolved by human")
	return nil
}

// ── Session Run ─────────────────────────────────────────────

func (e *Engine) run(ctx context.Context, sessionID string) {
	defer func() {
		e.runsMu.Lock()
		delete(e.runs, sessionID)
		e.runsMu.Unlock()
	}()

	session, ok := e.registry.Get(sessionID)
	if !ok {
		return
	}

	ctx, span := tracer.Start(ctx, "session.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.StringSlice("session.agents", session.SelectedAgentIDs),
	)

	e.setPhase(sessionID, models.SessionDispatching)

	var wg sync.WaitGroup
	for _, agentID := range session.SelectedAgentIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			e.runAgent(ctx, sessionID, id, session.Query)
		}(agentID)
	}
	wg.Wait()

	// Escalation gate: hold finalization until the human responds or the
	// policy window expires.
	if session.Escalation != nil {
		e.setPhase(sessionID, models.SessionEscalated)
		response := e.awaitEscalation(ctx, sessionID)
		if response != "" {
			e.registry.Update(sessionID, func(s *models.OrchestrationSession) {
				s.Results = append(s.Results, models.AgentResult{
					AgentID:    humanAgentID,
					Content:    response,
					Confidence: 1,
				})
			})
		}
	}

	e.setPhase(sessionID, models.SessionAggregating)
	e.finalize(sessionID)

	if final, ok := e.registry.Get(sessionID); ok {
		span.SetAttributes(
			attribute.String("session.state", string(final.State)),
			attribute.Int("session.failed_agents", len(final.FailedAgents)),
		)
	}
}

// runAgent is the worker owning one agent's runtime slot. It walks the
// per-agent state machine and records the result; a backend failure becomes
// a terminal ERROR for this agent only, never for its siblings.
func (e *Engine) runAgent(ctx context.Context, sessionID, agentID string, query models.Query) {
	steps := []struct {
		status   models.AgentStatus
		progress int
		task     string
	}{
		{models.AgentAnalyzing, 10, "analyzing query"},
		{models.AgentProcessing, 35, "executing backend call"},
	}

	for _, step := range steps {
		if ctx.Err() != nil {
			e.settleAgent(sessionID, agentID, nil, context.Canceled)
			return
		}
		e.updateAgent(sessionID, agentID, step.status, step.progress, step.task)
	}

	result, err := e.backend.Execute(ctx, agentID, query)
	if err != nil {
		taskErr := &models.AgentTaskError{AgentID: agentID, SessionID: sessionID, Err: err}
		if errors.Is(err, context.Canceled) {
			taskErr.Err = context.Canceled
		}
		log.Warn().Err(taskErr).Msg("Agent task failed")
		e.settleAgent(sessionID, agentID, nil, taskErr)
		return
	}

	e.updateAgent(sessionID, agentID, models.AgentCollaborating, 70, "merging session context")
	e.updateAgent(sessionID, agentID, models.AgentCompleting, 90, "finalizing answer")

	if ctx.Err() != nil {
		e.settleAgent(sessionID, agentID, nil, context.Canceled)
		return
	}
	e.settleAgent(sessionID, agentID, result, nil)
}

// updateAgent mutates the agent's runtime slot and broadcasts the update.
// Progress is monotonic non-decreasing while a status holds; a status change
// accepts the new progress but never below zero.
func (e *Engine) updateAgent(sessionID, agentID string, status models.AgentStatus, progress int, task string) {
	if progress < 0 {
		progress = 0
	}
	var published models.AgentRuntimeState
	e.registry.Update(sessionID, func(s *models.OrchestrationSession) {
		slot, ok := s.AgentStates[agentID]
		if !ok {
			return
		}
		if slot.Status == status && progress < slot.Progress {
			progress = slot.Progress
		}
		slot.Status = status
		slot.Progress = progress
		slot.CurrentTask = task
		slot.LastUpdated = time.Now().UTC()
		published = *slot
	})

	e.hub.Publish(broadcast.Event{
		Type:        broadcast.EventAgentStatus,
		SessionID:   sessionID,
		AgentName:   agentID,
		Status:      string(published.Status),
		Progress:    published.Progress,
		CurrentTask: published.CurrentTask,
	})
}

// settleAgent moves an agent into its terminal state and records its result
// or failure on the session.
func (e *Engine) settleAgent(sessionID, agentID string, result *models.AgentResult, err error) {
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.Canceled) {
			msg = "canceled"
		}
		e.registry.Update(sessionID, func(s *models.OrchestrationSession) {
			s.FailedAgents = append(s.FailedAgents, agentID)
			s.Results = append(s.Results, models.AgentResult{AgentID: agentID, Error: msg})
		})
		e.updateAgent(sessionID, agentID, models.AgentError, 100, msg)
		return
	}

	e.registry.Update(sessionID, func(s *models.OrchestrationSession) {
		s.Results = append(s.Results, *result)
	})
	e.updateAgent(sessionID, agentID, models.AgentFinished, 100, "done")
}

// awaitEscalation blocks until the human responds, the policy window
// expires, or the session is canceled. On expiry the record auto-resolves
// with a synthetic note so aggregation can finalize.
func (e *Engine) awaitEscalation(ctx context.Context, sessionID string) string {
	gate := make(chan string, 1)
	e.gatesMu.Lock()
	e.gates[sessionID] = gate
	e.gatesMu.Unlock()
	defer func() {
		e.gatesMu.Lock()
		delete(e.gates, sessionID)
		e.gatesMu.Unlock()
	}()

	// The human may have answered before the agents settled.
	if s, ok := e.registry.Get(sessionID); ok && s.Escalation.Status == models.EscalationResolved {
		return s.Escalation.HumanResponse
	}

	log.Info().Str("session_id", sessionID).Dur("window", e.escalationTTL).Msg("Session escalated, waiting for human response")

	select {
	case response := <-gate:
		return response

	case <-time.After(e.escalationTTL):
		terr := &models.EscalationTimeoutError{SessionID: sessionID, Window: e.escalationTTL.String()}
		log.Warn().Err(terr).Msg("Escalation window expired, auto-resolving")

		note := "no human response within the escalation window"
		now := time.Now().UTC()
		e.registry.Update(sessionID, func(s *models.OrchestrationSession) {
			s.Escalation.Status = models.EscalationResolved
			s.Escalation.HumanResponse = note
			s.Escalation.ResolvedAt = &now
		})
		return note

	case <-ctx.Done():
		now := time.Now().UTC()
		e.registry.Update(sessionID, func(s *models.OrchestrationSession) {
			s.Escalation.Status = models.EscalationResolved
			s.Escalation.HumanResponse = "session canceled before human response"
			s.Escalation.ResolvedAt = &now
		})
		return ""
	}
}

// finalize computes the terminal session state from the settled per-agent
// statuses: COMPLETED when at least one agent finished, FAILED only when all
// dispatched agents errored.
func (e *Engine) finalize(sessionID string) {
	now := time.Now().UTC()

	var final models.SessionState
	var failed []string
	e.registry.Update(sessionID, func(s *models.OrchestrationSession) {
		finished := 0
		for _, slot := range s.AgentStates {
			if slot.Status == models.AgentFinished {
				finished++
			}
		}
		if finished > 0 {
			s.State = models.SessionCompleted
		} else {
			s.State = models.SessionFailed
		}
		s.CompletedAt = &now
		final = s.State
		failed = s.FailedAgents
	})

	evType := broadcast.EventSessionComplete
	if final == models.SessionFailed {
		evType = broadcast.EventSessionError
	}
	e.hub.Publish(broadcast.Event{
		Type:      evType,
		SessionID: sessionID,
		Status:    string(final),
		Progress:  100,
	})

	logEvent := log.Info()
	if final == models.SessionFailed {
		logEvent = log.Error()
	}
	logEvent.
		Str("session_id", sessionID).
		Str("state", string(final)).
		Strs("failed_agents", failed).
		Msg("Session settled")
}

// setPhase moves the session's overall state and broadcasts a phase update.
func (e *Engine) setPhase(sessionID string, state models.SessionState) {
	e.registry.Update(sessionID, func(s *models.OrchestrationSession) {
		s.State = state
	})
	e.hub.Publish(broadcast.Event{
		Type:      broadcast.EventPhaseUpdate,
		SessionID: sessionID,
		Status:    string(state),
	})
}
