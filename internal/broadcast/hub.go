// Package broadcast streams session and agent state transitions to
// subscribed clients in real time.
//
// The hub assigns per-agent monotonically increasing sequence numbers,
// fans events out to per-subscriber bounded queues, and retains terminal
// events per session so late or reconnecting subscribers still receive them.
// Backpressure policy: on queue overflow the oldest non-terminal update is
// dropped; terminal events are always preserved and delivered.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Hub is the process-wide event broadcaster.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscriber
	nextID uint64

	seqMu sync.Mutex
	seqs  map[string]map[string]uint64 // session id → agent name → last seq

	retMu    sync.Mutex
	retained map[string][]Event // session id → terminal events, publish order

	queueSize int
}

// NewHub creates a hub with the given per-subscriber queue bound.
func NewHub(queueSize int) *Hub {
	if queueSize < 8 {
		queueSize = 8
	}
	return &Hub{
		subs:      make(map[uint64]*Subscriber),
		seqs:      make(map[string]map[string]uint64),
		retained:  make(map[string][]Event),
		queueSize: queueSize,
	}
}

// Publish stamps the event with its sequence number and timestamp, retains it
// if terminal, and fans it out to matching subscribers.
func (h *Hub) Publish(ev Event) {
	ev.Seq = h.nextSeq(ev.SessionID, ev.AgentName)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if ev.Terminal() {
		h.retMu.Lock()
		h.retained[ev.SessionID] = append(h.retained[ev.SessionID], ev)
		h.retMu.Unlock()
	}

	h.mu.RLock()
	for _, sub := range h.subs {
		if sub.matches(ev.SessionID) {
			sub.push(ev)
		}
	}
	h.mu.RUnlock()
}

// Subscribe registers a subscriber. An empty sessionID subscribes to all
// sessions. Retained terminal events for the session are replayed first so a
// reconnecting client catches up on anything that settled while it was away.
func (h *Hub) Subscribe(sessionID string) *Subscriber {
	h.mu.Lock()
	h.nextID++
	sub := &Subscriber{
		id:        h.nextID,
		sessionID: sessionID,
		max:       h.queueSize,
		notify:    make(chan struct{}, 1),
	}
	h.subs[sub.id] = sub
	h.mu.Unlock()

	h.replayRetained(sub, sessionID)
	return sub
}

// Retarget switches an existing subscriber to a session (the
// start_log_streaming control path) and replays that session's retained
// terminal events.
func (h *Hub) Retarget(sub *Subscriber, sessionID string) {
	sub.mu.Lock()
	sub.sessionID = sessionID
	sub.mu.Unlock()

	h.replayRetained(sub, sessionID)
}

// Unsubscribe removes and closes a subscriber.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	delete(h.subs, sub.id)
	h.mu.Unlock()
	sub.close()
}

// Forget drops retained events and sequence state for a session. Wired to the
// session janitor's eviction hook.
func (h *Hub) Forget(sessionID string) {
	h.retMu.Lock()
	delete(h.retained, sessionID)
	h.retMu.Unlock()

	h.seqMu.Lock()
	delete(h.seqs, sessionID)
	h.seqMu.Unlock()
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) nextSeq(sessionID, agent string) uint64 {
	h.seqMu.Lock()
	defer h.seqMu.Unlock()

	agents, ok := h.seqs[sessionID]
	if !ok {
		agents = make(map[string]uint64)
		h.seqs[sessionID] = agents
	}
	agents[agent]++
	return agents[agent]
}

func (h *Hub) replayRetained(sub *Subscriber, sessionID string) {
	if sessionID == "" {
		return
	}
	h.retMu.Lock()
	replay := make([]Event, len(h.retained[sessionID]))
	copy(replay, h.retained[sessionID])
	h.retMu.Unlock()

	for _, ev := range replay {
		sub.push(ev)
	}
}

// ── Subscriber ──────────────────────────────────────────────

// Subscriber is one client's bounded event queue.
type Subscriber struct {
	id uint64

	mu        sync.Mutex
	sessionID string // "" = all sessions
	queue     []Event
	closed    bool

	max    int
	notify chan struct{}
}

func (s *Subscriber) matches(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID == "" || s.sessionID == sessionID
}

// push enqueues an event, applying the overflow policy: evict the oldest
// non-terminal event (preferring the same agent as the incoming event); if
// every queued event is terminal, a non-terminal arrival is dropped instead,
// while a terminal arrival grows the queue. Terminals are never lost.
func (s *Subscriber) push(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if len(s.queue) >= s.max {
		if !s.evictOldestNonTerminal(ev.AgentName) && !ev.Terminal() {
			log.Debug().Str("session", ev.SessionID).Str("agent", ev.AgentName).Msg("Broadcast queue full, dropped non-terminal update")
			return
		}
	}

	s.queue = append(s.queue, ev)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// evictOldestNonTerminal removes the oldest droppable event, trying the given
// agent's updates first. Returns false when only terminal events are queued.
func (s *Subscriber) evictOldestNonTerminal(agent string) bool {
	victim := -1
	for i, q := range s.queue {
		if q.Terminal() {
			continue
		}
		if q.AgentName == agent {
			victim = i
			break
		}
		if victim < 0 {
			victim = i
		}
	}
	if victim < 0 {
		return false
	}
	s.queue = append(s.queue[:victim], s.queue[victim+1:]...)
	return true
}

// Next blocks until an event is available or ctx is done.
func (s *Subscriber) Next(ctx context.Context) (Event, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, true
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return Event{}, false
		}
		select {
		case <-s.notify:
		case <-ctx.Done():
			return Event{}, false
		}
	}
}

// TryNext pops an event without blocking.
func (s *Subscriber) TryNext() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

func (s *Subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
