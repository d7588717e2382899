package sessions

import (
	"errors"
	"testing"
	"time"

	"github.com/deskrouter/deskrouter/pkg/models"
)

func newSession(id string, createdAt time.Time) *models.OrchestrationSession {
	return &models.OrchestrationSession{
		ID:               id,
		SelectedAgentIDs: []string{"technical"},
		AgentStates: map[string]*models.AgentRuntimeState{
			"technical": {AgentID: "technical", Status: models.AgentIdle},
		},
		State:     models.SessionCreated,
		CreatedAt: createdAt,
	}
}

func TestCreateAndGet(t *testing.T) {
	r := NewRegistry(time.Minute)

	if err := r.Create(newSession("s1", time.Now())); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, ok := r.Get("s1")
	if !ok {
		t.Fatal("Get() did not find created session")
	}
	if got.ID != "s1" || got.State != models.SessionCreated {
		t.Errorf("Get() = %+v", got)
	}

	if _, ok := r.Get("missing"); ok {
		t.Error("Get() found a session that was never created")
	}
}

func TestCreate_Duplicate(t *testing.T) {
	r := NewRegistry(time.Minute)
	_ = r.Create(newSession("s1", time.Now()))

	err := r.Create(newSession("s1", time.Now()))
	var inputErr *models.InputError
	if !errors.As(err, &inputErr) {
		t.Errorf("duplicate Create() error = %v, want *models.InputError", err)
	}
}

func TestGet_SnapshotIsDetached(t *testing.T) {
	r := NewRegistry(time.Minute)
	_ = r.Create(newSession("s1", time.Now()))

	snap, _ := r.Get("s1")
	snap.AgentStates["technical"].Progress = 99
	snap.State = models.SessionFailed

	fresh, _ := r.Get("s1")
	if fresh.AgentStates["technical"].Progress != 0 {
		t.Error("mutating a snapshot leaked into the registry")
	}
	if fresh.State != models.SessionCreated {
		t.Error("mutating a snapshot changed the stored state")
	}
}

func TestUpdate(t *testing.T) {
	r := NewRegistry(time.Minute)
	_ = r.Create(newSession("s1", time.Now()))

	ok := r.Update("s1", func(s *models.OrchestrationSession) {
		s.State = models.SessionDispatching
		s.AgentStates["technical"].Status = models.AgentProcessing
	})
	if !ok {
		t.Fatal("Update() = false for existing session")
	}

	got, _ := r.Get("s1")
	if got.State != models.SessionDispatching {
		t.Errorf("State = %v after Update", got.State)
	}
	if got.AgentStates["technical"].Status != models.AgentProcessing {
		t.Errorf("agent status = %v after Update", got.AgentStates["technical"].Status)
	}

	if r.Update("missing", func(*models.OrchestrationSession) {}) {
		t.Error("Update() = true for missing session")
	}
}

func TestList_NewestFirst(t *testing.T) {
	r := NewRegistry(time.Minute)
	now := time.Now()
	_ = r.Create(newSession("older", now.Add(-time.Hour)))
	_ = r.Create(newSession("newer", now))

	list := r.List()
	if len(list) != 2 || list[0].ID != "newer" || list[1].ID != "older" {
		t.Errorf("List() order wrong: %v, %v", list[0].ID, list[1].ID)
	}
}

func TestPendingEscalations(t *testing.T) {
	r := NewRegistry(time.Minute)

	pending := newSession("pending", time.Now())
	pending.Escalation = &models.EscalationRecord{SessionID: "pending", Status: models.EscalationPending}
	_ = r.Create(pending)

	resolved := newSession("resolved", time.Now())
	resolved.Escalation = &models.EscalationRecord{SessionID: "resolved", Status: models.EscalationResolved}
	_ = r.Create(resolved)

	_ = r.Create(newSession("plain", time.Now()))

	got := r.PendingEscalations()
	if len(got) != 1 || got[0].ID != "pending" {
		t.Errorf("PendingEscalations() = %d sessions, want only the pending one", len(got))
	}
}

func TestPurgeExpired(t *testing.T) {
	r := NewRegistry(time.Minute)
	now := time.Now().UTC()

	settled := newSession("settled", now.Add(-time.Hour))
	settled.State = models.SessionCompleted
	completedAt := now.Add(-30 * time.Minute)
	settled.CompletedAt = &completedAt
	_ = r.Create(settled)

	fresh := newSession("fresh", now)
	fresh.State = models.SessionCompleted
	freshAt := now.Add(-10 * time.Second)
	fresh.CompletedAt = &freshAt
	_ = r.Create(fresh)

	// Still running: never purged regardless of age.
	running := newSession("running", now.Add(-2*time.Hour))
	running.State = models.SessionDispatching
	_ = r.Create(running)

	purged := r.purgeExpired(now)
	if len(purged) != 1 || purged[0] != "settled" {
		t.Errorf("purgeExpired() = %v, want [settled]", purged)
	}
	if _, ok := r.Get("settled"); ok {
		t.Error("settled session survived purge")
	}
	if _, ok := r.Get("fresh"); !ok {
		t.Error("session inside the feedback window was purged")
	}
	if _, ok := r.Get("running"); !ok {
		t.Error("running session was purged")
	}
}

func TestWindowFloor(t *testing.T) {
	r := NewRegistry(time.Second)
	if r.window != time.Minute {
		t.Errorf("window = %v, want floor of 1m", r.window)
	}
}
