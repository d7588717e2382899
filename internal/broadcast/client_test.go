package broadcast

import "testing"

func TestClientDeduplicatesOnSequence(t *testing.T) {
	var delivered []uint64
	c := NewClient("ws://unused", "s1", nil)
	c.handler = func(ev Event) { delivered = append(delivered, ev.Seq) }

	feed := []Event{
		{Type: EventAgentStatus, SessionID: "s1", AgentName: "technical", Seq: 1},
		{Type: EventAgentStatus, SessionID: "s1", AgentName: "technical", Seq: 2},
		// Replay after reconnect: same agent, already-seen sequences.
		{Type: EventAgentStatus, SessionID: "s1", AgentName: "technical", Seq: 1},
		{Type: EventAgentStatus, SessionID: "s1", AgentName: "technical", Seq: 2},
		// Sibling agent has its own counter.
		{Type: EventAgentStatus, SessionID: "s1", AgentName: "billing", Seq: 1},
		{Type: EventAgentStatus, SessionID: "s1", AgentName: "technical", Seq: 3},
	}
	for _, ev := range feed {
		if !c.duplicate(ev) {
			c.handler(ev)
		}
	}

	want := []uint64{1, 2, 1, 3}
	if len(delivered) != len(want) {
		t.Fatalf("delivered %v, want %v", delivered, want)
	}
	for i := range want {
		if delivered[i] != want[i] {
			t.Fatalf("delivered %v, want %v", delivered, want)
		}
	}
}
