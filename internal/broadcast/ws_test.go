package broadcast_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskrouter/deskrouter/internal/broadcast"
	"github.com/deskrouter/deskrouter/pkg/models"
)

// Full round trip: hub → websocket server → reconnecting client, including
// ping/pong keepalive and sequence stamping.
func TestWebsocketEndToEnd(t *testing.T) {
	hub := broadcast.NewHub(64)
	ws := broadcast.NewWSServer(hub, 50*time.Millisecond, 500*time.Millisecond)

	srv := httptest.NewServer(http.HandlerFunc(ws.HandleSubscribe))
	defer srv.Close()

	events := make(chan broadcast.Event, 16)
	client := broadcast.NewClient(
		"ws"+strings.TrimPrefix(srv.URL, "http"),
		"s1",
		func(ev broadcast.Event) { events <- ev },
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 },
		2*time.Second, 10*time.Millisecond, "client never connected")

	hub.Publish(statusEvent("s1", "technical", models.AgentProcessing, 35))
	hub.Publish(statusEvent("s1", "technical", models.AgentFinished, 100))

	var got []broadcast.Event
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out with %d events", len(got))
		}
	}

	assert.Equal(t, string(models.AgentProcessing), got[0].Status)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, string(models.AgentFinished), got[1].Status)
	assert.Equal(t, uint64(2), got[1].Seq)

	// Pings must never reach the handler.
	for _, ev := range got {
		assert.NotEqual(t, broadcast.TypePing, ev.Type)
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err, "canceled client should shut down cleanly")
	case <-time.After(3 * time.Second):
		t.Fatal("client did not stop after cancel")
	}
}
