package broadcast

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// WSServer exposes the hub over a persistent duplex websocket connection.
//
// Outbound frames are Event envelopes (plus ping keepalives); inbound frames
// are ControlMessages. A client that stops answering pings within the pong
// timeout is disconnected; that is a transport failure, never a session failure.
type WSServer struct {
	hub          *Hub
	pingInterval time.Duration
	pongTimeout  time.Duration
}

// NewWSServer creates the websocket front end for a hub.
func NewWSServer(hub *Hub, pingInterval, pongTimeout time.Duration) *WSServer {
	if pingInterval <= 0 {
		pingInterval = 15 * time.Second
	}
	if pongTimeout <= pingInterval {
		pongTimeout = 3 * pingInterval
	}
	return &WSServer{hub: hub, pingInterval: pingInterval, pongTimeout: pongTimeout}
}

// HandleSubscribe upgrades the request and streams events until the client
// disconnects, stops answering pings, or the server shuts down. The optional
// session_id query parameter scopes the subscription; clients can also attach
// later via a start_log_streaming control message.
func (s *WSServer) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // dashboard origins are not fixed; auth is out of scope here
	})
	if err != nil {
		log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	sub := s.hub.Subscribe(sessionID)
	defer s.hub.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	log.Info().Str("session", sessionID).Msg("Broadcast client connected")

	var writeMu sync.Mutex
	lastPong := newAtomicTime(time.Now())

	// Writer: drains the subscriber queue.
	go func() {
		defer cancel()
		for {
			ev, ok := sub.Next(ctx)
			if !ok {
				return
			}
			writeMu.Lock()
			err := wsjson.Write(ctx, conn, ev)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}()

	// Keepalive: ping on an interval, disconnect on pong silence.
	go func() {
		defer cancel()
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if time.Since(lastPong.get()) > s.pongTimeout {
					log.Warn().Str("session", sessionID).Msg("Broadcast client missed pong window, disconnecting")
					conn.Close(websocket.StatusPolicyViolation, "pong timeout")
					return
				}
				writeMu.Lock()
				err := wsjson.Write(ctx, conn, Event{Type: TypePing, Timestamp: time.Now().UTC()})
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	// Reader: control messages only.
	for {
		var msg ControlMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			break
		}
		if err := msg.Validate(); err != nil {
			log.Warn().Err(err).Msg("Rejected control message")
			continue
		}
		switch msg.Kind {
		case ControlPong:
			lastPong.set(time.Now())
		case ControlStartLogStreaming:
			s.hub.Retarget(sub, msg.SessionID)
			log.Info().Str("session", msg.SessionID).Msg("Broadcast client attached to session stream")
		}
	}

	conn.Close(websocket.StatusNormalClosure, "")
	log.Info().Str("session", sessionID).Msg("Broadcast client disconnected")
}

// atomicTime is a mutex-guarded timestamp shared between reader and keepalive.
type atomicTime struct {
	mu sync.Mutex
	t  time.Time
}

func newAtomicTime(t time.Time) *atomicTime {
	return &atomicTime{t: t}
}

func (a *atomicTime) get() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.t
}

func (a *atomicTime) set(t time.Time) {
	a.mu.Lock()
	a.t = t
	a.mu.Unlock()
}
