package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/deskrouter/deskrouter/pkg/models"
)

const (
	reconnectInitial  = 1 * time.Second
	reconnectFactor   = 2.0
	reconnectCap      = 30 * time.Second
	reconnectAttempts = 5
)

// Client is a reconnecting broadcast consumer.
//
// Connection loss triggers exponential backoff (1s, factor 2, capped at 30s)
// for up to 5 attempts; exhaustion is surfaced to the caller as a disconnect,
// never as a session failure. Delivery upstream is at-least-once, so the
// client deduplicates on the per-agent sequence number before invoking the
// handler.
type Client struct {
	url       string
	sessionID string
	handler   func(Event)

	// OnDisconnect, if set, is called once the reconnect budget is exhausted.
	OnDisconnect func(error)

	mu   sync.Mutex
	seen map[string]uint64 // session|agent → highest seq handled
}

// NewClient creates a consumer for the given ws endpoint and session. The
// handler receives each event exactly once per sequence number.
func NewClient(url, sessionID string, handler func(Event)) *Client {
	return &Client{
		url:       url,
		sessionID: sessionID,
		handler:   handler,
		seen:      make(map[string]uint64),
	}
}

// Run connects and consumes until ctx is canceled or the reconnect budget is
// spent. The dedupe state survives reconnects, so replayed terminal events do
// not reach the handler twice.
func (c *Client) Run(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = reconnectInitial
	policy.Multiplier = reconnectFactor
	policy.MaxInterval = reconnectCap
	policy.MaxElapsedTime = 0

	attempt := func() error {
		err := c.consume(ctx)
		if err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("Broadcast connection lost, reconnecting")
		}
		return err
	}

	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(policy, reconnectAttempts), ctx))
	if err != nil && ctx.Err() == nil {
		terr := &models.TransportError{Op: "reconnect", Err: err}
		if c.OnDisconnect != nil {
			c.OnDisconnect(terr)
		}
		return terr
	}
	return err
}

// consume holds one connection open: attaches to the session stream, answers
// pings, dedupes, and forwards events. A nil return means a clean shutdown.
func (c *Client) consume(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, c.url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if c.sessionID != "" {
		attach := ControlMessage{Kind: ControlStartLogStreaming, SessionID: c.sessionID}
		if err := wsjson.Write(ctx, conn, attach); err != nil {
			return fmt.Errorf("attach session stream: %w", err)
		}
	}

	for {
		var ev Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}

		if ev.Type == TypePing {
			if err := wsjson.Write(ctx, conn, ControlMessage{Kind: ControlPong}); err != nil {
				return fmt.Errorf("send pong: %w", err)
			}
			continue
		}

		if c.duplicate(ev) {
			continue
		}
		c.handler(ev)
	}
}

// duplicate records and checks the per-agent sequence high-water mark.
func (c *Client) duplicate(ev Event) bool {
	key := ev.SessionID + "|" + ev.AgentName
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.Seq <= c.seen[key] {
		return true
	}
	c.seen[key] = ev.Seq
	return false
}
