// Package signal implements the websocket client side of the signaling
// channel: room-scoped broadcast plus presence tracking against the hub.
package signal

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/huddle-rtc/huddle/internal/api"
	"github.com/huddle-rtc/huddle/internal/core"
	"github.com/huddle-rtc/huddle/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	sendQueueSize  = 32
	eventQueueSize = 64

	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// Client is a core.SignalChannel over a websocket to the hub. It
// reconnects with backoff and re-announces presence on every reconnect,
// which makes the hub emit a fresh roster sync to this subscriber.
type Client struct {
	hubURL string
	room   domain.RoomID
	self   api.PresenceMeta

	events chan api.Event
	send   chan []byte

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	done   chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

var _ core.SignalChannel = (*Client)(nil)

func NewClient(hubURL string, room domain.RoomID, self domain.Participant) *Client {
	return &Client{
		hubURL: hubURL,
		room:   room,
		self:   api.PresenceMeta{ID: self.ID, Name: self.Name, JoinedAt: time.Now()},
		events: make(chan api.Event, eventQueueSize),
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
		logger: log.With().Str("module", "signal.client").Str("room", string(room)).Logger(),
	}
}

// Connect dials the hub, announces presence, and starts the pumps. It
// returns after the first successful subscription; later drops are
// reconnected in the background until Close.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.setConn(conn)

	c.wg.Add(1)
	go c.run(ctx, conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.hubURL, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxMessageSize)

	join := api.Envelope{Type: api.EnvelopeJoin, Room: c.room, Member: &c.self}
	if err := conn.WriteJSON(join); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// run owns one connection at a time: pumps until it drops, then redials
// with capped linear backoff.
func (c *Client) run(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()
	defer close(c.events)

	attempt := 0
	for {
		c.pump(ctx, conn)

		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		attempt++
		delay := min(time.Duration(attempt)*reconnectBase, reconnectMax)
		c.logger.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("channel dropped, reconnecting")

		select {
		case <-time.After(delay):
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}

		next, err := c.dial(ctx)
		if err != nil {
			c.logger.Error().Err(err).Msg("redial failed")
			conn = nil
			continue
		}
		attempt = 0
		conn = next
		c.setConn(conn)
	}
}

// pump runs the read loop plus a writer goroutine for one connection and
// returns when either side fails.
func (c *Client) pump(ctx context.Context, conn *websocket.Conn) {
	if conn == nil {
		return
	}

	writerDone := make(chan struct{})
	go c.writePump(conn, writerDone)
	// Closing the conn unblocks the writer's next write so both pumps
	// stop together no matter which side failed first.
	defer func() {
		_ = conn.Close()
		<-writerDone
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
		}
		var env api.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.logger.Debug().Err(err).Msg("read error")
			return
		}
		c.dispatch(env)
	}
}

func (c *Client) writePump(conn *websocket.Conn, done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		close(done)
	}()

	for {
		select {
		case data := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("write error")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// dispatch validates one inbound envelope and forwards it as an event.
// Malformed or unknown payloads are dropped, not propagated.
func (c *Client) dispatch(env api.Envelope) {
	switch env.Type {
	case api.EnvelopeBroadcast:
		msg, err := api.Decode(env.Payload)
		if err != nil {
			c.logger.Debug().Err(err).Msg("dropping bad broadcast")
			return
		}
		c.deliver(api.Event{Kind: api.EventMessage, Message: msg})
	case api.EnvelopePresenceState:
		c.deliver(api.Event{Kind: api.EventPresenceSync, Roster: env.Roster})
	case api.EnvelopePresenceJoin:
		if env.Member != nil {
			c.deliver(api.Event{Kind: api.EventPresenceJoin, Member: env.Member})
		}
	case api.EnvelopePresenceLeave:
		if env.Member != nil {
			c.deliver(api.Event{Kind: api.EventPresenceLeave, Member: env.Member})
		}
	case api.EnvelopeError:
		c.logger.Warn().Str("error", env.Error).Msg("hub error")
	default:
		c.logger.Debug().Str("type", string(env.Type)).Msg("unknown envelope")
	}
}

func (c *Client) deliver(ev api.Event) {
	select {
	case c.events <- ev:
	default:
		// Consumer is behind; drop, the channel is best-effort.
		c.logger.Warn().Str("kind", ev.Kind.String()).Msg("event queue full, dropping")
	}
}

// Broadcast publishes fire-and-forget. A full outbound queue drops the
// message rather than blocking the caller.
func (c *Client) Broadcast(_ context.Context, msg api.Message) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return core.ErrChannelClosed
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data, err := json.Marshal(api.Envelope{
		Type:    api.EnvelopeBroadcast,
		Room:    c.room,
		Payload: payload,
	})
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (c *Client) Events() <-chan api.Event { return c.events }

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
	return nil
}
