// Package signalhub is the room-scoped broadcast server. It holds no
// meeting state beyond presence: every signaling payload is opaque fan-out
// and the peers negotiate directly with each other.
package signalhub

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/huddle-rtc/huddle/internal/api"
	"github.com/huddle-rtc/huddle/internal/domain"
)

const joinWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Hub struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]*room
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[domain.RoomID]*room)}
}

func (h *Hub) getOrCreate(id domain.RoomID) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[id]
	if !ok {
		r = newRoom(id)
		h.rooms[id] = r
		activeRooms.Set(float64(len(h.rooms)))
	}
	return r
}

func (h *Hub) dropIfEmpty(id domain.RoomID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[id]
	if !ok {
		return
	}
	if r.closeIfEmpty() {
		delete(h.rooms, id)
		activeRooms.Set(float64(len(h.rooms)))
	}
}

// RoomCount reports the number of live rooms.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// HandleWS upgrades one subscriber. The first frame must be a join
// envelope naming the room and the member; everything after that is
// broadcast fan-out until the socket drops.
func (h *Hub) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signalhub").Msg("ws upgrade")
		return
	}
	conn := newWSConn(ws)
	go conn.writePump()

	_ = ws.SetReadDeadline(time.Now().Add(joinWait))
	var join api.Envelope
	if err := ws.ReadJSON(&join); err != nil {
		conn.Close()
		return
	}
	roomID, meta, ok := validateJoin(join)
	if !ok {
		sendTo(conn, api.Envelope{Type: api.EnvelopeError, Error: "bad join"})
		conn.Close()
		return
	}
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPingHandler(func(appData string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		_ = ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		return nil
	})

	connectionsTotal.Inc()
	activeConnections.Inc()
	defer activeConnections.Dec()

	// The last member leaving can retire the room between lookup and add;
	// a retired room rejects the add, so look it up again until one sticks.
	var r *room
	for {
		r = h.getOrCreate(roomID)
		if h.subscribe(r, meta, conn) {
			break
		}
	}

	log.Info().Str("module", "signalhub").
		Str("room", string(roomID)).
		Str("member", string(meta.ID)).
		Msg("subscribed")

	defer func() {
		conn.Close()
		if removed, _ := r.remove(meta.ID, conn); removed {
			r.broadcastFrom(meta.ID, api.Envelope{
				Type:   api.EnvelopePresenceLeave,
				Room:   roomID,
				Member: &meta,
			})
		}
		h.dropIfEmpty(roomID)
		log.Info().Str("module", "signalhub").
			Str("room", string(roomID)).
			Str("member", string(meta.ID)).
			Msg("unsubscribed")
	}()

	for {
		var env api.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			return
		}
		messagesTotal.WithLabelValues(string(env.Type), "in").Inc()
		h.handleEnvelope(r, roomID, meta, conn, env)
	}
}

// subscribe registers the member, syncs the full roster down to it, and
// announces the join to everyone else. It reports false when the room was
// retired before the add landed.
func (h *Hub) subscribe(r *room, meta api.PresenceMeta, conn *wsConn) bool {
	if !r.add(meta, conn) {
		return false
	}
	sendTo(conn, api.Envelope{
		Type:   api.EnvelopePresenceState,
		Room:   r.id,
		Roster: r.roster(),
	})
	r.broadcastFrom(meta.ID, api.Envelope{
		Type:   api.EnvelopePresenceJoin,
		Room:   r.id,
		Member: &meta,
	})
	return true
}

func (h *Hub) handleEnvelope(r *room, roomID domain.RoomID, meta api.PresenceMeta, conn *wsConn, env api.Envelope) {
	switch env.Type {
	case api.EnvelopeBroadcast:
		msg, err := api.Decode(env.Payload)
		if err != nil {
			log.Debug().Err(err).Str("module", "signalhub").Str("member", string(meta.ID)).Msg("bad broadcast dropped")
			sendTo(conn, api.Envelope{Type: api.EnvelopeError, Room: roomID, Error: "bad payload"})
			return
		}
		if msg.From != meta.ID {
			sendTo(conn, api.Envelope{Type: api.EnvelopeError, Room: roomID, Error: "sender mismatch"})
			return
		}
		r.broadcastFrom(meta.ID, api.Envelope{
			Type:    api.EnvelopeBroadcast,
			Room:    roomID,
			Payload: env.Payload,
		})
	case api.EnvelopeJoin:
		// A repeat join on a live socket just refreshes the roster view.
		sendTo(conn, api.Envelope{
			Type:   api.EnvelopePresenceState,
			Room:   roomID,
			Roster: r.roster(),
		})
	default:
		log.Debug().Str("module", "signalhub").Str("type", string(env.Type)).Msg("unknown envelope")
	}
}

func validateJoin(env api.Envelope) (domain.RoomID, api.PresenceMeta, bool) {
	if env.Type != api.EnvelopeJoin || env.Member == nil || env.Member.ID == "" {
		return "", api.PresenceMeta{}, false
	}
	roomID, err := domain.ParseRoomID(string(env.Room))
	if err != nil {
		return "", api.PresenceMeta{}, false
	}
	meta := *env.Member
	if meta.JoinedAt.IsZero() {
		meta.JoinedAt = time.Now()
	}
	return roomID, meta, true
}
