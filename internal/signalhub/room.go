package signalhub

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/huddle-rtc/huddle/internal/api"
	"github.com/huddle-rtc/huddle/internal/domain"
)

type member struct {
	meta api.PresenceMeta
	conn *wsConn
}

// room is one broadcast scope. Every envelope published into it fans out
// to all subscribers except the publisher.
type room struct {
	id domain.RoomID

	mu      sync.RWMutex
	closed  bool
	members map[domain.ParticipantID]*member
}

func newRoom(id domain.RoomID) *room {
	return &room{
		id:      id,
		members: make(map[domain.ParticipantID]*member),
	}
}

// add registers a subscriber. A reconnecting member replaces its previous
// socket, which covers clients that re-announce after a channel drop. It
// reports false when the room has already been retired by closeIfEmpty, in
// which case the caller must look the room up again.
func (r *room) add(meta api.PresenceMeta, conn *wsConn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if prev, ok := r.members[meta.ID]; ok {
		prev.conn.Close()
	}
	r.members[meta.ID] = &member{meta: meta, conn: conn}
	return true
}

// closeIfEmpty marks an empty room closed so no further add can land on it.
// Returns whether the room was retired.
func (r *room) closeIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.members) > 0 {
		return false
	}
	r.closed = true
	return true
}

// remove drops a subscriber, but only if conn still owns the slot. Returns
// whether anything was removed and whether the room is now empty.
func (r *room) remove(id domain.ParticipantID, conn *wsConn) (removed, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok || m.conn != conn {
		return false, len(r.members) == 0
	}
	delete(r.members, id)
	return true, len(r.members) == 0
}

// roster snapshots the current membership.
func (r *room) roster() []api.PresenceMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]api.PresenceMeta, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.meta)
	}
	return out
}

// broadcastFrom fans an envelope out to every member except the sender.
func (r *room) broadcastFrom(from domain.ParticipantID, env api.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signalhub").Msg("broadcast marshal")
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, m := range r.members {
		if id == from {
			continue
		}
		if err := m.conn.TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "signalhub").Str("member", string(id)).Msg("fanout dropped")
			continue
		}
		messagesTotal.WithLabelValues(string(env.Type), "out").Inc()
	}
}

// sendTo delivers an envelope to a single subscriber socket.
func sendTo(conn *wsConn, env api.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signalhub").Msg("send marshal")
		return
	}
	if err := conn.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "signalhub").Msg("direct send dropped")
		return
	}
	messagesTotal.WithLabelValues(string(env.Type), "out").Inc()
}
