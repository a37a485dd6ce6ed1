package app

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/huddle-rtc/huddle/internal/core"
	"github.com/huddle-rtc/huddle/internal/domain"
)

const chatChannelLabel = "huddle-chat"

// chatPayload is the msgpack frame exchanged over the per-peer data
// channel. Names ride along so late joiners can render without a roster
// lookup.
type chatPayload struct {
	Body   string `msgpack:"body"`
	Name   string `msgpack:"name"`
	SentAt int64  `msgpack:"ts"`
}

// SendChat delivers a message to every peer with an open data channel,
// best effort.
func (m *Manager) SendChat(body string) error {
	frame, err := msgpack.Marshal(chatPayload{
		Body:   body,
		Name:   m.self.Name,
		SentAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	targets := make(map[domain.ParticipantID]core.DataChannel, len(m.sessions))
	for id, sess := range m.sessions {
		if sess.data != nil {
			targets[id] = sess.data
		}
	}
	m.mu.Unlock()

	for id, dc := range targets {
		if err := dc.Send(frame); err != nil {
			m.logger.Warn().Err(err).Str("peer", string(id)).Msg("chat send failed")
		}
	}
	return nil
}

func (m *Manager) bindDataLocked(sess *peerSession, dc core.DataChannel) {
	sess.data = dc
	id := sess.peer.ID
	dc.OnMessage(func(data []byte) {
		m.handleChatData(id, data)
	})
}

func (m *Manager) handleChatData(peer domain.ParticipantID, data []byte) {
	var p chatPayload
	if err := msgpack.Unmarshal(data, &p); err != nil || p.Body == "" {
		m.logger.Debug().Str("peer", string(peer)).Msg("malformed chat frame dropped")
		return
	}
	name := p.Name
	m.mu.Lock()
	if sess, ok := m.sessions[peer]; ok && sess.peer.Name != "" {
		name = sess.peer.Name
	}
	m.mu.Unlock()

	m.listeners.fireChat(peer, name, p.Body, time.UnixMilli(p.SentAt))
}
