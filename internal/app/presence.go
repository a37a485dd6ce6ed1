package app

import (
	"sync"
	"time"

	"github.com/huddle-rtc/huddle/internal/api"
	"github.com/huddle-rtc/huddle/internal/domain"
)

// heartbeat broadcasts liveness on a fixed ticker until stopped. stop is
// idempotent and waits for the loop to exit.
type heartbeat struct {
	interval time.Duration
	fn       func()
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

func startHeartbeat(interval time.Duration, fn func()) *heartbeat {
	h := &heartbeat{
		interval: interval,
		fn:       fn,
		done:     make(chan struct{}),
	}
	h.wg.Add(1)
	go h.loop()
	return h
}

func (h *heartbeat) loop() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.fn()
		}
	}
}

func (h *heartbeat) stop() {
	h.once.Do(func() { close(h.done) })
	h.wg.Wait()
}

// reconcile folds a full presence roster into the session set. Members we
// already track are no-ops, so replaying the roster after a channel
// reconnect is safe.
func (m *Manager) reconcile(roster []api.PresenceMeta) {
	for _, meta := range roster {
		if meta.ID == m.self.ID {
			continue
		}
		m.handleUserJoined(domain.Participant{ID: meta.ID, Name: meta.Name})
	}
}

// handleHeartbeat treats a peer's liveness signal as proof of recovery:
// its reconnect attempt counter starts over.
func (m *Manager) handleHeartbeat(id domain.ParticipantID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return
	}
	sess.attempts = 0
}

// RaiseHand broadcasts the local hand state to the room.
func (m *Manager) RaiseHand(raised bool) {
	m.publish(api.NewHandRaised(m.self, raised))
}
