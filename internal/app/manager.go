// Package app drives one room membership: it owns the peer session set,
// runs offer/answer/ICE exchanges over the signaling channel, and keeps
// the sessions synchronized with local identity, media, and intent.
package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/huddle-rtc/huddle/internal/api"
	"github.com/huddle-rtc/huddle/internal/config"
	"github.com/huddle-rtc/huddle/internal/core"
	"github.com/huddle-rtc/huddle/internal/domain"
)

// ScreenCaptureFunc acquires a display capture source on demand.
type ScreenCaptureFunc func() (core.MediaSource, error)

// Manager is the peer connection manager for one room membership. Every
// session mutation goes through m.mu, which serializes signaling events,
// timers, and API calls into one dispatch path.
type Manager struct {
	cfg     *config.Config
	self    domain.Participant
	room    domain.RoomID
	channel core.SignalChannel
	factory core.TransportFactory

	screenFn ScreenCaptureFunc

	mu       sync.Mutex
	sessions map[domain.ParticipantID]*peerSession
	media    core.MediaSource
	screen   core.MediaSource
	audioOn  bool
	videoOn  bool
	closed   bool
	epochSeq uint64

	hb        *heartbeat
	listeners Listeners
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    zerolog.Logger
}

// NewManager wires a manager for the given room and identity. media may be
// nil for a receive-only participant.
func NewManager(
	cfg *config.Config,
	self domain.Participant,
	room domain.RoomID,
	channel core.SignalChannel,
	factory core.TransportFactory,
	media core.MediaSource,
) *Manager {
	return &Manager{
		cfg:      cfg,
		self:     self,
		room:     room,
		channel:  channel,
		factory:  factory,
		media:    media,
		audioOn:  media != nil,
		videoOn:  media != nil,
		sessions: make(map[domain.ParticipantID]*peerSession),
		logger: log.With().
			Str("module", "app.manager").
			Str("room", string(room)).
			Str("self", string(self.ID)).
			Logger(),
	}
}

// UseScreenCapture installs the display capture hook used by
// StartScreenShare.
func (m *Manager) UseScreenCapture(fn ScreenCaptureFunc) { m.screenFn = fn }

func (m *Manager) OnRemoteStream(fn RemoteStreamFunc) { m.listeners.OnRemoteStream(fn) }
func (m *Manager) OnPeerLeft(fn PeerLeftFunc)         { m.listeners.OnPeerLeft(fn) }
func (m *Manager) OnHandRaised(fn HandRaisedFunc)     { m.listeners.OnHandRaised(fn) }
func (m *Manager) OnChatMessage(fn ChatFunc)          { m.listeners.OnChatMessage(fn) }

// JoinMeeting announces local presence and starts consuming channel
// events. The channel must already be subscribed.
func (m *Manager) JoinMeeting(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("manager closed")
	}
	if m.ctx != nil {
		m.mu.Unlock()
		return errors.New("already joined")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.hb = startHeartbeat(m.cfg.HeartbeatInterval, func() {
		m.publish(api.NewHeartbeat(m.self.ID))
	})
	m.wg.Add(1)
	go m.run()
	m.mu.Unlock()

	m.publish(api.NewUserJoined(m.self))
	m.logger.Info().Msg("joined meeting")
	return nil
}

// LeaveMeeting deterministically unwinds everything: heartbeat first so it
// cannot reference torn-down sessions, then every session, then local
// media, then the channel subscription.
func (m *Manager) LeaveMeeting() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	hb := m.hb
	m.mu.Unlock()

	if hb != nil {
		hb.stop()
	}
	m.publish(api.NewUserLeft(m.self.ID))

	m.mu.Lock()
	sessions := make([]*peerSession, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[domain.ParticipantID]*peerSession)
	media, screen := m.media, m.screen
	m.screen = nil
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.stopTimers()
		if sess.data != nil {
			_ = sess.data.Close()
		}
		_ = sess.transport.Close()
		sess.state = StateClosed
		m.listeners.firePeerLeft(sess.peer.ID)
	}
	if screen != nil {
		_ = screen.Close()
	}
	if media != nil {
		_ = media.Close()
	}

	err := m.channel.Close()
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info().Msg("left meeting")
	return err
}

func (m *Manager) run() {
	defer m.wg.Done()
	for ev := range m.channel.Events() {
		m.handleEvent(ev)
	}
}

func (m *Manager) handleEvent(ev api.Event) {
	switch ev.Kind {
	case api.EventMessage:
		m.handleMessage(ev.Message)
	case api.EventPresenceSync:
		m.reconcile(ev.Roster)
	case api.EventPresenceJoin:
		if ev.Member == nil {
			return
		}
		m.handleUserJoined(domain.Participant{ID: ev.Member.ID, Name: ev.Member.Name})
	case api.EventPresenceLeave:
		if ev.Member == nil {
			return
		}
		m.handleUserLeft(ev.Member.ID)
	}
}

func (m *Manager) handleMessage(msg *api.Message) {
	if msg.From == m.self.ID {
		return // own echo
	}
	if msg.To != "" && msg.To != m.self.ID {
		return // addressed elsewhere; the channel fans out to everyone
	}
	switch msg.Kind {
	case api.KindOffer:
		m.handleOffer(msg)
	case api.KindAnswer:
		m.handleAnswer(msg)
	case api.KindICECandidate:
		m.handleCandidate(msg)
	case api.KindUserJoined:
		m.handleUserJoined(domain.Participant{ID: msg.From, Name: msg.Name})
	case api.KindUserLeft:
		m.handleUserLeft(msg.From)
	case api.KindHandRaised:
		m.listeners.fireHandRaised(msg.From, msg.Name, msg.Raised)
	case api.KindHeartbeat:
		m.handleHeartbeat(msg.From)
	}
}

// handleUserJoined creates an initiator session for a newly announced
// peer. Duplicate announcements are ignored while a session exists.
func (m *Manager) handleUserJoined(peer domain.Participant) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if _, ok := m.sessions[peer.ID]; ok {
		m.mu.Unlock()
		m.logger.Debug().Str("peer", string(peer.ID)).Msg("duplicate join ignored")
		return
	}
	sess := &peerSession{peer: peer}
	if err := m.wireTransportLocked(sess, true); err != nil {
		m.mu.Unlock()
		m.logger.Error().Err(err).Str("peer", string(peer.ID)).Msg("transport create failed")
		return
	}
	m.sessions[peer.ID] = sess
	sess.state = StateOffering
	transport, epoch := sess.transport, sess.epoch
	m.mu.Unlock()

	m.wg.Add(1)
	go m.negotiateOffer(peer, transport, epoch)
}

func (m *Manager) handleUserLeft(id domain.ParticipantID) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		m.closePeerLocked(sess, true)
	}
	m.mu.Unlock()
}

// handleOffer answers an inbound offer. If a session already exists for
// the sender it is torn down first: last offer wins, no glare resolution
// beyond this override.
func (m *Manager) handleOffer(msg *api.Message) {
	peer := domain.Participant{ID: msg.From, Name: msg.Name}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if old, ok := m.sessions[peer.ID]; ok {
		m.logger.Info().Str("peer", string(peer.ID)).Msg("offer collision, newest wins")
		m.closePeerLocked(old, false)
	}
	sess := &peerSession{peer: peer}
	if err := m.wireTransportLocked(sess, false); err != nil {
		m.mu.Unlock()
		m.logger.Error().Err(err).Str("peer", string(peer.ID)).Msg("transport create failed")
		return
	}
	m.sessions[peer.ID] = sess
	sess.state = StateAnswering
	transport, epoch := sess.transport, sess.epoch
	m.mu.Unlock()

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}
	m.wg.Add(1)
	go m.negotiateAnswer(peer, transport, epoch, offer)
}

func (m *Manager) handleAnswer(msg *api.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[msg.From]
	if !ok || sess.state != StateAwaitingAnswer {
		return // stale or unmatched answer, a delivery-gap no-op
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}
	if err := sess.transport.AcceptAnswer(answer); err != nil {
		negErr := &core.NegotiationError{Peer: msg.From, Op: "accept answer", Err: err}
		m.logger.Error().Err(negErr).Msg("discarding session")
		m.closePeerLocked(sess, false)
		return
	}
	sess.state = StateConnecting
}

// handleCandidate applies a remote candidate. Candidates that arrive
// before the remote description are dropped, not queued; under adverse
// ordering this can cost a connection attempt, which the reconnect policy
// then retries.
func (m *Manager) handleCandidate(msg *api.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[msg.From]
	if !ok {
		return // no session yet; silently ignored
	}
	if !sess.transport.HasRemoteDescription() {
		m.logger.Debug().Str("peer", string(msg.From)).Msg("candidate before description, dropped")
		return
	}
	if err := sess.transport.AddICECandidate(*msg.Candidate); err != nil {
		negErr := &core.NegotiationError{Peer: msg.From, Op: "add candidate", Err: err}
		m.logger.Error().Err(negErr).Msg("discarding session")
		m.closePeerLocked(sess, false)
	}
}

// negotiateOffer generates and publishes the local offer. The epoch guard
// abandons the result if the session was torn down or replaced while the
// description was being generated.
func (m *Manager) negotiateOffer(peer domain.Participant, transport core.PeerTransport, epoch uint64) {
	defer m.wg.Done()
	offer, err := transport.CreateOffer(m.ctx)

	m.mu.Lock()
	sess, ok := m.sessions[peer.ID]
	if !ok || sess.epoch != epoch {
		m.mu.Unlock()
		return
	}
	if err != nil {
		negErr := &core.NegotiationError{Peer: peer.ID, Op: "create offer", Err: err}
		m.logger.Error().Err(negErr).Msg("discarding session")
		m.closePeerLocked(sess, false)
		m.mu.Unlock()
		return
	}
	if sess.state != StateOffering {
		m.mu.Unlock()
		return
	}
	sess.state = StateAwaitingAnswer
	m.mu.Unlock()

	m.publish(api.NewOffer(m.self.ID, peer.ID, m.self.Name, offer.SDP))
}

func (m *Manager) negotiateAnswer(peer domain.Participant, transport core.PeerTransport, epoch uint64, offer webrtc.SessionDescription) {
	defer m.wg.Done()
	answer, err := transport.CreateAnswer(m.ctx, offer)

	m.mu.Lock()
	sess, ok := m.sessions[peer.ID]
	if !ok || sess.epoch != epoch {
		m.mu.Unlock()
		return
	}
	if err != nil {
		negErr := &core.NegotiationError{Peer: peer.ID, Op: "create answer", Err: err}
		m.logger.Error().Err(negErr).Msg("discarding session")
		m.closePeerLocked(sess, false)
		m.mu.Unlock()
		return
	}
	sess.state = StateConnecting
	m.mu.Unlock()

	m.publish(api.NewAnswer(m.self.ID, peer.ID, m.self.Name, answer.SDP))
}

// wireTransportLocked gives sess a fresh transport: local tracks attached,
// callbacks bound to the new epoch, data channel created on the initiator
// side.
func (m *Manager) wireTransportLocked(sess *peerSession, initiator bool) error {
	transport, err := m.factory()
	if err != nil {
		return err
	}
	m.epochSeq++
	sess.epoch = m.epochSeq
	sess.transport = transport
	sess.data = nil
	sess.state = StateNew

	m.attachLocalTracksLocked(sess)

	id, epoch := sess.peer.ID, sess.epoch
	transport.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		m.publish(api.NewICECandidate(m.self.ID, id, ci))
	})
	transport.OnStateChange(func(s webrtc.PeerConnectionState) {
		m.onTransportState(id, epoch, s)
	})
	transport.OnTrack(func(rm core.RemoteMedia) {
		m.onRemoteTrack(id, epoch, rm)
	})
	if initiator {
		dc, err := transport.CreateDataChannel(chatChannelLabel)
		if err != nil {
			m.logger.Warn().Err(err).Str("peer", string(id)).Msg("data channel create failed")
		} else {
			m.bindDataLocked(sess, dc)
		}
	} else {
		transport.OnDataChannel(func(dc core.DataChannel) {
			m.onDataChannel(id, epoch, dc)
		})
	}
	return nil
}

func (m *Manager) attachLocalTracksLocked(sess *peerSession) {
	if m.media == nil {
		return
	}
	for _, track := range m.media.Tracks() {
		if err := sess.transport.AddTrack(track); err != nil {
			m.logger.Warn().Err(err).Str("peer", string(sess.peer.ID)).Msg("add track failed")
		}
	}
	if m.screen != nil {
		if vt := m.screen.VideoTrack(); vt != nil {
			m.replaceOnSession(sess, webrtc.RTPCodecTypeVideo, vt)
		}
	} else if !m.videoOn {
		m.replaceOnSession(sess, webrtc.RTPCodecTypeVideo, nil)
	}
	if !m.audioOn {
		m.replaceOnSession(sess, webrtc.RTPCodecTypeAudio, nil)
	}
}

func (m *Manager) onTransportState(id domain.ParticipantID, epoch uint64, s webrtc.PeerConnectionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	sess, ok := m.sessions[id]
	if !ok || sess.epoch != epoch {
		return
	}

	switch s {
	case webrtc.PeerConnectionStateConnected:
		sess.state = StateConnected
		sess.attempts = 0
		if sess.graceTimer != nil {
			sess.graceTimer.Stop()
			sess.graceTimer = nil
		}
		m.logger.Info().Str("peer", string(id)).Msg("peer connected")
	case webrtc.PeerConnectionStateDisconnected:
		if sess.state != StateConnected && sess.state != StateConnecting {
			return
		}
		sess.state = StateDisconnected
		sess.graceTimer = time.AfterFunc(m.cfg.DisconnectGrace, func() {
			m.onGraceExpired(id, epoch)
		})
		m.logger.Warn().Str("peer", string(id)).Dur("grace", m.cfg.DisconnectGrace).Msg("peer disconnected, grace started")
	case webrtc.PeerConnectionStateFailed:
		if sess.state == StateFailed || sess.state == StateClosed {
			return
		}
		m.failSessionLocked(sess)
	}
}

func (m *Manager) onGraceExpired(id domain.ParticipantID, epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok || sess.epoch != epoch || sess.state != StateDisconnected {
		return
	}
	m.logger.Warn().Str("peer", string(id)).Msg("grace expired")
	m.failSessionLocked(sess)
}

// failSessionLocked runs the bounded reconnection policy: linear backoff,
// permanent removal once attempts are exhausted. A successful retry goes
// through a fresh transport and a full renegotiation.
func (m *Manager) failSessionLocked(sess *peerSession) {
	sess.stopTimers()
	sess.state = StateFailed
	sess.attempts++
	id := sess.peer.ID

	if sess.attempts >= m.cfg.ReconnectMaxAttempts {
		m.logger.Warn().Str("peer", string(id)).Int("attempts", sess.attempts).Msg("reconnect attempts exhausted, peer gone")
		m.closePeerLocked(sess, true)
		return
	}

	_ = sess.transport.Close()
	delay := time.Duration(sess.attempts) * m.cfg.ReconnectBackoff
	epoch := sess.epoch
	m.logger.Info().Str("peer", string(id)).Int("attempt", sess.attempts).Dur("delay", delay).Msg("scheduling reconnect")
	sess.retryTimer = time.AfterFunc(delay, func() {
		m.retry(id, epoch)
	})
}

func (m *Manager) retry(id domain.ParticipantID, epoch uint64) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	sess, ok := m.sessions[id]
	if !ok || sess.epoch != epoch || sess.state != StateFailed {
		m.mu.Unlock()
		return
	}
	attempts := sess.attempts
	if err := m.wireTransportLocked(sess, true); err != nil {
		m.logger.Error().Err(err).Str("peer", string(id)).Msg("retry transport create failed")
		m.closePeerLocked(sess, true)
		m.mu.Unlock()
		return
	}
	sess.attempts = attempts
	sess.state = StateOffering
	peer, transport, newEpoch := sess.peer, sess.transport, sess.epoch
	m.mu.Unlock()

	m.wg.Add(1)
	go m.negotiateOffer(peer, transport, newEpoch)
}

func (m *Manager) onRemoteTrack(id domain.ParticipantID, epoch uint64, rm core.RemoteMedia) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok || sess.epoch != epoch {
		m.mu.Unlock()
		return
	}
	name := sess.peer.Name
	m.mu.Unlock()

	m.listeners.fireRemoteStream(id, rm, name)
}

func (m *Manager) onDataChannel(id domain.ParticipantID, epoch uint64, dc core.DataChannel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok || sess.epoch != epoch {
		return
	}
	m.bindDataLocked(sess, dc)
}

// closePeerLocked is terminal: transport and data channel closed, session
// removed. notify fires the peer-left listeners so the UI drops the tile.
func (m *Manager) closePeerLocked(sess *peerSession, notify bool) {
	sess.stopTimers()
	if sess.data != nil {
		_ = sess.data.Close()
	}
	_ = sess.transport.Close()
	sess.state = StateClosed
	delete(m.sessions, sess.peer.ID)
	if notify {
		go m.listeners.firePeerLeft(sess.peer.ID)
	}
}

func (m *Manager) publish(msg api.Message) {
	ctx := m.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := m.channel.Broadcast(ctx, msg); err != nil {
		m.logger.Warn().Err(err).Str("kind", string(msg.Kind)).Msg("broadcast failed")
	}
}

// ToggleLocalAudio pauses or resumes the outbound audio of every session
// by swapping the sender track, never renegotiating.
func (m *Manager) ToggleLocalAudio(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.media == nil {
		return
	}
	m.audioOn = enabled
	var track webrtc.TrackLocal
	if enabled {
		track = m.media.AudioTrack()
	}
	m.swapTrackLocked(webrtc.RTPCodecTypeAudio, track)
}

// ToggleLocalVideo controls the camera feed. While a screen share is
// active the camera is already replaced, so only the intent is recorded.
func (m *Manager) ToggleLocalVideo(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.media == nil {
		return
	}
	m.videoOn = enabled
	if m.screen != nil {
		return
	}
	var track webrtc.TrackLocal
	if enabled {
		track = m.media.VideoTrack()
	}
	m.swapTrackLocked(webrtc.RTPCodecTypeVideo, track)
}

// swapTrackLocked applies a track swap to every session, best effort: one
// peer's failure never blocks the others.
func (m *Manager) swapTrackLocked(kind webrtc.RTPCodecType, track webrtc.TrackLocal) {
	for _, sess := range m.sessions {
		m.replaceOnSession(sess, kind, track)
	}
}

func (m *Manager) replaceOnSession(sess *peerSession, kind webrtc.RTPCodecType, track webrtc.TrackLocal) {
	if err := sess.transport.ReplaceTrack(kind, track); err != nil {
		m.logger.Warn().Err(err).Str("peer", string(sess.peer.ID)).Str("kind", kind.String()).Msg("track swap failed")
	}
}

// StartScreenShare swaps every session's outbound video to a display
// capture. When the user ends the share through the OS chrome, the camera
// feed is restored automatically.
func (m *Manager) StartScreenShare() (core.MediaSource, error) {
	if m.screenFn == nil {
		return nil, errors.New("screen capture not configured")
	}
	screen, err := m.screenFn()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = screen.Close()
		return nil, errors.New("manager closed")
	}
	old := m.screen
	m.screen = screen
	// Registered while the lock publishes the source, so an end event
	// cannot slip between swap and registration.
	screen.OnVideoEnded(func() { m.stopScreen(screen) })
	m.swapTrackLocked(webrtc.RTPCodecTypeVideo, screen.VideoTrack())
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return screen, nil
}

// StopScreenShare releases the display capture and restores the camera
// video if it is enabled.
func (m *Manager) StopScreenShare() { m.stopScreen(nil) }

// stopScreen unwinds the active share. A non-nil source limits the stop to
// that source, so a share that ended after being replaced cannot tear down
// its successor.
func (m *Manager) stopScreen(source core.MediaSource) {
	m.mu.Lock()
	screen := m.screen
	if screen == nil || (source != nil && screen != source) {
		m.mu.Unlock()
		return
	}
	m.screen = nil
	var track webrtc.TrackLocal
	if m.media != nil && m.videoOn {
		track = m.media.VideoTrack()
	}
	m.swapTrackLocked(webrtc.RTPCodecTypeVideo, track)
	m.mu.Unlock()

	_ = screen.Close()
}

// ConnectionStats snapshots transport diagnostics per peer.
func (m *Manager) ConnectionStats() map[domain.ParticipantID]core.TransportStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.ParticipantID]core.TransportStats, len(m.sessions))
	for id, sess := range m.sessions {
		out[id] = sess.transport.Stats()
	}
	return out
}

// Participants returns the current remote roster view.
func (m *Manager) Participants() []domain.Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Participant, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.peer)
	}
	return out
}

// peerState reports a session's state, for diagnostics and tests.
func (m *Manager) peerState(id domain.ParticipantID) (PeerState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return StateClosed, false
	}
	return sess.state, true
}

func (m *Manager) sessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
