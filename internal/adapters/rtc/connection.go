package rtc

import (
	"context"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/huddle-rtc/huddle/internal/core"
)

// Transport wraps one pion PeerConnection as a core.PeerTransport.
type Transport struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	senders map[webrtc.RTPCodecType]*webrtc.RTPSender

	onICE func(webrtc.ICECandidateInit)
}

var _ core.PeerTransport = (*Transport)(nil)

func newTransport(api *webrtc.API, cfg webrtc.Configuration) (*Transport, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	t := &Transport{
		pc:      pc,
		senders: make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
	}
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		t.mu.Lock()
		fn := t.onICE
		t.mu.Unlock()
		if cand != nil && fn != nil {
			fn(cand.ToJSON())
		}
	})
	return t, nil
}

func (t *Transport) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	// Trickle ICE: candidates go out via OnICECandidate as discovered, so
	// the description is published without waiting for gathering.
	return *t.pc.LocalDescription(), nil
}

func (t *Transport) CreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return *t.pc.LocalDescription(), nil
}

func (t *Transport) AcceptAnswer(answer webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(answer)
}

func (t *Transport) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(ci)
}

func (t *Transport) HasRemoteDescription() bool {
	return t.pc.RemoteDescription() != nil
}

func (t *Transport) AddTrack(track webrtc.TrackLocal) error {
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.senders[track.Kind()] = sender
	t.mu.Unlock()
	return nil
}

func (t *Transport) ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	t.mu.Lock()
	sender, ok := t.senders[kind]
	t.mu.Unlock()
	if !ok {
		return &core.TransportFailure{State: "no sender for " + kind.String()}
	}
	return sender.ReplaceTrack(track)
}

func (t *Transport) CreateDataChannel(label string) (core.DataChannel, error) {
	dc, err := t.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, err
	}
	return &dataChannel{dc: dc}, nil
}

func (t *Transport) OnDataChannel(fn func(core.DataChannel)) {
	t.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		fn(&dataChannel{dc: dc})
	})
}

func (t *Transport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.mu.Lock()
	t.onICE = fn
	t.mu.Unlock()
}

func (t *Transport) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	t.pc.OnConnectionStateChange(fn)
}

func (t *Transport) OnTrack(fn func(core.RemoteMedia)) {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			// Ask for a keyframe right away; interval PLI covers the rest.
			if err := t.pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
			}); err != nil {
				log.Debug().Err(err).Str("module", "rtc").Msg("initial PLI failed")
			}
		}
		fn(&remoteTrack{t: track})
	})
}

func (t *Transport) Stats() core.TransportStats {
	stats := core.TransportStats{
		State:       t.pc.ConnectionState().String(),
		CollectedAt: time.Now(),
	}
	for _, s := range t.pc.GetStats() {
		switch v := s.(type) {
		case webrtc.TransportStats:
			stats.BytesSent += v.BytesSent
			stats.BytesReceived += v.BytesReceived
		case webrtc.ICECandidatePairStats:
			if v.Nominated {
				stats.CandidatePair = v.LocalCandidateID + "->" + v.RemoteCandidateID
			}
		}
	}
	return stats
}

func (t *Transport) Close() error {
	return t.pc.Close()
}

// RawTrack is implemented by remote media delivered from this package;
// consumers assert to it when they need RTP-level access.
type RawTrack interface {
	Raw() *webrtc.TrackRemote
}

// remoteTrack adapts a pion TrackRemote to core.RemoteMedia.
type remoteTrack struct {
	t *webrtc.TrackRemote
}

func (r *remoteTrack) ID() string       { return r.t.ID() }
func (r *remoteTrack) StreamID() string { return r.t.StreamID() }
func (r *remoteTrack) Kind() string     { return r.t.Kind().String() }

// Raw exposes the underlying track for media consumers.
func (r *remoteTrack) Raw() *webrtc.TrackRemote { return r.t }

type dataChannel struct {
	dc *webrtc.DataChannel
}

func (d *dataChannel) Send(data []byte) error { return d.dc.Send(data) }

func (d *dataChannel) OnMessage(fn func([]byte)) {
	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) { fn(msg.Data) })
}

func (d *dataChannel) OnOpen(fn func()) { d.dc.OnOpen(fn) }

func (d *dataChannel) Close() error { return d.dc.Close() }
