package core

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
)

// PeerTransport abstracts one direct media connection to a remote
// participant (a pion PeerConnection in production). A transport is
// non-nil for the whole life of its peer session; Close is terminal.
type PeerTransport interface {
	// CreateOffer generates and registers the local description.
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	// CreateAnswer registers the remote offer, then generates and
	// registers the local answer.
	CreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	// AcceptAnswer registers the remote description on the offering side.
	AcceptAnswer(answer webrtc.SessionDescription) error
	// AddICECandidate applies a remote candidate. Callers must check
	// HasRemoteDescription first; candidates that arrive earlier are
	// dropped, not queued.
	AddICECandidate(webrtc.ICECandidateInit) error
	HasRemoteDescription() bool

	// AddTrack attaches a local track for sending.
	AddTrack(track webrtc.TrackLocal) error
	// ReplaceTrack swaps the outbound track of the given kind without
	// renegotiation. A nil track pauses sending for that kind.
	ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error

	CreateDataChannel(label string) (DataChannel, error)
	OnDataChannel(fn func(DataChannel))

	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnStateChange(fn func(webrtc.PeerConnectionState))
	OnTrack(fn func(RemoteMedia))

	Stats() TransportStats
	Close() error
}

// DataChannel is the optional per-peer message pipe.
type DataChannel interface {
	Send(data []byte) error
	OnMessage(fn func(data []byte))
	OnOpen(fn func())
	Close() error
}

// TransportFactory builds a fresh transport per peer session. Injected so
// tests substitute fakes.
type TransportFactory func() (PeerTransport, error)

// TransportStats is a diagnostic snapshot of one transport.
type TransportStats struct {
	State         string    `json:"state"`
	BytesSent     uint64    `json:"bytes_sent"`
	BytesReceived uint64    `json:"bytes_received"`
	CandidatePair string    `json:"candidate_pair,omitempty"`
	CollectedAt   time.Time `json:"collected_at"`
}
