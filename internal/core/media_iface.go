package core

import "github.com/pion/webrtc/v4"

// MediaSource is the manager's view of local capture. Tracks are shared
// read-only across peer sessions and replaced, never mutated in place,
// when the source changes.
type MediaSource interface {
	// Tracks returns every live local track (video and/or audio).
	Tracks() []webrtc.TrackLocal
	// VideoTrack returns the outbound video track, or nil.
	VideoTrack() webrtc.TrackLocal
	// AudioTrack returns the outbound audio track, or nil.
	AudioTrack() webrtc.TrackLocal
	// OnVideoEnded fires when the video component stops spontaneously,
	// e.g. the user ends a screen share through the OS chrome.
	OnVideoEnded(fn func())
	// Close releases the underlying device handles. Must be called on
	// every exit path.
	Close() error
}

// RemoteMedia is one inbound track delivered by a peer transport.
// Concrete transports expose the raw track for readers.
type RemoteMedia interface {
	ID() string
	StreamID() string
	Kind() string // "audio" | "video"
}
