package media

import (
	"sync"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	_ "github.com/pion/mediadevices/pkg/driver/camera"     // registers the camera driver
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers the microphone driver

	"github.com/huddle-rtc/huddle/internal/config"
	"github.com/huddle-rtc/huddle/internal/core"
)

// LocalMedia owns the exclusive OS device handles behind a capture stream.
// Close must run on every exit path.
type LocalMedia struct {
	stream mediadevices.MediaStream

	mu           sync.Mutex
	onVideoEnded func()
	closed       bool
}

var _ core.MediaSource = (*LocalMedia)(nil)

// Acquire requests capture with the preferred constraint set and retries
// once with the conservative fallback before giving up with a
// MediaAccessError.
func Acquire(cfg config.MediaConfig, selector *mediadevices.CodecSelector, video, audio bool) (*LocalMedia, error) {
	stream, err := getUserMedia(constraints(cfg, selector, video, audio, false))
	if err != nil {
		log.Warn().Err(err).Str("module", "media").Msg("preferred constraints failed, trying fallback")
		stream, err = getUserMedia(constraints(cfg, selector, video, audio, true))
	}
	if err != nil {
		return nil, &core.MediaAccessError{Reason: "capture device unavailable", Err: err}
	}
	return wrap(stream), nil
}

func getUserMedia(c mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error) {
	return mediadevices.GetUserMedia(c)
}

func constraints(cfg config.MediaConfig, selector *mediadevices.CodecSelector, video, audio, fallback bool) mediadevices.MediaStreamConstraints {
	out := mediadevices.MediaStreamConstraints{Codec: selector}
	if video {
		out.Video = func(c *mediadevices.MediaTrackConstraints) {
			if fallback {
				c.Width = prop.Int(cfg.FallbackWidth)
				c.Height = prop.Int(cfg.FallbackHeight)
				c.FrameRate = prop.Float(cfg.FallbackFrameRate)
				return
			}
			c.Width = prop.IntRanged{Min: cfg.FallbackWidth, Ideal: cfg.Width, Max: cfg.Width}
			c.Height = prop.IntRanged{Min: cfg.FallbackHeight, Ideal: cfg.Height, Max: cfg.Height}
			c.FrameRate = prop.FloatRanged{Min: cfg.FallbackFrameRate, Ideal: cfg.FrameRate, Max: cfg.FrameRate}
		}
	}
	if audio {
		out.Audio = func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(48000)
			c.ChannelCount = prop.Int(1)
			if !fallback {
				c.Latency = prop.Duration(time.Duration(cfg.AudioLatencyMs) * time.Millisecond)
			}
		}
	}
	return out
}

func wrap(stream mediadevices.MediaStream) *LocalMedia {
	m := &LocalMedia{stream: stream}
	for _, track := range stream.GetVideoTracks() {
		track.OnEnded(func(error) {
			m.mu.Lock()
			fn := m.onVideoEnded
			m.mu.Unlock()
			if fn != nil {
				fn()
			}
		})
	}
	return m
}

func (m *LocalMedia) Tracks() []webrtc.TrackLocal {
	tracks := m.stream.GetTracks()
	out := make([]webrtc.TrackLocal, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t)
	}
	return out
}

func (m *LocalMedia) VideoTrack() webrtc.TrackLocal {
	if tracks := m.stream.GetVideoTracks(); len(tracks) > 0 {
		return tracks[0]
	}
	return nil
}

func (m *LocalMedia) AudioTrack() webrtc.TrackLocal {
	if tracks := m.stream.GetAudioTracks(); len(tracks) > 0 {
		return tracks[0]
	}
	return nil
}

func (m *LocalMedia) OnVideoEnded(fn func()) {
	m.mu.Lock()
	m.onVideoEnded = fn
	m.mu.Unlock()
}

// Close stops every track, releasing the device handles. Idempotent.
func (m *LocalMedia) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	for _, track := range m.stream.GetTracks() {
		if err := track.Close(); err != nil {
			log.Debug().Err(err).Str("module", "media").Str("track", track.ID()).Msg("track close")
		}
	}
	return nil
}
