// Package media acquires local capture through pion/mediadevices: camera
// and microphone for the meeting feed, the screen driver for sharing.
package media

import (
	"fmt"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/webrtc/v4"

	"github.com/huddle-rtc/huddle/internal/config"
)

// NewCodecSelector builds the VP8+Opus encoder selection with the advisory
// bitrate/latency knobs from config applied at the encoder, which is where
// pion puts quality policy.
func NewCodecSelector(cfg config.MediaConfig) (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = cfg.VideoBitRate
	vpxParams.RateControlEndUsage = vpx.RateControlVBR

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	opusParams.Latency = latencyOf(cfg.AudioLatencyMs)

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

func latencyOf(ms int) opus.Latency {
	switch time.Duration(ms) * time.Millisecond {
	case 5 * time.Millisecond:
		return opus.Latency5ms
	case 10 * time.Millisecond:
		return opus.Latency10ms
	case 20 * time.Millisecond:
		return opus.Latency20ms
	case 40 * time.Millisecond:
		return opus.Latency40ms
	case 60 * time.Millisecond:
		return opus.Latency60ms
	}
	return opus.Latency20ms
}

// PopulateFor adapts a codec selector to the rtc engine hook.
func PopulateFor(selector *mediadevices.CodecSelector) func(*webrtc.MediaEngine) error {
	return func(engine *webrtc.MediaEngine) error {
		selector.Populate(engine)
		return nil
	}
}
