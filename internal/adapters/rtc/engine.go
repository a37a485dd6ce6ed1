// Package rtc implements core.PeerTransport on pion/webrtc.
package rtc

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"

	"github.com/huddle-rtc/huddle/internal/config"
	"github.com/huddle-rtc/huddle/internal/core"
)

// PopulateFunc registers the sendable codecs on the media engine. The
// media package supplies one derived from its codec selector; nil falls
// back to pion's defaults (receive-only peers).
type PopulateFunc func(*webrtc.MediaEngine) error

// NewFactory builds the webrtc API once and returns a per-session
// transport constructor. Interval PLI on the receive side keeps remote
// video recoverable after loss.
func NewFactory(cfg *config.Config, populate PopulateFunc) (core.TransportFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if populate != nil {
		if err := populate(mediaEngine); err != nil {
			return nil, fmt.Errorf("populate media engine: %w", err)
		}
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register default codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}
	pliFactory, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create PLI factory: %w", err)
	}
	registry.Add(pliFactory)

	webrtcAPI := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	)
	webrtcConfig := webrtc.Configuration{ICEServers: cfg.ICE.Servers()}

	return func() (core.PeerTransport, error) {
		return newTransport(webrtcAPI, webrtcConfig)
	}, nil
}
