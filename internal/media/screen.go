package media

import (
	"github.com/pion/mediadevices"

	_ "github.com/pion/mediadevices/pkg/driver/screen" // registers the screen driver

	"github.com/huddle-rtc/huddle/internal/core"
)

// AcquireScreen requests display capture. The returned handle's video
// track ends spontaneously when the user stops sharing through the OS
// chrome; register OnVideoEnded to restore the camera feed.
func AcquireScreen(selector *mediadevices.CodecSelector) (*LocalMedia, error) {
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {},
		Codec: selector,
	})
	if err != nil {
		return nil, &core.MediaAccessError{Reason: "display capture unavailable", Err: err}
	}
	return wrap(stream), nil
}
