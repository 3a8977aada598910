//go:build linux

package rtc

import (
	"errors"
	"fmt"

	"github.com/matheus3301/wpprtc/internal/call"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// platform captures camera and microphone through V4L2 and malgo.
type platform struct {
	selector *mediadevices.CodecSelector
}

func newPlatform() (*platform, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_000_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	return &platform{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

func (p *platform) register(me *webrtc.MediaEngine) error {
	p.selector.Populate(me)
	return nil
}

// capture opens the devices for kind. A video call falls back to video-only
// and then audio-only so one busy device does not block the other.
func (p *platform) capture(kind call.Kind, logger *zap.Logger) (call.LocalMedia, error) {
	type attempt struct {
		video, audio bool
	}
	attempts := []attempt{{false, true}}
	if kind == call.Video {
		attempts = []attempt{{true, true}, {true, false}, {false, true}}
	}

	var errs []error
	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: p.selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Raw formats only; MJPEG nodes on some cameras break the encoder.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			logger.Debug("capture attempt failed", zap.Bool("video", a.video), zap.Bool("audio", a.audio), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		tracks := stream.GetTracks()
		logger.Info("local media captured", zap.Bool("video", a.video), zap.Bool("audio", a.audio), zap.Int("tracks", len(tracks)))
		return &captured{tracks: tracks}, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrNoDevices, errors.Join(errs...))
}

type captured struct {
	tracks []mediadevices.Track
}

func (c *captured) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(c.tracks))
	for _, t := range c.tracks {
		out = append(out, t)
	}
	return out
}

func (c *captured) Stop() {
	for _, t := range c.tracks {
		_ = t.Close()
	}
}
