//go:build !linux

package rtc

import (
	"github.com/matheus3301/wpprtc/internal/call"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// platform has no capture drivers outside Linux.
type platform struct{}

func newPlatform() (*platform, error) { return &platform{}, nil }

func (p *platform) register(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

func (p *platform) capture(call.Kind, *zap.Logger) (call.LocalMedia, error) {
	return nil, ErrNoDevices
}
