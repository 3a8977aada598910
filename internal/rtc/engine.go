// Package rtc implements call peers and local media on pion/webrtc.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/wpprtc/internal/call"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// ErrNoDevices is returned when no camera or microphone could be opened.
var ErrNoDevices = errors.New("rtc: no capture devices")

// DefaultICEServers are the public STUN servers used when none are configured.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

// Config configures the engine.
type Config struct {
	ICEServers []string
	// ReceiveOnly lets a call proceed without local media when capture fails.
	ReceiveOnly bool
}

// Engine creates peer connections and captures local media. It implements
// call.PeerFactory and call.MediaSource.
type Engine struct {
	api         *webrtc.API
	iceServers  []webrtc.ICEServer
	platform    *platform
	receiveOnly bool
	logger      *zap.Logger
}

// New builds the webrtc API: codecs for the platform, the default
// interceptors and generous ICE timeouts so a short outage does not drop the
// call.
func New(cfg Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p, err := newPlatform()
	if err != nil {
		return nil, fmt.Errorf("init codecs: %w", err)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := p.register(mediaEngine); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	urls := cfg.ICEServers
	if len(urls) == 0 {
		urls = DefaultICEServers
	}
	servers := make([]webrtc.ICEServer, 0, len(urls))
	for _, u := range urls {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}

	return &Engine{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(se),
		),
		iceServers:  servers,
		platform:    p,
		receiveOnly: cfg.ReceiveOnly,
		logger:      logger.Named("rtc"),
	}, nil
}

// Acquire captures local media for kind. Audio calls never open the camera.
func (e *Engine) Acquire(ctx context.Context, kind call.Kind) (call.LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	media, err := e.platform.capture(kind, e.logger)
	if err != nil {
		if errors.Is(err, ErrNoDevices) && e.receiveOnly {
			e.logger.Warn("no local media, continuing receive-only", zap.Error(err))
			return receiveOnly{}, nil
		}
		return nil, err
	}
	return media, nil
}

type receiveOnly struct{}

func (receiveOnly) Tracks() []webrtc.TrackLocal { return nil }
func (receiveOnly) Stop()                        {}
