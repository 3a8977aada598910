package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/matheus3301/wpprtc/internal/call"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

type peer struct {
	pc     *webrtc.PeerConnection
	logger *zap.Logger

	mu      sync.Mutex
	senders map[webrtc.RTPCodecType]*webrtc.RTPSender
	tracks  map[webrtc.RTPCodecType]webrtc.TrackLocal

	closeOnce sync.Once
	closeErr  error
}

// NewPeer creates a peer connection that reports to hooks.
func (e *Engine) NewPeer(hooks call.PeerHooks) (call.Peer, error) {
	pc, err := e.api.NewPeerConnection(webrtc.Configuration{ICEServers: e.iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	p := &peer{
		pc:      pc,
		logger:  e.logger,
		senders: make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
		tracks:  make(map[webrtc.RTPCodecType]webrtc.TrackLocal),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil || hooks.OnICECandidate == nil {
			return
		}
		hooks.OnICECandidate(c.ToJSON())
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.logger.Debug("remote track",
			zap.String("kind", track.Kind().String()),
			zap.String("codec", track.Codec().MimeType))
		go p.consume(track)
		if hooks.OnRemoteTrack != nil {
			hooks.OnRemoteTrack(track.Kind().String())
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.logger.Debug("peer connection state", zap.String("state", s.String()))
		if hooks.OnStateChange != nil {
			hooks.OnStateChange(s)
		}
	})
	return p, nil
}

// consume asks for a keyframe on video and reads the track until it ends so
// the interceptors keep receiving packets.
func (p *peer) consume(track *webrtc.TrackRemote) {
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
		if err := p.pc.WriteRTCP(pli); err != nil {
			p.logger.Debug("keyframe request failed", zap.Error(err))
		}
	}
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
	}
}

func (p *peer) AddMedia(media call.LocalMedia, kind call.Kind) error {
	var tracks []webrtc.TrackLocal
	if media != nil {
		tracks = media.Tracks()
	}
	hasAudio, hasVideo := false, false
	for _, t := range tracks {
		sender, err := p.pc.AddTrack(t)
		if err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		p.mu.Lock()
		p.senders[t.Kind()], p.tracks[t.Kind()] = sender, t
		p.mu.Unlock()
		switch t.Kind() {
		case webrtc.RTPCodecTypeAudio:
			hasAudio = true
		case webrtc.RTPCodecTypeVideo:
			hasVideo = true
		}
	}
	// Receive-only m-lines keep the description valid without local capture.
	if !hasAudio {
		if err := p.recvOnly(webrtc.RTPCodecTypeAudio); err != nil {
			return err
		}
	}
	if kind == call.Video && !hasVideo {
		if err := p.recvOnly(webrtc.RTPCodecTypeVideo); err != nil {
			return err
		}
	}
	return nil
}

// SetMuted detaches or restores the local track of kind without
// renegotiating. The transceiver keeps its m-line so the remote side sees
// silence or a frozen frame. Kinds with no local track are ignored.
func (p *peer) SetMuted(kind call.Kind, muted bool) error {
	codec := webrtc.RTPCodecTypeAudio
	if kind == call.Video {
		codec = webrtc.RTPCodecTypeVideo
	}
	p.mu.Lock()
	sender, track := p.senders[codec], p.tracks[codec]
	p.mu.Unlock()
	if sender == nil {
		return nil
	}
	if muted {
		track = nil
	}
	if err := sender.ReplaceTrack(track); err != nil {
		return fmt.Errorf("replace %s track: %w", kind, err)
	}
	return nil
}

func (p *peer) recvOnly(kind webrtc.RTPCodecType) error {
	_, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		return fmt.Errorf("add %s transceiver: %w", kind, err)
	}
	return nil
}

func (p *peer) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	return offer, nil
}

func (p *peer) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	return answer, nil
}

func (p *peer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if p.pc.ConnectionState() == webrtc.PeerConnectionStateClosed {
		return errors.New("peer connection closed")
	}
	return p.pc.SetRemoteDescription(desc)
}

func (p *peer) AddICECandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

func (p *peer) Close() error {
	p.closeOnce.Do(func() { p.closeErr = p.pc.Close() })
	return p.closeErr
}
