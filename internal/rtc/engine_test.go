package rtc

import (
	"context"
	"strings"
	"testing"

	"github.com/matheus3301/wpprtc/internal/call"
	"go.uber.org/zap"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	e, err := New(Config{ReceiveOnly: true}, logger)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestOfferAnswerWithoutLocalMedia(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	caller, err := e.NewPeer(call.PeerHooks{})
	if err != nil {
		t.Fatal(err)
	}
	defer caller.Close()
	callee, err := e.NewPeer(call.PeerHooks{})
	if err != nil {
		t.Fatal(err)
	}
	defer callee.Close()

	if err := caller.AddMedia(nil, call.Video); err != nil {
		t.Fatal(err)
	}
	if err := callee.AddMedia(nil, call.Video); err != nil {
		t.Fatal(err)
	}

	offer, err := caller.CreateOffer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(offer.SDP, "m=audio") || !strings.Contains(offer.SDP, "m=video") {
		t.Errorf("offer lacks media sections:\n%s", offer.SDP)
	}
	if err := callee.SetRemoteDescription(offer); err != nil {
		t.Fatal(err)
	}
	answer, err := callee.CreateAnswer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := caller.SetRemoteDescription(answer); err != nil {
		t.Fatal(err)
	}
}

func TestAudioCallOffersNoVideo(t *testing.T) {
	e := newEngine(t)
	p, err := e.NewPeer(call.PeerHooks{})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	if err := p.AddMedia(nil, call.Audio); err != nil {
		t.Fatal(err)
	}
	offer, err := p.CreateOffer(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(offer.SDP, "m=video") {
		t.Error("audio call offered video")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	e := newEngine(t)
	p, err := e.NewPeer(call.PeerHooks{})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestAcquireReceiveOnlyFallback(t *testing.T) {
	e := newEngine(t)
	media, err := e.Acquire(context.Background(), call.Audio)
	if err != nil {
		t.Fatalf("Acquire with receive-only fallback = %v", err)
	}
	media.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Acquire(ctx, call.Audio); err == nil {
		t.Error("Acquire ignored a cancelled context")
	}
}
