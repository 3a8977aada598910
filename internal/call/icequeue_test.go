package call

import (
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestIceQueueDrainsInOrderOnce(t *testing.T) {
	var q IceQueue
	for _, c := range []string{"a", "b", "c"} {
		q.Push(webrtc.ICECandidateInit{Candidate: c})
	}
	if q.Len() != 3 {
		t.Fatalf("len = %d", q.Len())
	}

	got := q.Drain()
	if len(got) != 3 || got[0].Candidate != "a" || got[1].Candidate != "b" || got[2].Candidate != "c" {
		t.Errorf("drain = %+v", got)
	}
	if again := q.Drain(); len(again) != 0 {
		t.Errorf("second drain = %+v, want empty", again)
	}

	q.Push(webrtc.ICECandidateInit{Candidate: "d"})
	q.Reset()
	if q.Len() != 0 {
		t.Error("reset left candidates behind")
	}
}

func TestTransitionTable(t *testing.T) {
	if err := checkTransition(Idle, Connected); err == nil {
		t.Error("idle cannot jump to connected")
	}
	if err := checkTransition(Calling, Connected); err == nil {
		t.Error("calling cannot skip connecting")
	}
	for _, s := range []State{Ended, Failed, Rejected, Disconnected} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
		if err := checkTransition(s, Idle); err != nil {
			t.Errorf("%s -> idle: %v", s, err)
		}
		if err := checkTransition(s, Connecting); err == nil {
			t.Errorf("%s -> connecting should be rejected", s)
		}
	}
}
