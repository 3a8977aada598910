package call

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/matheus3301/wpprtc/internal/model"
	"github.com/pion/webrtc/v4"
)

var (
	ErrBusy         = errors.New("call: another call is in progress")
	ErrNoSession    = errors.New("call: no active call")
	ErrInvalidState = errors.New("call: operation not allowed in current state")
	ErrCancelled    = errors.New("call: session ended before the operation completed")
)

// State of the single call session.
type State string

const (
	Idle         State = "idle"
	Ringing      State = "ringing"
	Calling      State = "calling"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Ended        State = "ended"
	Failed       State = "failed"
	Rejected     State = "rejected"
	Disconnected State = "disconnected"
)

// validTransitions defines allowed state transitions. Every terminal state
// only returns to Idle.
var validTransitions = map[State][]State{
	Idle:         {Ringing, Calling},
	Ringing:      {Connecting, Rejected, Ended, Failed, Disconnected},
	Calling:      {Connecting, Rejected, Ended, Failed, Disconnected},
	Connecting:   {Connected, Ended, Failed, Disconnected},
	Connected:    {Ended, Failed, Disconnected},
	Ended:        {Idle},
	Failed:       {Idle},
	Rejected:     {Idle},
	Disconnected: {Idle},
}

// Terminal reports whether s ends a session.
func (s State) Terminal() bool {
	switch s {
	case Ended, Failed, Rejected, Disconnected:
		return true
	}
	return false
}

func checkTransition(from, to State) error {
	if !slices.Contains(validTransitions[from], to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidState, from, to)
	}
	return nil
}

// Kind is the media kind of a call.
type Kind string

const (
	Audio Kind = "audio"
	Video Kind = "video"
)

// ParseKind maps a wire value onto a Kind. Anything but "audio" is a video call.
func ParseKind(s string) Kind {
	if s == string(Audio) {
		return Audio
	}
	return Video
}

// Role of the local user in a call.
type Role string

const (
	Caller Role = "caller"
	Callee Role = "callee"
)

// Session is a snapshot of the live call.
type Session struct {
	ID           string
	Role         Role
	Remote       model.User
	Kind         Kind
	State        State
	Reason       string
	RemoteStream bool
	AudioMuted   bool
	VideoMuted   bool
	StartedAt    time.Time
	ConnectedAt  time.Time
}

// Record summarizes a finished call. It is the payload of call.finished.
type Record struct {
	ID          string
	PeerID      string
	Role        Role
	Kind        Kind
	State       State
	Reason      string
	StartedAt   time.Time
	ConnectedAt time.Time
	EndedAt     time.Time
}

// StateChange is the payload of call.state_changed.
type StateChange struct {
	CallID string
	From   State
	To     State
	Reason string
}

// MediaChange is the payload of call.media_changed.
type MediaChange struct {
	CallID string
	Kind   Kind
	Muted  bool
}

// ErrorEvent is the payload of call.error, published when negotiation that
// runs in the background fails.
type ErrorEvent struct {
	CallID string
	Err    error
}

// LocalMedia is captured local audio and video.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	Stop()
}

// MediaSource acquires local media for a call kind.
type MediaSource interface {
	Acquire(ctx context.Context, kind Kind) (LocalMedia, error)
}

// PeerHooks receive peer connection callbacks. They may be called from any
// goroutine.
type PeerHooks struct {
	OnICECandidate func(webrtc.ICECandidateInit)
	OnRemoteTrack  func(kind string)
	OnStateChange  func(webrtc.PeerConnectionState)
}

// Peer is one peer connection.
type Peer interface {
	// AddMedia attaches local tracks. A nil media adds receive-only
	// transceivers for kind instead.
	AddMedia(media LocalMedia, kind Kind) error
	// CreateOffer creates an offer and sets it as the local description.
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	// CreateAnswer creates an answer and sets it as the local description.
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	// SetMuted stops or resumes sending the local track of kind.
	SetMuted(kind Kind, muted bool) error
	Close() error
}

// PeerFactory creates peer connections.
type PeerFactory interface {
	NewPeer(hooks PeerHooks) (Peer, error)
}
