// Package call runs the signaling state machine of a two-party audio or video
// call: role assignment, media handoff, offer/answer exchange, candidate
// queueing and teardown.
package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/wpprtc/internal/bus"
	"github.com/matheus3301/wpprtc/internal/model"
	"github.com/matheus3301/wpprtc/internal/transport"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Config holds the call timings.
type Config struct {
	// AcceptDelay is how long the caller waits after call_accepted before
	// acquiring media and offering.
	AcceptDelay time.Duration
	// EndGrace is how long a terminal state is shown before returning to idle.
	EndGrace time.Duration
	// DisconnectGrace is how long a peer may stay disconnected before the
	// call is ended.
	DisconnectGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.AcceptDelay <= 0 {
		c.AcceptDelay = 500 * time.Millisecond
	}
	if c.EndGrace <= 0 {
		c.EndGrace = 2 * time.Second
	}
	if c.DisconnectGrace <= 0 {
		c.DisconnectGrace = 2 * time.Second
	}
	return c
}

type session struct {
	Session

	gen        uint64
	media      LocalMedia
	peer       Peer
	peerState  webrtc.PeerConnectionState
	remoteDesc bool
	ice        IceQueue
	grace      *time.Timer
	idle       *time.Timer
}

// Machine owns at most one call session.
type Machine struct {
	local  model.User
	emit   transport.Emitter
	media  MediaSource
	peers  PeerFactory
	cfg    Config
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time

	// negMu serializes description and candidate handling.
	negMu sync.Mutex

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	s      *session
	gen    uint64
}

// NewMachine creates a machine for the local user.
func NewMachine(local model.User, emit transport.Emitter, media MediaSource, peers PeerFactory, cfg Config, b *bus.Bus, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		local:  local,
		emit:   emit,
		media:  media,
		peers:  peers,
		cfg:    cfg.withDefaults(),
		bus:    b,
		logger: logger.Named("call"),
		now:    time.Now,
		ctx:    context.Background(),
	}
}

// Start sets the context used by negotiation that runs in the background.
func (m *Machine) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx, m.cancel = context.WithCancel(ctx)
}

// Stop ends any live call and cancels background negotiation.
func (m *Machine) Stop() {
	_ = m.End()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	if m.s != nil {
		stopTimer(m.s.idle)
		stopTimer(m.s.grace)
	}
}

// State returns the state of the current session, Idle if there is none.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.s == nil {
		return Idle
	}
	return m.s.State
}

// Current returns a snapshot of the session, including one in a terminal
// state that has not returned to idle yet.
func (m *Machine) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.s == nil {
		return Session{State: Idle}, false
	}
	return m.s.Session, true
}

// Initiate starts an outgoing call to the given user.
func (m *Machine) Initiate(ctx context.Context, to model.User, kind Kind) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	if to.ID == "" || to.ID == m.local.ID {
		return Session{}, fmt.Errorf("initiate call: invalid recipient %q", to.ID)
	}
	if kind != Audio && kind != Video {
		return Session{}, fmt.Errorf("initiate call: unknown kind %q", kind)
	}

	m.mu.Lock()
	if m.live() {
		m.mu.Unlock()
		return Session{}, ErrBusy
	}
	id := fmt.Sprintf("%s-%s-%d", m.local.ID, to.ID, m.now().UnixMilli())
	s := m.begin(id, Caller, to, kind, Calling)
	snap, gen := s.Session, s.gen
	m.mu.Unlock()

	m.logger.Info("calling", zap.String("call_id", id), zap.String("to", to.ID), zap.String("kind", string(kind)))
	err := m.emit.Emit("initiate_call", initiateCall{
		CallerID:   m.local.ID,
		ReceiverID: to.ID,
		CallType:   kind,
		CallerInfo: m.info(),
		CallID:     id,
	})
	if err != nil {
		m.terminate(gen, Failed, "signaling unavailable", false)
		return snap, fmt.Errorf("initiate call: %w", err)
	}
	return snap, nil
}

// Accept answers the ringing call: it acquires media, creates the peer
// connection and tells the caller, then waits for the offer. A media failure
// fails the session and is returned.
func (m *Machine) Accept(ctx context.Context) error {
	m.mu.Lock()
	s := m.s
	if s == nil || s.State.Terminal() {
		m.mu.Unlock()
		return ErrNoSession
	}
	if s.Role != Callee {
		m.mu.Unlock()
		return fmt.Errorf("accept call: %w", ErrInvalidState)
	}
	if err := m.transition(s, Connecting, ""); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("accept call: %w", err)
	}
	gen, id, remote, kind := s.gen, s.ID, s.Remote, s.Kind
	m.mu.Unlock()

	if err := m.connect(ctx, gen, kind); err != nil {
		return fmt.Errorf("accept call: %w", err)
	}
	err := m.emit.Emit("accept_call", acceptCall{
		CallerID:     remote.ID,
		CallID:       id,
		ReceiverInfo: m.info(),
	})
	if err != nil {
		m.terminate(gen, Failed, "signaling unavailable", false)
		return fmt.Errorf("accept call: %w", err)
	}
	return nil
}

// Reject declines the ringing call. No media is acquired and no peer
// connection is created.
func (m *Machine) Reject() error {
	m.mu.Lock()
	s := m.s
	if s == nil || s.State.Terminal() {
		m.mu.Unlock()
		return ErrNoSession
	}
	if s.Role != Callee || s.State != Ringing {
		m.mu.Unlock()
		return fmt.Errorf("reject call: %w", ErrInvalidState)
	}
	gen := s.gen
	m.mu.Unlock()

	if !m.terminate(gen, Rejected, "declined", true) {
		return ErrNoSession
	}
	return nil
}

// End hangs up the live call and notifies the other participant. Ending
// an unanswered incoming call declines it.
func (m *Machine) End() error {
	m.mu.Lock()
	s := m.s
	if s == nil || s.State.Terminal() {
		m.mu.Unlock()
		return ErrNoSession
	}
	gen := s.gen
	to, reason := Ended, "ended locally"
	if s.Role == Callee && s.State == Ringing {
		to, reason = Rejected, "declined"
	}
	m.mu.Unlock()

	if !m.terminate(gen, to, reason, true) {
		return ErrNoSession
	}
	return nil
}

// SetMuted stops or resumes sending local audio or video on the live call.
// The choice is kept on the session and applied to a peer created later.
func (m *Machine) SetMuted(kind Kind, muted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.s
	if s == nil || s.State.Terminal() {
		return ErrNoSession
	}
	if kind == Video && s.Kind != Video {
		return fmt.Errorf("mute video on an audio call: %w", ErrInvalidState)
	}
	if kind == Video {
		s.VideoMuted = muted
	} else {
		s.AudioMuted = muted
	}
	if s.peer != nil {
		if err := s.peer.SetMuted(kind, muted); err != nil {
			return fmt.Errorf("mute %s: %w", kind, err)
		}
	}
	m.logger.Info("call media changed",
		zap.String("call_id", s.ID), zap.String("kind", string(kind)), zap.Bool("muted", muted))
	m.bus.Emit(bus.CallMediaChanged, MediaChange{CallID: s.ID, Kind: kind, Muted: muted})
	return nil
}

// connect acquires media and creates the peer connection for the session.
// Anything produced for a session that ended meanwhile is released.
func (m *Machine) connect(ctx context.Context, gen uint64, kind Kind) error {
	media, err := m.media.Acquire(ctx, kind)
	if err != nil {
		m.terminate(gen, Failed, "media unavailable", true)
		return fmt.Errorf("acquire media: %w", err)
	}
	if !m.isCurrent(gen) {
		media.Stop()
		return ErrCancelled
	}

	peer, err := m.peers.NewPeer(m.hooks(gen))
	if err != nil {
		media.Stop()
		m.terminate(gen, Failed, "peer connection unavailable", true)
		return fmt.Errorf("create peer: %w", err)
	}
	if err := peer.AddMedia(media, kind); err != nil {
		media.Stop()
		_ = peer.Close()
		m.terminate(gen, Failed, "attaching media failed", true)
		return fmt.Errorf("attach media: %w", err)
	}

	m.mu.Lock()
	s := m.current(gen)
	if s == nil {
		m.mu.Unlock()
		media.Stop()
		_ = peer.Close()
		return ErrCancelled
	}
	if err := applyMutes(peer, s.Session); err != nil {
		m.logger.Warn("restoring mute failed", zap.String("call_id", s.ID), zap.Error(err))
	}
	s.media, s.peer = media, peer
	m.maybeConnected(s)
	m.mu.Unlock()
	return nil
}

func applyMutes(peer Peer, s Session) error {
	if s.AudioMuted {
		if err := peer.SetMuted(Audio, true); err != nil {
			return err
		}
	}
	if s.VideoMuted {
		return peer.SetMuted(Video, true)
	}
	return nil
}

// terminate moves the session to a terminal state, releases its media and
// peer, and schedules the return to idle. notify tells the other participant.
// It reports false if gen is no longer the live session.
func (m *Machine) terminate(gen uint64, to State, reason string, notify bool) bool {
	m.mu.Lock()
	s := m.current(gen)
	if s == nil {
		m.mu.Unlock()
		return false
	}
	if err := m.transition(s, to, reason); err != nil {
		m.mu.Unlock()
		m.logger.Warn("ignoring termination", zap.String("call_id", s.ID), zap.Error(err))
		return false
	}
	media, peer := s.media, s.peer
	s.media, s.peer = nil, nil
	s.ice.Reset()
	stopTimer(s.grace)
	s.grace = nil
	s.idle = time.AfterFunc(m.cfg.EndGrace, func() { m.finish(gen) })
	rec := Record{
		ID:          s.ID,
		PeerID:      s.Remote.ID,
		Role:        s.Role,
		Kind:        s.Kind,
		State:       to,
		Reason:      reason,
		StartedAt:   s.StartedAt,
		ConnectedAt: s.ConnectedAt,
		EndedAt:     m.now(),
	}
	m.mu.Unlock()

	if media != nil {
		media.Stop()
	}
	if peer != nil {
		if err := peer.Close(); err != nil {
			m.logger.Warn("closing peer connection", zap.String("call_id", rec.ID), zap.Error(err))
		}
	}
	m.logger.Info("call finished", zap.String("call_id", rec.ID), zap.String("state", string(to)), zap.String("reason", reason))
	m.bus.Emit(bus.CallFinished, rec)

	if !notify {
		return true
	}
	var err error
	if to == Rejected {
		err = m.emit.Emit("reject_call", rejectCall{CallerID: rec.PeerID, CallID: rec.ID})
	} else {
		err = m.emit.Emit("end_call", endCall{CallID: rec.ID, ParticipantID: rec.PeerID})
	}
	if err != nil {
		m.logger.Warn("notifying peer of call end", zap.String("call_id", rec.ID), zap.Error(err))
	}
	return true
}

// finish returns a terminal session to idle.
func (m *Machine) finish(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.s == nil || m.s.gen != gen || !m.s.State.Terminal() {
		return
	}
	m.toIdle()
}

// begin replaces any finished session with a new one. Callers hold m.mu.
func (m *Machine) begin(id string, role Role, remote model.User, kind Kind, to State) *session {
	if m.s != nil {
		m.toIdle()
	}
	m.gen++
	s := &session{
		Session: Session{
			ID:        id,
			Role:      role,
			Remote:    remote,
			Kind:      kind,
			State:     Idle,
			StartedAt: m.now(),
		},
		gen: m.gen,
	}
	m.s = s
	_ = m.transition(s, to, "")
	return s
}

// toIdle drops the terminal session. Callers hold m.mu.
func (m *Machine) toIdle() {
	s := m.s
	stopTimer(s.idle)
	stopTimer(s.grace)
	if err := m.transition(s, Idle, ""); err != nil {
		m.logger.Warn("dropping session", zap.String("call_id", s.ID), zap.Error(err))
	}
	m.s = nil
}

// transition applies one state change and publishes it. Callers hold m.mu.
func (m *Machine) transition(s *session, to State, reason string) error {
	if err := checkTransition(s.State, to); err != nil {
		return err
	}
	from := s.State
	s.State = to
	if reason != "" {
		s.Reason = reason
	}
	m.bus.Emit(bus.CallStateChanged, StateChange{CallID: s.ID, From: from, To: to, Reason: reason})
	return nil
}

// maybeConnected marks the session connected once it has both a peer
// connection and a remote stream. Callers hold m.mu.
func (m *Machine) maybeConnected(s *session) {
	if s.State != Connecting || s.peer == nil || !s.RemoteStream {
		return
	}
	if err := m.transition(s, Connected, ""); err != nil {
		return
	}
	s.ConnectedAt = m.now()
	m.logger.Info("call connected", zap.String("call_id", s.ID))
}

// live reports whether a non-terminal session exists. Callers hold m.mu.
func (m *Machine) live() bool {
	return m.s != nil && !m.s.State.Terminal()
}

// current returns the live session if it still has generation gen. Callers
// hold m.mu.
func (m *Machine) current(gen uint64) *session {
	if !m.live() || m.s.gen != gen {
		return nil
	}
	return m.s
}

// match returns the live session when callID is empty or names it. Callers
// hold m.mu.
func (m *Machine) match(callID string) *session {
	if !m.live() {
		return nil
	}
	if callID != "" && callID != m.s.ID {
		return nil
	}
	return m.s
}

func (m *Machine) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current(gen) != nil
}

func (m *Machine) context() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

func (m *Machine) info() participantInfo {
	return participantInfo{Username: m.local.Username, ProfilePicture: m.local.ProfilePicture}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
