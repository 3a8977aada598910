package call

import (
	"errors"
	"time"

	"github.com/matheus3301/wpprtc/internal/bus"
	"github.com/matheus3301/wpprtc/internal/model"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

func (m *Machine) incoming(p incomingCall) {
	if p.CallerID == "" || p.CallID == "" {
		m.logger.Warn("dropping incoming_call without caller or call id")
		return
	}

	m.mu.Lock()
	if m.live() {
		dup := m.s.ID == p.CallID
		m.mu.Unlock()
		if dup {
			return
		}
		m.logger.Info("rejecting call while busy", zap.String("call_id", p.CallID), zap.String("from", p.CallerID))
		if err := m.emit.Emit("reject_call", rejectCall{CallerID: p.CallerID, CallID: p.CallID, Reason: "busy"}); err != nil {
			m.logger.Warn("busy rejection failed", zap.String("call_id", p.CallID), zap.Error(err))
		}
		return
	}
	remote := model.User{ID: p.CallerID, Username: p.CallerName, ProfilePicture: p.CallerAvatar}
	m.begin(p.CallID, Callee, remote, ParseKind(p.CallType), Ringing)
	m.mu.Unlock()

	m.logger.Info("incoming call", zap.String("call_id", p.CallID), zap.String("from", p.CallerID))
}

func (m *Machine) accepted(ref callRef) {
	m.mu.Lock()
	s := m.match(ref.CallID)
	if s == nil || s.Role != Caller || s.State != Calling {
		m.mu.Unlock()
		m.logger.Debug("ignoring call_accepted", zap.String("call_id", ref.CallID))
		return
	}
	if err := m.transition(s, Connecting, ""); err != nil {
		m.mu.Unlock()
		return
	}
	gen, id, kind := s.gen, s.ID, s.Kind
	m.mu.Unlock()

	time.AfterFunc(m.cfg.AcceptDelay, func() { m.offerLocal(gen, id, kind) })
}

// offerLocal is the caller's side of negotiation once the callee accepted.
func (m *Machine) offerLocal(gen uint64, id string, kind Kind) {
	ctx := m.context()
	if !m.isCurrent(gen) {
		return
	}
	if err := m.connect(ctx, gen, kind); err != nil {
		if !errors.Is(err, ErrCancelled) {
			m.reportError(id, err)
		}
		return
	}

	m.negMu.Lock()
	defer m.negMu.Unlock()

	m.mu.Lock()
	s := m.current(gen)
	if s == nil {
		m.mu.Unlock()
		return
	}
	peer, remote := s.peer, s.Remote.ID
	m.mu.Unlock()

	offer, err := peer.CreateOffer(ctx)
	if err != nil {
		if m.terminate(gen, Failed, "offer failed", true) {
			m.reportError(id, err)
		}
		return
	}
	if !m.isCurrent(gen) {
		return
	}
	if err := m.emit.Emit("webrtc_offer", sdpMessage{Offer: &offer, ReceiverID: remote, CallID: id}); err != nil {
		m.terminate(gen, Failed, "signaling unavailable", false)
		m.reportError(id, err)
	}
}

func (m *Machine) offer(p sdpMessage) {
	if p.Offer == nil {
		m.logger.Warn("dropping webrtc_offer without description")
		return
	}
	m.negMu.Lock()
	defer m.negMu.Unlock()

	m.mu.Lock()
	s := m.match(p.CallID)
	if s == nil || s.peer == nil || s.Role != Callee || s.remoteDesc {
		m.mu.Unlock()
		m.logger.Warn("dropping unexpected webrtc_offer", zap.String("call_id", p.CallID))
		return
	}
	peer, gen, id := s.peer, s.gen, s.ID
	to := p.SenderID
	if to == "" {
		to = s.Remote.ID
	}
	m.mu.Unlock()

	if err := peer.SetRemoteDescription(*p.Offer); err != nil {
		m.logger.Warn("unusable remote offer", zap.String("call_id", id), zap.Error(err))
		m.terminate(gen, Failed, "invalid offer", true)
		return
	}
	m.flush(gen, peer)

	answer, err := peer.CreateAnswer(m.context())
	if err != nil {
		m.logger.Warn("creating answer", zap.String("call_id", id), zap.Error(err))
		m.terminate(gen, Failed, "answer failed", true)
		return
	}
	if !m.isCurrent(gen) {
		return
	}
	if err := m.emit.Emit("webrtc_answer", sdpMessage{Answer: &answer, ReceiverID: to, CallID: id}); err != nil {
		m.logger.Warn("sending answer", zap.String("call_id", id), zap.Error(err))
	}
}

func (m *Machine) answer(p sdpMessage) {
	if p.Answer == nil {
		m.logger.Warn("dropping webrtc_answer without description")
		return
	}
	m.negMu.Lock()
	defer m.negMu.Unlock()

	m.mu.Lock()
	s := m.match(p.CallID)
	if s == nil || s.peer == nil || s.Role != Caller || s.remoteDesc {
		m.mu.Unlock()
		m.logger.Warn("dropping unexpected webrtc_answer", zap.String("call_id", p.CallID))
		return
	}
	peer, gen, id := s.peer, s.gen, s.ID
	m.mu.Unlock()

	if err := peer.SetRemoteDescription(*p.Answer); err != nil {
		m.logger.Warn("unusable remote answer", zap.String("call_id", id), zap.Error(err))
		m.terminate(gen, Failed, "invalid answer", true)
		return
	}
	m.flush(gen, peer)
}

// flush marks the remote description as set and applies the queued
// candidates in arrival order. Callers hold m.negMu.
func (m *Machine) flush(gen uint64, peer Peer) {
	m.mu.Lock()
	s := m.current(gen)
	if s == nil {
		m.mu.Unlock()
		return
	}
	s.remoteDesc = true
	queued := s.ice.Drain()
	m.mu.Unlock()

	for _, c := range queued {
		if err := peer.AddICECandidate(c); err != nil {
			m.logger.Warn("applying queued candidate", zap.Error(err))
		}
	}
}

func (m *Machine) candidate(p candidateMessage) {
	if p.Candidate.Candidate == "" {
		return
	}
	m.negMu.Lock()
	defer m.negMu.Unlock()

	m.mu.Lock()
	s := m.match(p.CallID)
	if s == nil {
		m.mu.Unlock()
		m.logger.Debug("dropping candidate for unknown call", zap.String("call_id", p.CallID))
		return
	}
	if s.peer == nil || !s.remoteDesc {
		s.ice.Push(p.Candidate)
		m.mu.Unlock()
		return
	}
	peer := s.peer
	m.mu.Unlock()

	if err := peer.AddICECandidate(p.Candidate); err != nil {
		m.logger.Warn("applying candidate", zap.Error(err))
	}
}

func (m *Machine) rejected(ref callRef) {
	reason := ref.Reason
	if reason == "" {
		reason = "declined by peer"
	}
	m.remoteTermination(ref.CallID, Rejected, reason)
}

func (m *Machine) ended(ref callRef) {
	m.remoteTermination(ref.CallID, Ended, "ended by peer")
}

func (m *Machine) failed(ref callRef) {
	reason := ref.Reason
	if reason == "" {
		reason = "call failed"
	}
	m.remoteTermination(ref.CallID, Failed, reason)
}

func (m *Machine) transportLost() {
	m.remoteTermination("", Disconnected, "signaling channel lost")
}

func (m *Machine) remoteTermination(callID string, to State, reason string) {
	m.mu.Lock()
	s := m.match(callID)
	if s == nil {
		m.mu.Unlock()
		return
	}
	gen := s.gen
	m.mu.Unlock()
	m.terminate(gen, to, reason, false)
}

func (m *Machine) hooks(gen uint64) PeerHooks {
	return PeerHooks{
		OnICECandidate: func(c webrtc.ICECandidateInit) { m.localCandidate(gen, c) },
		OnRemoteTrack:  func(kind string) { m.remoteTrack(gen, kind) },
		OnStateChange:  func(st webrtc.PeerConnectionState) { m.peerStateChanged(gen, st) },
	}
}

func (m *Machine) localCandidate(gen uint64, c webrtc.ICECandidateInit) {
	m.mu.Lock()
	s := m.current(gen)
	if s == nil {
		m.mu.Unlock()
		return
	}
	id, remote := s.ID, s.Remote.ID
	m.mu.Unlock()

	if err := m.emit.Emit("webrtc_ice_candidate", candidateMessage{Candidate: c, ReceiverID: remote, CallID: id}); err != nil {
		m.logger.Warn("sending candidate", zap.String("call_id", id), zap.Error(err))
	}
}

func (m *Machine) remoteTrack(gen uint64, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.current(gen)
	if s == nil {
		return
	}
	m.logger.Debug("remote track", zap.String("call_id", s.ID), zap.String("kind", kind))
	s.RemoteStream = true
	m.maybeConnected(s)
}

func (m *Machine) peerStateChanged(gen uint64, st webrtc.PeerConnectionState) {
	m.mu.Lock()
	s := m.current(gen)
	if s == nil {
		m.mu.Unlock()
		return
	}
	s.peerState = st
	switch st {
	case webrtc.PeerConnectionStateDisconnected:
		if s.grace == nil {
			s.grace = time.AfterFunc(m.cfg.DisconnectGrace, func() { m.graceExpired(gen) })
		}
	case webrtc.PeerConnectionStateConnected:
		stopTimer(s.grace)
		s.grace = nil
	case webrtc.PeerConnectionStateFailed:
		m.mu.Unlock()
		m.terminate(gen, Failed, "peer connection failed", true)
		return
	}
	m.mu.Unlock()
}

func (m *Machine) graceExpired(gen uint64) {
	m.mu.Lock()
	s := m.current(gen)
	if s == nil || s.peerState != webrtc.PeerConnectionStateDisconnected {
		m.mu.Unlock()
		return
	}
	s.grace = nil
	m.mu.Unlock()
	m.terminate(gen, Disconnected, "peer unreachable", true)
}

func (m *Machine) reportError(callID string, err error) {
	m.logger.Warn("call negotiation failed", zap.String("call_id", callID), zap.Error(err))
	m.bus.Emit(bus.CallError, ErrorEvent{CallID: callID, Err: err})
}
