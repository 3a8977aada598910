package api

import (
	"context"

	"github.com/matheus3301/wpprtc/internal/call"
	"github.com/matheus3301/wpprtc/internal/model"
	"github.com/matheus3301/wpprtc/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// CallService drives the call session machine.
type CallService struct {
	machine    *call.Machine
	dispatcher *call.Dispatcher
	db         *store.DB
}

func NewCallService(machine *call.Machine, dispatcher *call.Dispatcher, db *store.DB) *CallService {
	return &CallService{machine: machine, dispatcher: dispatcher, db: db}
}

type sessionView struct {
	ID           string     `json:"id,omitempty"`
	Role         call.Role  `json:"role,omitempty"`
	Remote       model.User `json:"remote"`
	Kind         call.Kind  `json:"kind,omitempty"`
	State        call.State `json:"state"`
	Reason       string     `json:"reason,omitempty"`
	RemoteStream bool       `json:"remote_stream"`
	AudioMuted   bool       `json:"audio_muted"`
	VideoMuted   bool       `json:"video_muted"`
	StartedAt    int64      `json:"started_at,omitempty"`
	ConnectedAt  int64      `json:"connected_at,omitempty"`
}

func viewSession(s call.Session) sessionView {
	return sessionView{
		ID:           s.ID,
		Role:         s.Role,
		Remote:       s.Remote,
		Kind:         s.Kind,
		State:        s.State,
		Reason:       s.Reason,
		RemoteStream: s.RemoteStream,
		AudioMuted:   s.AudioMuted,
		VideoMuted:   s.VideoMuted,
		StartedAt:    millis(s.StartedAt),
		ConnectedAt:  millis(s.ConnectedAt),
	}
}

// StartCall calls user_id. kind is "audio" or "video" (the default).
func (s *CallService) StartCall(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := required(in, "user_id"); err != nil {
		return nil, err
	}
	kind := call.Video
	if k := str(in, "kind"); k != "" {
		kind = call.ParseKind(k)
	}
	to := model.User{ID: str(in, "user_id"), Username: str(in, "username")}
	sess, err := s.dispatcher.InitiateCall(ctx, to, kind)
	if err != nil {
		return nil, toStatus("start call", err)
	}
	return encode(viewSession(sess))
}

func (s *CallService) AcceptCall(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.machine.Accept(ctx); err != nil {
		return nil, toStatus("accept call", err)
	}
	return s.GetCall(ctx, nil)
}

func (s *CallService) RejectCall(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.machine.Reject(); err != nil {
		return nil, toStatus("reject call", err)
	}
	return ok(), nil
}

func (s *CallService) EndCall(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.machine.End(); err != nil {
		return nil, toStatus("end call", err)
	}
	return ok(), nil
}

// MuteCall mutes or unmutes local "audio" or "video" on the live call.
// Without muted it toggles the current setting.
func (s *CallService) MuteCall(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := required(in, "kind"); err != nil {
		return nil, err
	}
	var kind call.Kind
	switch k := str(in, "kind"); k {
	case string(call.Audio), string(call.Video):
		kind = call.Kind(k)
	default:
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "kind must be audio or video, got %q", k)
	}
	sess, _ := s.machine.Current()
	muted := sess.AudioMuted
	if kind == call.Video {
		muted = sess.VideoMuted
	}
	if _, set := in.GetFields()["muted"]; set {
		muted = boolean(in, "muted")
	} else {
		muted = !muted
	}
	if err := s.machine.SetMuted(kind, muted); err != nil {
		return nil, toStatus("mute call", err)
	}
	return s.GetCall(ctx, nil)
}

// GetCall returns the current session; state is "idle" when there is none.
func (s *CallService) GetCall(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	sess, _ := s.machine.Current()
	return encode(viewSession(sess))
}

// ListCalls returns the archived call log.
func (s *CallService) ListCalls(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.db == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "cache is disabled")
	}
	calls, err := s.db.ListCalls(number(in, "limit", 50))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list calls: %v", err)
	}
	type entry struct {
		ID          string `json:"id"`
		PeerID      string `json:"peer_id"`
		Role        string `json:"role"`
		Kind        string `json:"kind"`
		State       string `json:"state"`
		Reason      string `json:"reason,omitempty"`
		StartedAt   int64  `json:"started_at"`
		ConnectedAt int64  `json:"connected_at,omitempty"`
		EndedAt     int64  `json:"ended_at"`
	}
	out := make([]entry, 0, len(calls))
	for _, c := range calls {
		out = append(out, entry{c.CallID, c.PeerID, c.Role, c.Kind, c.FinalState, c.Reason, c.StartedAt, c.ConnectedAt, c.EndedAt})
	}
	return encode(out)
}
