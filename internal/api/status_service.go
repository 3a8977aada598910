package api

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wpprtc/internal/bus"
	"github.com/matheus3301/wpprtc/internal/call"
	"github.com/matheus3301/wpprtc/internal/chat"
	"github.com/matheus3301/wpprtc/internal/conversation"
	"github.com/matheus3301/wpprtc/internal/model"
	"github.com/matheus3301/wpprtc/internal/presence"
	"github.com/matheus3301/wpprtc/internal/status"
	"github.com/matheus3301/wpprtc/internal/store"
	"github.com/matheus3301/wpprtc/internal/stories"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Link is the transport link as seen by the control API.
type Link interface {
	State() status.State
	StateSince() time.Time
	Recoveries() int
	Connect(ctx context.Context, identity string) error
}

// StatusService serves daemon status, presence, typing, stories and the
// event stream.
type StatusService struct {
	profile   string
	local     model.User
	startedAt time.Time
	link      Link
	engine    *chat.Engine
	index     *conversation.Index
	machine   *call.Machine
	tracker   *presence.Tracker
	announcer *presence.Announcer
	feed      *stories.Feed
	db        *store.DB
	bus       *bus.Bus
	logger    *zap.Logger
}

// StatusDeps groups the StatusService collaborators.
type StatusDeps struct {
	Profile   string
	Local     model.User
	Link      Link
	Engine    *chat.Engine
	Index     *conversation.Index
	Machine   *call.Machine
	Tracker   *presence.Tracker
	Announcer *presence.Announcer
	Feed      *stories.Feed
	DB        *store.DB
	Bus       *bus.Bus
}

func NewStatusService(d StatusDeps, logger *zap.Logger) *StatusService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusService{
		profile:   d.Profile,
		local:     d.Local,
		startedAt: time.Now(),
		link:      d.Link,
		engine:    d.Engine,
		index:     d.Index,
		machine:   d.Machine,
		tracker:   d.Tracker,
		announcer: d.Announcer,
		feed:      d.Feed,
		db:        d.DB,
		bus:       d.Bus,
		logger:    logger.Named("api"),
	}
}

func (s *StatusService) GetStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	resp := map[string]any{
		"profile":        s.profile,
		"user_id":        s.local.ID,
		"username":       s.local.Username,
		"uptime_ms":      time.Since(s.startedAt).Milliseconds(),
		"link":           string(s.link.State()),
		"link_since_ms":  s.link.StateSince().UnixMilli(),
		"recoveries":     s.link.Recoveries(),
		"call_state":     string(s.machine.State()),
		"conversations":  len(s.index.List()),
		"active":         s.engine.Active(),
		"pending_sends":  len(s.engine.Pending()),
		"events_dropped": s.bus.Stats().Dropped,
	}
	if err := s.tracker.Err(); err != nil {
		resp["presence_error"] = err.Error()
	}
	if s.db != nil {
		if entries, err := s.db.Outbox(); err == nil {
			failed := 0
			for _, e := range entries {
				if e.Status == "failed" {
					failed++
				}
			}
			resp["failed_sends"] = failed
		}
	}
	return encode(resp)
}

// GetPresence returns user_id's presence and, with conversation_id, whether
// the user is typing there. Users never pushed by the service fall back to
// the cache.
func (s *StatusService) GetPresence(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := required(in, "user_id"); err != nil {
		return nil, err
	}
	id := str(in, "user_id")
	resp := map[string]any{"user_id": id, "online": false, "known": false}
	if rec, found := s.tracker.Lookup(id); found {
		resp["online"] = rec.Online
		resp["known"] = true
		if !rec.LastSeen.IsZero() {
			resp["last_seen"] = rec.LastSeen.UnixMilli()
		}
	} else if s.db != nil {
		if p, err := s.db.GetPresence(id); err == nil && p != nil {
			resp["online"] = p.Online
			resp["known"] = true
			resp["cached"] = true
			if p.LastSeen > 0 {
				resp["last_seen"] = p.LastSeen
			}
		}
	}
	if conv := str(in, "conversation_id"); conv != "" {
		resp["typing"] = s.tracker.IsTyping(conv, id)
	}
	return encode(resp)
}

// Typing announces a keystroke in conversation_id, or the end of typing when
// stop is set.
func (s *StatusService) Typing(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := required(in, "conversation_id"); err != nil {
		return nil, err
	}
	convID := str(in, "conversation_id")
	if boolean(in, "stop") {
		if err := s.announcer.Stop(convID); err != nil {
			return nil, toStatus("typing", err)
		}
		return ok(), nil
	}
	receiver := str(in, "receiver_id")
	if receiver == "" {
		conv, found := s.index.Get(convID)
		if !found {
			return nil, grpcstatus.Errorf(codes.NotFound, "conversation %q not found", convID)
		}
		others := conv.Others(s.local.ID)
		if len(others) == 0 {
			return nil, grpcstatus.Errorf(codes.FailedPrecondition, "conversation %q has no other participant", convID)
		}
		receiver = others[0].ID
	}
	if err := s.announcer.Typing(convID, receiver); err != nil {
		return nil, toStatus("typing", err)
	}
	return ok(), nil
}

// ListStories returns status updates grouped by author. With refresh set the
// feed is fetched first.
func (s *StatusService) ListStories(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if boolean(in, "refresh") {
		if _, err := s.feed.Fetch(ctx); err != nil {
			return nil, toStatus("list stories", err)
		}
	}
	type group struct {
		User    model.User    `json:"user"`
		Stories []model.Story `json:"stories"`
		Own     bool          `json:"own"`
	}
	var out []group
	if own, found := s.feed.ForUser(s.local.ID); found {
		out = append(out, group{User: own.User, Stories: own.Stories, Own: true})
	}
	for _, g := range s.feed.Others(s.local.ID) {
		out = append(out, group{User: g.User, Stories: g.Stories})
	}
	if out == nil {
		out = []group{}
	}
	return encode(out)
}

func (s *StatusService) CreateStory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	media, err := attachment(in)
	if err != nil {
		return nil, err
	}
	if str(in, "content") == "" && media == nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, "content or media_data is required")
	}
	story, err := s.feed.Create(ctx, str(in, "content"), media)
	if err != nil {
		return nil, toStatus("create story", err)
	}
	return encode(story)
}

func (s *StatusService) ViewStory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := required(in, "story_id"); err != nil {
		return nil, err
	}
	if err := s.feed.View(ctx, str(in, "story_id")); err != nil {
		return nil, toStatus("view story", err)
	}
	return ok(), nil
}

func (s *StatusService) StoryViewers(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := required(in, "story_id"); err != nil {
		return nil, err
	}
	viewers, err := s.feed.Viewers(ctx, str(in, "story_id"))
	if err != nil {
		return nil, toStatus("story viewers", err)
	}
	if viewers == nil {
		viewers = []model.User{}
	}
	return encode(viewers)
}

func (s *StatusService) DeleteStory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := required(in, "story_id"); err != nil {
		return nil, err
	}
	if err := s.feed.Delete(ctx, str(in, "story_id")); err != nil {
		return nil, toStatus("delete story", err)
	}
	return ok(), nil
}

// Reconnect dials the link again after the reconnect budget was spent. It is
// a no-op while the link is up.
func (s *StatusService) Reconnect(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.link.Connect(ctx, s.local.ID); err != nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "reconnect: %v", err)
	}
	return encode(map[string]any{"link": string(s.link.State())})
}

// WatchEvents streams bus events whose kind starts with prefix (all events
// when empty) until the client goes away.
func (s *StatusService) WatchEvents(in *structpb.Struct, stream grpc.ServerStream) error {
	ch, unsub := s.bus.Subscribe(str(in, "prefix"), 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			out, err := encode(map[string]any{
				"event_id":       uuid.New().String(),
				"profile":        s.profile,
				"kind":           evt.Kind,
				"occurred_at_ms": evt.Timestamp.UnixMilli(),
				"payload":        eventPayload(evt.Payload),
			})
			if err != nil {
				s.logger.Warn("dropping unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

// eventPayload makes payloads carrying an error JSON friendly.
func eventPayload(p any) any {
	switch v := p.(type) {
	case error:
		return v.Error()
	case chat.Failure:
		return map[string]string{"temp_id": v.TempID, "error": errString(v.Err)}
	case call.ErrorEvent:
		return map[string]string{"call_id": v.CallID, "error": errString(v.Err)}
	}
	return p
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
