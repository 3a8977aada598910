package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/wpprtc/internal/bus"
	"github.com/matheus3301/wpprtc/internal/call"
	"github.com/matheus3301/wpprtc/internal/chat"
	"github.com/matheus3301/wpprtc/internal/conversation"
	"github.com/matheus3301/wpprtc/internal/model"
	"github.com/matheus3301/wpprtc/internal/presence"
	"github.com/matheus3301/wpprtc/internal/store"
	"github.com/matheus3301/wpprtc/internal/stories"
	"github.com/matheus3301/wpprtc/internal/transport"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

type fakeRemote struct {
	mu     sync.Mutex
	nextID int
}

func (f *fakeRemote) Conversations(context.Context) ([]model.Conversation, error) {
	return []model.Conversation{{ID: "c1", Participants: []model.User{{ID: "me"}, {ID: "bob", Username: "Bob"}}}}, nil
}

func (f *fakeRemote) Messages(_ context.Context, id string) ([]model.Message, error) {
	if id != "c1" {
		return nil, errors.New("no such conversation")
	}
	return []model.Message{
		{ID: "m1", Sender: model.User{ID: "bob"}, Receiver: model.User{ID: "me"}, ConversationID: "c1", Content: "hi", Status: model.StatusSeen, CreatedAt: "2024-05-01T10:00:00Z"},
	}, nil
}

func (f *fakeRemote) SendMessage(_ context.Context, d model.Draft) (model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return model.Message{
		ID: fmt.Sprintf("m-%d", f.nextID), Sender: model.User{ID: d.SenderID}, Receiver: model.User{ID: d.ReceiverID},
		ConversationID: "c1", Content: d.Content, ContentType: d.Kind(), Status: model.StatusSent,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (f *fakeRemote) MarkRead(context.Context, []string) error { return nil }
func (f *fakeRemote) DeleteMessage(context.Context, string) error { return nil }

func (f *fakeRemote) UserStatus(_ context.Context, id string) (model.Presence, error) {
	return model.Presence{UserID: id, Online: true}, nil
}

func (f *fakeRemote) Stories(context.Context) ([]model.Story, error) {
	return []model.Story{
		{ID: "s1", User: model.User{ID: "bob"}, Content: "sunset", CreatedAt: "2024-05-01T10:00:00Z"},
		{ID: "s2", User: model.User{ID: "me"}, Content: "mine", CreatedAt: "2024-05-01T11:00:00Z"},
	}, nil
}

func (f *fakeRemote) CreateStory(_ context.Context, content string, media *model.Media) (model.Story, error) {
	s := model.Story{ID: "s3", User: model.User{ID: "me"}, Content: content, CreatedAt: "2024-05-01T12:00:00Z"}
	if media != nil {
		s.ContentType = model.KindImage
	}
	return s, nil
}
func (f *fakeRemote) ViewStory(context.Context, string) error { return nil }
func (f *fakeRemote) StoryViewers(context.Context, string) ([]model.User, error) {
	return nil, nil
}
func (f *fakeRemote) DeleteStory(context.Context, string) error { return nil }

type harness struct {
	client *Client
	bus    *bus.Bus
	db     *store.DB
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	dir := t.TempDir()

	db, err := store.Open(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	remote := &fakeRemote{}
	link := transport.New(transport.Config{}, b, logger)
	index := conversation.NewIndex()
	tracker := presence.NewTracker("me", remote, b, logger)
	engine := chat.NewEngine("me", remote, link, index, tracker, b, logger)
	feed := stories.NewFeed(remote, b, logger)
	local := model.User{ID: "me", Username: "Me"}
	machine := call.NewMachine(local, link, nil, nil, call.Config{}, b, logger)
	dispatcher := call.NewDispatcher(machine, link, logger)

	control := NewControl(
		NewStatusService(StatusDeps{
			Profile: "test", Local: local, Link: link, Engine: engine, Index: index, Machine: machine,
			Tracker: tracker, Announcer: presence.NewAnnouncer(link, time.Second, logger), Feed: feed, DB: db, Bus: b,
		}, logger),
		NewChatService("me", engine, index, db),
		NewCallService(machine, dispatcher, db),
	)

	socket := filepath.Join(dir, "rtcd.sock")
	lis, err := net.Listen("unix", socket)
	if err != nil {
		t.Fatal(err)
	}
	srv := grpc.NewServer()
	Register(srv, control)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := Dial(socket)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return &harness{client: client, bus: b, db: db}
}

func (h *harness) call(t *testing.T, method string, args map[string]any) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := h.client.Call(ctx, method, args)
	if err != nil {
		t.Fatalf("%s: %v", method, err)
	}
	return out.AsMap()
}

func codeOf(err error) codes.Code {
	return grpcstatus.Code(err)
}

func TestGetStatus(t *testing.T) {
	h := newHarness(t)
	got := h.call(t, "GetStatus", nil)
	if got["profile"] != "test" || got["user_id"] != "me" || got["link"] != "IDLE" || got["call_state"] != "idle" {
		t.Errorf("status = %v", got)
	}
	if got["recoveries"] != float64(0) || got["events_dropped"] != float64(0) {
		t.Errorf("counters = %v, %v", got["recoveries"], got["events_dropped"])
	}
	if since, _ := got["link_since_ms"].(float64); since <= 0 {
		t.Errorf("link_since_ms = %v", got["link_since_ms"])
	}
}

func TestConversationFlow(t *testing.T) {
	h := newHarness(t)

	convs := h.call(t, "ListConversations", map[string]any{"refresh": true})
	items, _ := convs["items"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["id"] != "c1" {
		t.Fatalf("conversations = %v", convs)
	}

	h.call(t, "OpenConversation", map[string]any{"conversation_id": "c1"})
	grouped := h.call(t, "ListMessages", map[string]any{"grouped": true})
	days, _ := grouped["days"].([]any)
	if grouped["conversation_id"] != "c1" || len(days) != 1 {
		t.Fatalf("grouped = %v", grouped)
	}

	sent := h.call(t, "SendMessage", map[string]any{"receiver_id": "bob", "content": "hello"})
	if sent["_id"] != "m-1" || sent["content"] != "hello" {
		t.Errorf("sent = %v", sent)
	}

	flat := h.call(t, "ListMessages", nil)
	msgs, _ := flat["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("messages after send = %d, want 2", len(msgs))
	}
}

func TestCachedMessagesAndSearch(t *testing.T) {
	h := newHarness(t)
	if err := h.db.UpsertMessage(&store.Message{ConversationID: "c9", MsgID: "old", Content: "archived hello", Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}

	got := h.call(t, "ListMessages", map[string]any{"conversation_id": "c9"})
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 1 || msgs[0].(map[string]any)["_id"] != "old" {
		t.Errorf("cached = %v", got)
	}

	hits := h.call(t, "SearchMessages", map[string]any{"query": "hello"})
	items, _ := hits["items"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["snippet"] != "archived <<hello>>" {
		t.Errorf("search = %v", hits)
	}
}

func TestErrorCodes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.Call(ctx, "SendMessage", map[string]any{"content": "no receiver"})
	if codeOf(err) != codes.InvalidArgument {
		t.Errorf("missing receiver: %v", err)
	}
	_, err = h.client.Call(ctx, "AcceptCall", nil)
	if codeOf(err) != codes.FailedPrecondition {
		t.Errorf("accept without call: %v", err)
	}
	_, err = h.client.Call(ctx, "MuteCall", map[string]any{"kind": "screen"})
	if codeOf(err) != codes.InvalidArgument {
		t.Errorf("mute unknown kind: %v", err)
	}
	_, err = h.client.Call(ctx, "MuteCall", map[string]any{"kind": "audio", "muted": true})
	if codeOf(err) != codes.FailedPrecondition {
		t.Errorf("mute without call: %v", err)
	}
	// The transport is not connected, so signaling cannot go out.
	_, err = h.client.Call(ctx, "StartCall", map[string]any{"user_id": "bob", "kind": "audio"})
	if codeOf(err) != codes.Unavailable {
		t.Errorf("start call offline: %v", err)
	}
	_, err = h.client.Call(ctx, "RetryMessage", map[string]any{"temp_id": "nope"})
	if codeOf(err) != codes.NotFound {
		t.Errorf("retry unknown: %v", err)
	}
	_, err = h.client.Call(ctx, "ListMessages", nil)
	if codeOf(err) != codes.FailedPrecondition {
		t.Errorf("list without open conversation: %v", err)
	}
}

func TestStoriesAndPresence(t *testing.T) {
	h := newHarness(t)

	got := h.call(t, "ListStories", map[string]any{"refresh": true})
	groups, _ := got["items"].([]any)
	if len(groups) != 2 || groups[0].(map[string]any)["own"] != true {
		t.Errorf("stories = %v", got)
	}

	p := h.call(t, "GetPresence", map[string]any{"user_id": "ghost"})
	if p["known"] != false || p["online"] != false {
		t.Errorf("presence = %v", p)
	}
}

func TestStoryLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.Call(ctx, "CreateStory", nil)
	if codeOf(err) != codes.InvalidArgument {
		t.Errorf("empty story: %v", err)
	}
	_, err = h.client.Call(ctx, "CreateStory", map[string]any{"media_data": "%%%"})
	if codeOf(err) != codes.InvalidArgument {
		t.Errorf("bad base64: %v", err)
	}

	created := h.call(t, "CreateStory", map[string]any{"content": "new day"})
	if created["_id"] != "s3" || created["content"] != "new day" {
		t.Errorf("created = %v", created)
	}
	h.call(t, "ViewStory", map[string]any{"story_id": "s1"})
	viewers := h.call(t, "StoryViewers", map[string]any{"story_id": "s3"})
	if items, _ := viewers["items"].([]any); len(items) != 0 {
		t.Errorf("viewers = %v", viewers)
	}
	h.call(t, "DeleteStory", map[string]any{"story_id": "s3"})

	got := h.call(t, "ListStories", nil)
	for _, g := range got["items"].([]any) {
		for _, s := range g.(map[string]any)["stories"].([]any) {
			if s.(map[string]any)["_id"] == "s3" {
				t.Errorf("deleted story still listed: %v", got)
			}
		}
	}
}

func TestReconnectWithoutServer(t *testing.T) {
	h := newHarness(t)
	_, err := h.client.Call(context.Background(), "Reconnect", nil)
	if codeOf(err) != codes.Unavailable {
		t.Errorf("reconnect with no url: %v", err)
	}
}

func TestWatchEvents(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := h.client.Watch(ctx, "story.")
	if err != nil {
		t.Fatal(err)
	}

	// The subscription is registered asynchronously; keep publishing until
	// the first event comes through.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			h.bus.Emit(bus.MessageError, "ignored by prefix")
			h.bus.Emit(bus.StoriesChanged, nil)
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}()

	evt, err := stream.Recv()
	if err != nil {
		t.Fatal(err)
	}
	got := evt.AsMap()
	if got["kind"] != bus.StoriesChanged || got["profile"] != "test" || got["event_id"] == "" {
		t.Errorf("event = %v", got)
	}
}
