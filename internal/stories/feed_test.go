package stories

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/matheus3301/wpprtc/internal/bus"
	"github.com/matheus3301/wpprtc/internal/model"
	"github.com/matheus3301/wpprtc/internal/transport"
	"go.uber.org/zap"
)

type fakeRemote struct {
	list    []model.Story
	deleted []string
	viewed  []string
}

func (f *fakeRemote) Stories(context.Context) ([]model.Story, error) { return f.list, nil }

func (f *fakeRemote) CreateStory(_ context.Context, content string, _ *model.Media) (model.Story, error) {
	return model.Story{ID: "new", User: model.User{ID: "me"}, Content: content, ContentType: model.KindText}, nil
}

func (f *fakeRemote) ViewStory(_ context.Context, id string) error {
	f.viewed = append(f.viewed, id)
	return nil
}

func (f *fakeRemote) StoryViewers(context.Context, string) ([]model.User, error) {
	return []model.User{{ID: "amy"}}, nil
}

func (f *fakeRemote) DeleteStory(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func story(id, user string) model.Story {
	return model.Story{ID: id, User: model.User{ID: user}, Content: id}
}

func newFeed(t *testing.T, remote *fakeRemote, b *bus.Bus) *Feed {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	f := NewFeed(remote, b, logger)
	if _, err := f.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestGrouping(t *testing.T) {
	remote := &fakeRemote{list: []model.Story{story("s3", "bob"), story("s2", "me"), story("s1", "bob"), story("s1", "bob")}}
	f := newFeed(t, remote, nil)

	groups := f.Grouped()
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	if groups[0].User.ID != "bob" || len(groups[0].Stories) != 2 || groups[0].Stories[0].ID != "s3" {
		t.Errorf("bob group = %+v", groups[0])
	}
	if g, ok := f.ForUser("me"); !ok || len(g.Stories) != 1 {
		t.Errorf("ForUser(me) = %+v, %v", g, ok)
	}
	if others := f.Others("me"); len(others) != 1 || others[0].User.ID != "bob" {
		t.Errorf("Others = %+v", others)
	}
}

func TestPushedChanges(t *testing.T) {
	b := bus.New()
	changes, unsub := b.Subscribe(bus.StoriesChanged, 8)
	defer unsub()

	f := newFeed(t, &fakeRemote{list: []model.Story{story("s1", "bob")}}, b)
	ch := transport.New(transport.Config{}, nil, nil)
	f.Bind(ch)

	ch.Dispatch("new_status", json.RawMessage(`{"_id":"s2","user":{"_id":"amy"},"content":"hey"}`))
	ch.Dispatch("new_status", json.RawMessage(`{"_id":"s2","user":{"_id":"amy"},"content":"hey"}`))
	if list := f.List(); len(list) != 2 || list[0].ID != "s2" {
		t.Fatalf("list = %+v, want s2 prepended once", list)
	}

	ch.Dispatch("status_viewed", json.RawMessage(`{"statusId":"s1","viewers":[{"_id":"me"}]}`))
	if list := f.List(); len(list[1].Viewers) != 1 {
		t.Errorf("viewers not applied: %+v", list[1])
	}

	ch.Dispatch("status_deleted", json.RawMessage(`"s1"`))
	ch.Dispatch("status_deleted", json.RawMessage(`{"statusId":"s2"}`))
	if list := f.List(); len(list) != 0 {
		t.Errorf("list = %+v, want empty", list)
	}

	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("story.changed not published")
	}
}

func TestCreateAndDelete(t *testing.T) {
	remote := &fakeRemote{}
	f := newFeed(t, remote, nil)

	if _, err := f.Create(context.Background(), "", nil); err == nil {
		t.Error("empty status accepted")
	}
	s, err := f.Create(context.Background(), "hello", nil)
	if err != nil {
		t.Fatal(err)
	}
	if list := f.List(); len(list) != 1 || list[0].ID != s.ID {
		t.Errorf("list = %+v", list)
	}
	viewers, err := f.Viewers(context.Background(), s.ID)
	if err != nil || len(viewers) != 1 {
		t.Fatalf("viewers = %+v, %v", viewers, err)
	}
	if err := f.View(context.Background(), s.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.Delete(context.Background(), s.ID); err != nil {
		t.Fatal(err)
	}
	if len(f.List()) != 0 || len(remote.deleted) != 1 || len(remote.viewed) != 1 {
		t.Error("delete or view not applied")
	}
}
