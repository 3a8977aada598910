// Package stories keeps the status update feed.
package stories

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/matheus3301/wpprtc/internal/bus"
	"github.com/matheus3301/wpprtc/internal/model"
	"github.com/matheus3301/wpprtc/internal/transport"
	"go.uber.org/zap"
)

const scope = "stories"

// Remote is the part of the remote store serving status updates.
type Remote interface {
	Stories(ctx context.Context) ([]model.Story, error)
	CreateStory(ctx context.Context, content string, media *model.Media) (model.Story, error)
	ViewStory(ctx context.Context, id string) error
	StoryViewers(ctx context.Context, id string) ([]model.User, error)
	DeleteStory(ctx context.Context, id string) error
}

// Group is one author's status updates, newest first.
type Group struct {
	User    model.User
	Stories []model.Story
}

// Feed is the list of visible status updates, newest first.
type Feed struct {
	remote Remote
	bus    *bus.Bus
	logger *zap.Logger

	mu      sync.Mutex
	stories []model.Story
}

func NewFeed(remote Remote, b *bus.Bus, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{remote: remote, bus: b, logger: logger.Named("stories")}
}

// Bind subscribes to pushed status changes.
func (f *Feed) Bind(sub transport.Subscriber) {
	sub.Subscribe(scope, "new_status", f.onNew)
	sub.Subscribe(scope, "status_deleted", f.onDeleted)
	sub.Subscribe(scope, "status_viewed", f.onViewed)
}

func (f *Feed) Unbind(sub transport.Subscriber) {
	sub.Release(scope)
}

// Fetch replaces the feed with the remote list.
func (f *Feed) Fetch(ctx context.Context) ([]model.Story, error) {
	list, err := f.remote.Stories(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	f.mu.Lock()
	f.stories = dedupe(list)
	out := append([]model.Story(nil), f.stories...)
	f.mu.Unlock()
	f.changed()
	return out, nil
}

func (f *Feed) Create(ctx context.Context, content string, media *model.Media) (model.Story, error) {
	if content == "" && media == nil {
		return model.Story{}, errors.New("create status: empty status")
	}
	s, err := f.remote.CreateStory(ctx, content, media)
	if err != nil {
		return model.Story{}, fmt.Errorf("create status: %w", err)
	}
	f.add(s)
	return s, nil
}

func (f *Feed) View(ctx context.Context, id string) error {
	if err := f.remote.ViewStory(ctx, id); err != nil {
		return fmt.Errorf("view status: %w", err)
	}
	return nil
}

func (f *Feed) Viewers(ctx context.Context, id string) ([]model.User, error) {
	viewers, err := f.remote.StoryViewers(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("status viewers: %w", err)
	}
	f.setViewers(id, viewers)
	return viewers, nil
}

func (f *Feed) Delete(ctx context.Context, id string) error {
	if err := f.remote.DeleteStory(ctx, id); err != nil {
		return fmt.Errorf("delete status: %w", err)
	}
	f.remove(id)
	return nil
}

// List returns the feed, newest first.
func (f *Feed) List() []model.Story {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Story(nil), f.stories...)
}

// Grouped groups the feed by author in order of each author's newest update.
func (f *Feed) Grouped() []Group {
	f.mu.Lock()
	defer f.mu.Unlock()
	var groups []Group
	at := make(map[string]int)
	for _, s := range f.stories {
		i, ok := at[s.User.ID]
		if !ok {
			i = len(groups)
			at[s.User.ID] = i
			groups = append(groups, Group{User: s.User})
		}
		groups[i].Stories = append(groups[i].Stories, s)
	}
	return groups
}

// ForUser returns one author's group.
func (f *Feed) ForUser(userID string) (Group, bool) {
	for _, g := range f.Grouped() {
		if g.User.ID == userID {
			return g, true
		}
	}
	return Group{}, false
}

// Others returns every group except localID's.
func (f *Feed) Others(localID string) []Group {
	var out []Group
	for _, g := range f.Grouped() {
		if g.User.ID != localID {
			out = append(out, g)
		}
	}
	return out
}

func (f *Feed) add(s model.Story) {
	f.mu.Lock()
	for _, existing := range f.stories {
		if existing.ID == s.ID {
			f.mu.Unlock()
			return
		}
	}
	f.stories = append([]model.Story{s}, f.stories...)
	f.mu.Unlock()
	f.changed()
}

func (f *Feed) remove(id string) {
	f.mu.Lock()
	removed := false
	for i, s := range f.stories {
		if s.ID == id {
			f.stories = append(f.stories[:i], f.stories[i+1:]...)
			removed = true
			break
		}
	}
	f.mu.Unlock()
	if removed {
		f.changed()
	}
}

func (f *Feed) setViewers(id string, viewers []model.User) {
	f.mu.Lock()
	found := false
	for i := range f.stories {
		if f.stories[i].ID == id {
			f.stories[i].Viewers = viewers
			found = true
			break
		}
	}
	f.mu.Unlock()
	if found {
		f.changed()
	}
}

func (f *Feed) changed() {
	f.bus.Emit(bus.StoriesChanged, nil)
}

func (f *Feed) onNew(data json.RawMessage) {
	var s model.Story
	if err := json.Unmarshal(data, &s); err != nil || s.ID == "" {
		f.logger.Warn("dropping malformed new_status", zap.Error(err))
		return
	}
	f.add(s)
}

// onDeleted accepts a bare id or {"statusId": id}.
func (f *Feed) onDeleted(data json.RawMessage) {
	var id string
	if t := bytes.TrimSpace(data); len(t) > 0 && t[0] == '"' {
		_ = json.Unmarshal(t, &id)
	} else {
		var p struct {
			StatusID string `json:"statusId"`
		}
		_ = json.Unmarshal(t, &p)
		id = p.StatusID
	}
	if id == "" {
		f.logger.Warn("dropping malformed status_deleted")
		return
	}
	f.remove(id)
}

func (f *Feed) onViewed(data json.RawMessage) {
	var p struct {
		StatusID string       `json:"statusId"`
		Viewers  []model.User `json:"viewers"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.StatusID == "" {
		f.logger.Warn("dropping malformed status_viewed", zap.Error(err))
		return
	}
	f.setViewers(p.StatusID, p.Viewers)
}

func dedupe(list []model.Story) []model.Story {
	seen := make(map[string]struct{}, len(list))
	out := make([]model.Story, 0, len(list))
	for _, s := range list {
		if _, ok := seen[s.ID]; ok {
			continue
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}
	return out
}
