// Package presence caches who is online and who is typing where.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/wpprtc/internal/bus"
	"github.com/matheus3301/wpprtc/internal/model"
	"github.com/matheus3301/wpprtc/internal/transport"
	"go.uber.org/zap"
)

const scope = "presence"

// Source answers presence queries for users the tracker has not heard about.
type Source interface {
	UserStatus(ctx context.Context, userID string) (model.Presence, error)
}

// Record is the cached presence of one user.
type Record struct {
	Online   bool
	LastSeen time.Time
}

// Tracker owns the presence and typing maps. Only inbound events and Seed
// mutate them; everything else reads through the query methods.
type Tracker struct {
	localID string
	source  Source
	bus     *bus.Bus
	logger  *zap.Logger

	mu     sync.RWMutex
	users  map[string]Record
	typing map[string]map[string]struct{}
	err    error
}

// NewTracker creates a tracker for localID.
func NewTracker(localID string, src Source, b *bus.Bus, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		localID: localID,
		source:  src,
		bus:     b,
		logger:  logger.Named("presence"),
		users:   make(map[string]Record),
		typing:  make(map[string]map[string]struct{}),
	}
}

// Bind subscribes to user_status and user_typing.
func (t *Tracker) Bind(sub transport.Subscriber) {
	sub.Subscribe(scope, "user_status", t.onStatus)
	sub.Subscribe(scope, "user_typing", t.onTyping)
}

// Unbind drops the tracker's subscriptions.
func (t *Tracker) Unbind(sub transport.Subscriber) {
	sub.Release(scope)
}

func (t *Tracker) onStatus(data json.RawMessage) {
	var p model.Presence
	if err := json.Unmarshal(data, &p); err != nil || p.UserID == "" {
		t.logger.Warn("dropping malformed user_status", zap.Error(err))
		return
	}
	t.mu.Lock()
	t.users[p.UserID] = Record{Online: p.Online, LastSeen: p.LastSeen}
	t.mu.Unlock()
	t.bus.Emit(bus.PresenceChanged, p)
}

func (t *Tracker) onTyping(data json.RawMessage) {
	var ev model.Typing
	if err := json.Unmarshal(data, &ev); err != nil || ev.ConversationID == "" || ev.UserID == "" {
		t.logger.Warn("dropping malformed user_typing", zap.Error(err))
		return
	}
	t.mu.Lock()
	set, ok := t.typing[ev.ConversationID]
	if !ok {
		set = make(map[string]struct{})
		t.typing[ev.ConversationID] = set
	}
	if ev.IsTyping {
		set[ev.UserID] = struct{}{}
	} else {
		delete(set, ev.UserID)
	}
	t.mu.Unlock()
	t.bus.Emit(bus.PresenceChanged, ev)
}

// IsOnline reports the cached online flag. Unknown users are offline.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.users[userID].Online
}

// LastSeen returns the cached last-seen time and whether the user is known.
func (t *Tracker) LastSeen(userID string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.users[userID]
	return r.LastSeen, ok
}

// Lookup returns the full record for userID.
func (t *Tracker) Lookup(userID string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.users[userID]
	return r, ok
}

// IsTyping reports whether userID is typing in conversationID.
func (t *Tracker) IsTyping(conversationID, userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.typing[conversationID][userID]
	return ok
}

// Typing lists the users typing in conversationID, sorted.
func (t *Tracker) Typing(conversationID string) []string {
	t.mu.RLock()
	out := make([]string, 0, len(t.typing[conversationID]))
	for id := range t.typing[conversationID] {
		out = append(out, id)
	}
	t.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Err returns the last seeding error, if any.
func (t *Tracker) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// Seed queries presence for every distinct participant of convs that is
// neither the local user nor already known. A failed query leaves the cache
// untouched for that user and is reported through Err and presence.error.
func (t *Tracker) Seed(ctx context.Context, convs []model.Conversation) error {
	if t.source == nil {
		return nil
	}
	seen := make(map[string]bool)
	var pending []string
	t.mu.RLock()
	for _, c := range convs {
		for _, p := range c.Others(t.localID) {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			if _, known := t.users[p.ID]; !known {
				pending = append(pending, p.ID)
			}
		}
	}
	t.mu.RUnlock()

	var errs []error
	for _, id := range pending {
		p, err := t.source.UserStatus(ctx, id)
		if err != nil {
			err = fmt.Errorf("presence query %s: %w", id, err)
			t.logger.Warn("presence query failed", zap.String("user", id), zap.Error(err))
			t.mu.Lock()
			t.err = err
			t.mu.Unlock()
			t.bus.Emit(bus.PresenceError, err)
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if p.UserID == "" {
			p.UserID = id
		}
		t.mu.Lock()
		// A push that landed while the query was in flight is fresher.
		_, known := t.users[p.UserID]
		if !known {
			t.users[p.UserID] = Record{Online: p.Online, LastSeen: p.LastSeen}
		}
		t.mu.Unlock()
		if !known {
			t.bus.Emit(bus.PresenceChanged, p)
		}
	}
	if len(errs) == 0 {
		t.mu.Lock()
		t.err = nil
		t.mu.Unlock()
	}
	return errors.Join(errs...)
}
