// Package conversation maps participant pairs to conversation records.
package conversation

import (
	"sync"

	"github.com/matheus3301/wpprtc/internal/model"
)

// Index holds the conversation list of the local user.
type Index struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*model.Conversation
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{byID: make(map[string]*model.Conversation)}
}

// Replace swaps the whole list for a remote snapshot, preserving its order.
func (x *Index) Replace(list []model.Conversation) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.order = x.order[:0]
	x.byID = make(map[string]*model.Conversation, len(list))
	for i := range list {
		c := list[i]
		if c.ID == "" {
			continue
		}
		if _, dup := x.byID[c.ID]; !dup {
			x.order = append(x.order, c.ID)
		}
		x.byID[c.ID] = &c
	}
}

// List returns a copy of the conversations in snapshot order.
func (x *Index) List() []model.Conversation {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]model.Conversation, 0, len(x.order))
	for _, id := range x.order {
		out = append(out, *x.byID[id])
	}
	return out
}

// Get returns the conversation with id.
func (x *Index) Get(id string) (model.Conversation, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	c, ok := x.byID[id]
	if !ok {
		return model.Conversation{}, false
	}
	return *c, true
}

// Lookup finds the conversation whose participants include both a and b,
// regardless of order.
func (x *Index) Lookup(a, b string) (model.Conversation, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for _, id := range x.order {
		c := x.byID[id]
		if c.Has(a) && c.Has(b) {
			return *c, true
		}
	}
	return model.Conversation{}, false
}

// Resolve returns the conversation id a message belongs to: its own
// conversation field when set, otherwise the pair lookup.
func (x *Index) Resolve(msg model.Message) (string, bool) {
	if msg.ConversationID != "" {
		return msg.ConversationID, true
	}
	c, ok := x.Lookup(msg.Sender.ID, msg.Receiver.ID)
	return c.ID, ok
}

// RecordMessage sets msg as the last message of its conversation and bumps the
// unread counter when msg is addressed to localID and the conversation is not
// the active one. It reports whether a conversation was updated.
func (x *Index) RecordMessage(msg model.Message, localID, activeID string) (model.Conversation, bool) {
	id, ok := x.Resolve(msg)
	if !ok {
		return model.Conversation{}, false
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	c, ok := x.byID[id]
	if !ok {
		return model.Conversation{}, false
	}
	last := msg
	c.LastMessage = &last
	if msg.Receiver.ID == localID && id != activeID {
		c.UnreadCount++
	}
	return *c, true
}

// ClearUnread resets the unread counter of id.
func (x *Index) ClearUnread(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if c, ok := x.byID[id]; ok {
		c.UnreadCount = 0
	}
}
