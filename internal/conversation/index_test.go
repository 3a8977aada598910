package conversation

import (
	"testing"

	"github.com/matheus3301/wpprtc/internal/model"
)

func sample() []model.Conversation {
	return []model.Conversation{
		{ID: "c1", Participants: []model.User{{ID: "me"}, {ID: "bob"}}},
		{ID: "c2", Participants: []model.User{{ID: "amy"}, {ID: "me"}}, UnreadCount: 3},
	}
}

func TestLookupIsOrderIndependent(t *testing.T) {
	x := NewIndex()
	x.Replace(sample())

	for _, pair := range [][2]string{{"me", "bob"}, {"bob", "me"}} {
		c, ok := x.Lookup(pair[0], pair[1])
		if !ok || c.ID != "c1" {
			t.Errorf("Lookup(%s,%s) = %q,%v want c1", pair[0], pair[1], c.ID, ok)
		}
	}
	if _, ok := x.Lookup("bob", "amy"); ok {
		t.Error("bob and amy share no conversation")
	}
}

func TestReplaceKeepsOrder(t *testing.T) {
	x := NewIndex()
	x.Replace(sample())
	x.Replace([]model.Conversation{{ID: "c9"}, {ID: "c2"}})

	got := x.List()
	if len(got) != 2 || got[0].ID != "c9" || got[1].ID != "c2" {
		t.Errorf("List = %+v", got)
	}
	if _, ok := x.Get("c1"); ok {
		t.Error("c1 should be gone after Replace")
	}
}

func TestRecordMessageUnreadRule(t *testing.T) {
	x := NewIndex()
	x.Replace(sample())

	incoming := model.Message{ID: "m1", ConversationID: "c1", Sender: model.User{ID: "bob"}, Receiver: model.User{ID: "me"}}
	outgoing := model.Message{ID: "m2", ConversationID: "c1", Sender: model.User{ID: "me"}, Receiver: model.User{ID: "bob"}}

	// Not active: incoming counts, outgoing does not.
	x.RecordMessage(incoming, "me", "c2")
	c, _ := x.RecordMessage(outgoing, "me", "c2")
	if c.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", c.UnreadCount)
	}
	if c.LastMessage == nil || c.LastMessage.ID != "m2" {
		t.Errorf("last message = %+v, want m2", c.LastMessage)
	}

	// Active: nothing counts.
	c, _ = x.RecordMessage(model.Message{ID: "m3", ConversationID: "c1", Receiver: model.User{ID: "me"}}, "me", "c1")
	if c.UnreadCount != 1 {
		t.Errorf("unread = %d after active message, want 1", c.UnreadCount)
	}

	x.ClearUnread("c1")
	c, _ = x.Get("c1")
	if c.UnreadCount != 0 {
		t.Errorf("unread = %d after ClearUnread", c.UnreadCount)
	}
}

func TestResolveByPair(t *testing.T) {
	x := NewIndex()
	x.Replace(sample())

	id, ok := x.Resolve(model.Message{Sender: model.User{ID: "amy"}, Receiver: model.User{ID: "me"}})
	if !ok || id != "c2" {
		t.Errorf("Resolve = %q,%v want c2", id, ok)
	}
	if _, ok := x.RecordMessage(model.Message{Sender: model.User{ID: "zed"}, Receiver: model.User{ID: "me"}}, "me", ""); ok {
		t.Error("message for an unknown pair should not update anything")
	}
}
