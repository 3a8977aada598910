// Package archive mirrors engine events into the profile's SQLite cache so
// history, failed sends and the call log survive a daemon restart.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/wpprtc/internal/bus"
	"github.com/matheus3301/wpprtc/internal/call"
	"github.com/matheus3301/wpprtc/internal/chat"
	"github.com/matheus3301/wpprtc/internal/model"
	"github.com/matheus3301/wpprtc/internal/store"
	"go.uber.org/zap"
)

// Source exposes the chat engine's current view.
type Source interface {
	Active() string
	Messages() []model.Message
	Conversations() []model.Conversation
}

// Resolver maps a message onto its conversation id.
type Resolver interface {
	Resolve(msg model.Message) (string, bool)
}

// Archiver consumes bus events and writes them to the store.
type Archiver struct {
	db       *store.DB
	bus      *bus.Bus
	source   Source
	resolver Resolver
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates an archiver. Call Start to begin consuming events.
func New(db *store.DB, b *bus.Bus, source Source, resolver Resolver, logger *zap.Logger) *Archiver {
	return &Archiver{
		db:       db,
		bus:      b,
		source:   source,
		resolver: resolver,
		logger:   logger.Named("archive"),
	}
}

// Start subscribes to the bus. Events are applied in publish order.
func (a *Archiver) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})
	ch, unsub := a.bus.Subscribe("", 512)

	go func() {
		defer close(a.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if err := a.apply(evt); err != nil {
					a.logger.Error("archiving event", zap.String("kind", evt.Kind), zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops consuming and waits for the current event to finish.
func (a *Archiver) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
}

func (a *Archiver) apply(evt bus.Event) error {
	switch evt.Kind {
	case bus.ConversationsReplaced:
		return a.replaceConversations()
	case bus.ConversationUpdated:
		if conv, ok := evt.Payload.(model.Conversation); ok {
			row, err := conversationRow(conv)
			if err != nil {
				return err
			}
			return a.db.UpsertConversation(row)
		}
	case bus.MessagesReplaced:
		if id, ok := evt.Payload.(string); ok {
			return a.replaceMessages(id)
		}
	case bus.MessageUpserted:
		if msg, ok := evt.Payload.(model.Message); ok {
			return a.upsert(msg)
		}
	case bus.MessageConfirmed:
		if c, ok := evt.Payload.(chat.Confirmation); ok {
			if err := a.db.RemoveOutbox(c.TempID); err != nil {
				return err
			}
			return a.upsert(c.Message)
		}
	case bus.MessageSendFailed:
		if f, ok := evt.Payload.(chat.Failure); ok {
			return a.db.MarkOutboxFailed(f.TempID, errText(f.Err))
		}
	case bus.MessageDeleted:
		if id, ok := evt.Payload.(string); ok {
			// Either a discarded temp id or a deleted durable id.
			if err := a.db.RemoveOutbox(id); err != nil {
				return err
			}
			return a.db.MarkDeleted(id)
		}
	case bus.MessageRead:
		if ids, ok := evt.Payload.([]string); ok {
			return a.db.SetStatus(string(model.StatusSeen), ids...)
		}
	case bus.PresenceChanged:
		if p, ok := evt.Payload.(model.Presence); ok {
			return a.db.UpsertPresence(&store.Presence{UserID: p.UserID, Online: p.Online, LastSeen: millis(p.LastSeen)})
		}
	case bus.TransportDisconnected:
		return a.db.ResetPresence()
	case bus.CallFinished:
		if rec, ok := evt.Payload.(call.Record); ok {
			return a.db.RecordCall(callRow(rec))
		}
	}
	return nil
}

func (a *Archiver) replaceConversations() error {
	convs := a.source.Conversations()
	rows := make([]store.Conversation, 0, len(convs))
	for _, c := range convs {
		row, err := conversationRow(c)
		if err != nil {
			return err
		}
		rows = append(rows, *row)
	}
	a.logger.Debug("conversations archived", zap.Int("count", len(rows)))
	return a.db.ReplaceConversations(rows)
}

func (a *Archiver) replaceMessages(conversationID string) error {
	if a.source.Active() != conversationID {
		// Another fetch already replaced the view.
		return nil
	}
	var rows []store.Message
	for _, m := range a.source.Messages() {
		if m.Pending() {
			continue
		}
		rows = append(rows, messageRow(m, conversationID))
	}
	return a.db.ReplaceMessages(conversationID, rows)
}

func (a *Archiver) upsert(msg model.Message) error {
	convID := msg.ConversationID
	if convID == "" && a.resolver != nil {
		convID, _ = a.resolver.Resolve(msg)
	}
	if msg.Pending() {
		return a.db.QueueOutbox(&store.OutboxEntry{
			TempID:         msg.TempID,
			ConversationID: convID,
			ReceiverID:     msg.Receiver.ID,
			Content:        msg.Content,
			CreatedAt:      millisOf(msg),
		})
	}
	if convID == "" {
		a.logger.Debug("message without conversation not archived", zap.String("message_id", msg.ID))
		return nil
	}
	row := messageRow(msg, convID)
	return a.db.UpsertMessage(&row)
}

func conversationRow(c model.Conversation) (*store.Conversation, error) {
	participants, err := json.Marshal(c.Participants)
	if err != nil {
		return nil, fmt.Errorf("encode participants: %w", err)
	}
	row := &store.Conversation{ID: c.ID, Participants: string(participants), UnreadCount: c.UnreadCount}
	if lm := c.LastMessage; lm != nil {
		row.LastMessageID = lm.Key()
		row.LastMessagePreview = preview(*lm)
		row.LastMessageAt = millisOf(*lm)
	}
	return row, nil
}

func messageRow(m model.Message, convID string) store.Message {
	reactions := "[]"
	if len(m.Reactions) > 0 {
		if data, err := json.Marshal(m.Reactions); err == nil {
			reactions = string(data)
		}
	}
	return store.Message{
		ConversationID: convID,
		MsgID:          m.ID,
		SenderID:       m.Sender.ID,
		ReceiverID:     m.Receiver.ID,
		Content:        m.Content,
		ContentType:    string(m.ContentType),
		MediaURL:       m.MediaURL,
		Status:         string(m.Status),
		Reactions:      reactions,
		Deleted:        m.Deleted,
		Timestamp:      millisOf(m),
	}
}

func callRow(r call.Record) *store.Call {
	return &store.Call{
		CallID:      r.ID,
		PeerID:      r.PeerID,
		Role:        string(r.Role),
		Kind:        string(r.Kind),
		FinalState:  string(r.State),
		Reason:      r.Reason,
		StartedAt:   millis(r.StartedAt),
		ConnectedAt: millis(r.ConnectedAt),
		EndedAt:     millis(r.EndedAt),
	}
}

func preview(m model.Message) string {
	switch {
	case m.Deleted:
		return "message deleted"
	case m.ContentType == model.KindImage && m.Content == "":
		return "[image]"
	case m.ContentType == model.KindVideo && m.Content == "":
		return "[video]"
	}
	return truncate(m.Content, 100)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func millisOf(m model.Message) int64 {
	t, err := m.Time()
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
