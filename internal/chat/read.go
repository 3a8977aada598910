package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/wpprtc/internal/bus"
	"github.com/matheus3301/wpprtc/internal/model"
	"go.uber.org/zap"
)

type readReceipt struct {
	MessageIDs []string `json:"messageIds"`
	SenderID   string   `json:"senderId"`
}

type reaction struct {
	MessageID      string `json:"messageId"`
	Emoji          string `json:"emoji"`
	ReactionUserID string `json:"reactionUserId"`
}

// MarkRead batches every unseen message addressed to the local user in the
// active list into one remote call, flips them to seen and notifies the
// sender. Messages authored locally are never touched.
func (e *Engine) MarkRead(ctx context.Context) error {
	e.mu.Lock()
	var ids []string
	senderID := ""
	for _, m := range e.messages {
		if m.ID == "" || m.Receiver.ID != e.localID || m.Status == model.StatusSeen {
			continue
		}
		if _, busy := e.reading[m.ID]; busy {
			continue
		}
		ids = append(ids, m.ID)
		if senderID == "" {
			senderID = m.Sender.ID
		}
	}
	for _, id := range ids {
		e.reading[id] = struct{}{}
	}
	active := e.active
	e.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	err := e.remote.MarkRead(ctx, ids)

	marked := make(map[string]struct{}, len(ids))
	e.mu.Lock()
	for _, id := range ids {
		delete(e.reading, id)
		marked[id] = struct{}{}
	}
	if err == nil {
		for i := range e.messages {
			if _, ok := marked[e.messages[i].ID]; ok {
				e.messages[i].Status = model.StatusSeen
			}
		}
	}
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}

	e.index.ClearUnread(active)
	e.bus.Emit(bus.MessageRead, ids)
	if err := e.emit.Emit("message_read", readReceipt{MessageIDs: ids, SenderID: senderID}); err != nil {
		e.logger.Warn("message_read notification failed", zap.Error(err))
	}
	return nil
}

// AddReaction asks the service to add emoji to messageID. The list changes
// when reaction_update comes back.
func (e *Engine) AddReaction(messageID, emoji string) error {
	if messageID == "" || emoji == "" {
		return errors.New("add reaction: message id and emoji are required")
	}
	if err := e.emit.Emit("add_reaction", reaction{MessageID: messageID, Emoji: emoji, ReactionUserID: e.localID}); err != nil {
		return fmt.Errorf("add reaction: %w", err)
	}
	return nil
}

// Delete removes messageID from the remote store. The list drops the entry on
// the store's confirmation, which is the same path the pushed deletion takes.
func (e *Engine) Delete(ctx context.Context, messageID string) error {
	if messageID == "" {
		return errors.New("delete message: empty id")
	}
	if err := e.remote.DeleteMessage(ctx, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	e.applyDeletion(messageID)
	return nil
}
