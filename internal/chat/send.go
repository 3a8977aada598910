package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wpprtc/internal/bus"
	"github.com/matheus3301/wpprtc/internal/model"
	"go.uber.org/zap"
)

// Confirmation is the payload of message.confirmed.
type Confirmation struct {
	TempID  string
	Message model.Message
}

// Failure is the payload of message.send_failed.
type Failure struct {
	TempID string
	Err    error
}

// Send inserts an optimistic message and writes it to the remote store. The
// optimistic entry starts as sent; delivered and seen only ever come from the
// service. On success the entry is replaced in place by the confirmed record.
// On failure it stays in the list marked failed so it can be retried or
// discarded.
func (e *Engine) Send(ctx context.Context, d model.Draft) (model.Message, error) {
	if d.ReceiverID == "" {
		return model.Message{}, errors.New("send message: empty receiver")
	}
	if d.Content == "" && d.Media == nil {
		return model.Message{}, errors.New("send message: empty message")
	}
	if d.SenderID == "" {
		d.SenderID = e.localID
	}

	convID := ""
	if c, ok := e.index.Lookup(d.SenderID, d.ReceiverID); ok {
		convID = c.ID
	}
	msg := model.Message{
		TempID:         "temp-" + uuid.NewString(),
		Sender:         model.User{ID: d.SenderID},
		Receiver:       model.User{ID: d.ReceiverID},
		ConversationID: convID,
		Content:        d.Content,
		ContentType:    d.Kind(),
		Status:         model.StatusSent,
		CreatedAt:      time.Now().UTC().Format(time.RFC3339Nano),
	}

	e.mu.Lock()
	e.pending[msg.TempID] = &outgoing{draft: d, msg: msg}
	if e.displays(convID) {
		e.messages = append(e.messages, msg)
	}
	e.mu.Unlock()
	e.bus.Emit(bus.MessageUpserted, msg)

	return e.deliver(ctx, msg.TempID)
}

// Retry sends a failed message again, keeping its position in the list.
func (e *Engine) Retry(ctx context.Context, tempID string) (model.Message, error) {
	e.mu.Lock()
	out, ok := e.pending[tempID]
	if !ok || out.msg.Status != model.StatusFailed {
		e.mu.Unlock()
		return model.Message{}, fmt.Errorf("retry %s: %w", tempID, ErrUnknownMessage)
	}
	out.msg.Status = model.StatusSent
	if i := e.indexOfTemp(tempID); i >= 0 {
		e.messages[i].Status = model.StatusSent
	}
	msg := out.msg
	e.mu.Unlock()
	e.bus.Emit(bus.MessageUpserted, msg)

	return e.deliver(ctx, tempID)
}

// Discard drops a failed message.
func (e *Engine) Discard(tempID string) error {
	e.mu.Lock()
	out, ok := e.pending[tempID]
	if !ok || out.msg.Status != model.StatusFailed {
		e.mu.Unlock()
		return fmt.Errorf("discard %s: %w", tempID, ErrUnknownMessage)
	}
	delete(e.pending, tempID)
	if i := e.indexOfTemp(tempID); i >= 0 {
		e.messages = append(e.messages[:i], e.messages[i+1:]...)
	}
	e.mu.Unlock()
	e.bus.Emit(bus.MessageDeleted, tempID)
	return nil
}

// Restore re-adds a send that an earlier run never saw confirmed. It comes
// back as failed so it can be retried or discarded, and it reports false when
// tempID is already pending.
func (e *Engine) Restore(tempID, conversationID string, d model.Draft, at time.Time) bool {
	if d.SenderID == "" {
		d.SenderID = e.localID
	}
	msg := model.Message{
		TempID:         tempID,
		Sender:         model.User{ID: d.SenderID},
		Receiver:       model.User{ID: d.ReceiverID},
		ConversationID: conversationID,
		Content:        d.Content,
		ContentType:    d.Kind(),
		Status:         model.StatusFailed,
		CreatedAt:      at.UTC().Format(time.RFC3339Nano),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.pending[tempID]; dup {
		return false
	}
	e.pending[tempID] = &outgoing{draft: d, msg: msg}
	if e.displays(conversationID) {
		e.messages = append(e.messages, msg)
	}
	return true
}

// Pending returns the unconfirmed sends, including failed ones.
func (e *Engine) Pending() []model.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Message, 0, len(e.pending))
	for _, p := range e.pending {
		out = append(out, p.msg)
	}
	return out
}

// displays reports whether a message of convID belongs in the active list.
// A message to someone without a conversation yet is shown only when no
// conversation is open. Callers hold e.mu.
func (e *Engine) displays(convID string) bool {
	return convID == e.active
}

func (e *Engine) deliver(ctx context.Context, tempID string) (model.Message, error) {
	e.mu.Lock()
	out, ok := e.pending[tempID]
	if !ok {
		e.mu.Unlock()
		return model.Message{}, fmt.Errorf("send %s: %w", tempID, ErrUnknownMessage)
	}
	draft := out.draft
	e.mu.Unlock()

	confirmed, err := e.remote.SendMessage(ctx, draft)
	if err == nil && confirmed.ID == "" {
		err = errors.New("remote store returned a message without id")
	}
	if err != nil {
		return e.fail(tempID, err)
	}
	return e.confirm(tempID, confirmed)
}

func (e *Engine) fail(tempID string, cause error) (model.Message, error) {
	err := fmt.Errorf("send message: %w", cause)
	e.mu.Lock()
	out, ok := e.pending[tempID]
	if !ok {
		e.mu.Unlock()
		return model.Message{}, err
	}
	if out.echoID != "" {
		// The service already pushed this message back, so it was stored.
		echoed := e.settle(tempID, out)
		e.mu.Unlock()
		e.logger.Info("send errored after its echo arrived, keeping the echo",
			zap.String("temp_id", tempID), zap.String("message_id", echoed.ID), zap.Error(cause))
		e.bus.Emit(bus.MessageConfirmed, Confirmation{TempID: tempID, Message: echoed})
		return echoed, nil
	}
	out.msg.Status = model.StatusFailed
	if i := e.indexOfTemp(tempID); i >= 0 {
		e.messages[i].Status = model.StatusFailed
	}
	msg := out.msg
	e.mu.Unlock()

	e.logger.Warn("send failed", zap.String("temp_id", tempID), zap.Error(cause))
	e.bus.Emit(bus.MessageSendFailed, Failure{TempID: tempID, Err: err})
	return msg, err
}

func (e *Engine) confirm(tempID string, confirmed model.Message) (model.Message, error) {
	e.mu.Lock()
	out, ok := e.pending[tempID]
	if !ok {
		// Discarded while in flight; the server copy will arrive by push.
		e.mu.Unlock()
		return confirmed, nil
	}
	delete(e.pending, tempID)
	confirmed.TempID = ""
	if confirmed.ConversationID == "" {
		confirmed.ConversationID = out.msg.ConversationID
	}

	tempAt := e.indexOfTemp(tempID)
	durableAt := e.indexOf(confirmed.ID)
	switch {
	case tempAt >= 0 && durableAt >= 0:
		// The echo won the race: keep one entry.
		e.messages[durableAt] = confirmed
		e.messages = append(e.messages[:tempAt], e.messages[tempAt+1:]...)
	case tempAt >= 0:
		e.messages[tempAt] = confirmed
	case durableAt >= 0:
		e.messages[durableAt] = confirmed
	}
	e.seen[confirmed.ID] = struct{}{}
	active := e.active
	e.mu.Unlock()

	if conv, ok := e.index.RecordMessage(confirmed, e.localID, active); ok {
		e.bus.Emit(bus.ConversationUpdated, conv)
	}
	if err := e.emit.Emit("send_message", confirmed); err != nil {
		e.logger.Warn("send_message relay failed", zap.String("message_id", confirmed.ID), zap.Error(err))
	}
	e.bus.Emit(bus.MessageConfirmed, Confirmation{TempID: tempID, Message: confirmed})
	return confirmed, nil
}

// settle drops a pending send whose durable copy arrived by echo and returns
// that copy. Callers hold e.mu.
func (e *Engine) settle(tempID string, out *outgoing) model.Message {
	delete(e.pending, tempID)
	echoed := out.msg
	echoed.ID, echoed.TempID = out.echoID, ""
	if i := e.indexOf(out.echoID); i >= 0 {
		echoed = e.messages[i]
	}
	if i := e.indexOfTemp(tempID); i >= 0 {
		e.messages = append(e.messages[:i], e.messages[i+1:]...)
	}
	e.seen[echoed.ID] = struct{}{}
	return echoed
}
