// Package chat keeps the active conversation's message list consistent with
// the remote store under optimistic sends and pushed mutations.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/matheus3301/wpprtc/internal/bus"
	"github.com/matheus3301/wpprtc/internal/conversation"
	"github.com/matheus3301/wpprtc/internal/model"
	"github.com/matheus3301/wpprtc/internal/transport"
	"go.uber.org/zap"
)

const scope = "chat"

var (
	// ErrSuperseded is returned by FetchMessages when another fetch changed
	// the active conversation before this one completed.
	ErrSuperseded = errors.New("chat: fetch superseded")
	// ErrUnknownMessage is returned when a temporary id does not match a
	// pending send.
	ErrUnknownMessage = errors.New("chat: unknown message")
)

// Remote is the subset of the remote store the engine needs.
type Remote interface {
	Conversations(ctx context.Context) ([]model.Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]model.Message, error)
	SendMessage(ctx context.Context, d model.Draft) (model.Message, error)
	MarkRead(ctx context.Context, ids []string) error
	DeleteMessage(ctx context.Context, id string) error
}

// Seeder is notified with every conversation snapshot.
type Seeder interface {
	Seed(ctx context.Context, convs []model.Conversation) error
}

type outgoing struct {
	draft  model.Draft
	msg    model.Message
	echoID string
}

// Engine owns the message list of the active conversation.
type Engine struct {
	localID  string
	remote   Remote
	emit     transport.Emitter
	index    *conversation.Index
	presence Seeder
	bus      *bus.Bus
	logger   *zap.Logger

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	active   string
	messages []model.Message
	pending  map[string]*outgoing
	seen     map[string]struct{}
	reading  map[string]struct{}
	readDue  bool
	fetchSeq uint64
}

// NewEngine creates an engine for localID. presence may be nil.
func NewEngine(localID string, remote Remote, emit transport.Emitter, index *conversation.Index, presence Seeder, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		localID:  localID,
		remote:   remote,
		emit:     emit,
		index:    index,
		presence: presence,
		bus:      b,
		logger:   logger.Named("chat"),
		ctx:      context.Background(),
		pending:  make(map[string]*outgoing),
		seen:     make(map[string]struct{}),
		reading:  make(map[string]struct{}),
	}
}

// Start sets the context used for background work such as automatic read
// receipts.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ctx, e.cancel = context.WithCancel(ctx)
}

// Stop cancels background work.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// Bind subscribes to the inbound message events.
func (e *Engine) Bind(sub transport.Subscriber) {
	sub.Subscribe(scope, "receive_message", e.onReceive)
	sub.Subscribe(scope, "message_status_update", e.onStatusUpdate)
	sub.Subscribe(scope, "reaction_update", e.onReactionUpdate)
	sub.Subscribe(scope, "message", e.onDeleted)
	sub.Subscribe(scope, "message_error", e.onError)
}

// Unbind drops the engine's subscriptions.
func (e *Engine) Unbind(sub transport.Subscriber) {
	sub.Release(scope)
}

// Active returns the id of the conversation currently displayed.
func (e *Engine) Active() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Messages returns a copy of the active list.
func (e *Engine) Messages() []model.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.Message(nil), e.messages...)
}

// Conversations returns the indexed conversation list.
func (e *Engine) Conversations() []model.Conversation {
	return e.index.List()
}

// FetchConversations replaces the conversation index with the remote snapshot
// and seeds presence for its participants.
func (e *Engine) FetchConversations(ctx context.Context) ([]model.Conversation, error) {
	list, err := e.remote.Conversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch conversations: %w", err)
	}
	e.index.Replace(list)
	e.mu.Lock()
	e.seen = make(map[string]struct{})
	e.mu.Unlock()
	e.bus.Emit(bus.ConversationsReplaced, len(list))

	if e.presence != nil {
		if err := e.presence.Seed(ctx, list); err != nil {
			e.logger.Warn("presence seeding incomplete", zap.Error(err))
		}
	}
	return list, nil
}

// FetchMessages makes conversationID the active conversation with the remote
// snapshot of its messages, then sends read receipts for anything unread.
// Unconfirmed local sends for the conversation are kept after the snapshot.
func (e *Engine) FetchMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	if conversationID == "" {
		return nil, errors.New("fetch messages: empty conversation id")
	}
	e.mu.Lock()
	e.fetchSeq++
	seq := e.fetchSeq
	e.mu.Unlock()

	snapshot, err := e.remote.Messages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	e.mu.Lock()
	if e.fetchSeq != seq {
		e.mu.Unlock()
		e.logger.Debug("discarding superseded snapshot", zap.String("conversation", conversationID))
		return nil, ErrSuperseded
	}
	list := make([]model.Message, 0, len(snapshot))
	ids := make(map[string]struct{}, len(snapshot))
	for _, m := range snapshot {
		if m.ID == "" {
			continue
		}
		if _, dup := ids[m.ID]; dup {
			continue
		}
		ids[m.ID] = struct{}{}
		list = append(list, m)
	}
	for _, out := range e.pending {
		if out.msg.ConversationID != conversationID {
			continue
		}
		if _, echoed := ids[out.echoID]; out.echoID != "" && echoed {
			continue
		}
		list = append(list, out.msg)
	}
	e.active = conversationID
	e.messages = list
	result := append([]model.Message(nil), list...)
	e.mu.Unlock()

	e.index.ClearUnread(conversationID)
	e.bus.Emit(bus.MessagesReplaced, conversationID)

	if err := e.MarkRead(ctx); err != nil {
		e.logger.Warn("read receipts failed", zap.String("conversation", conversationID), zap.Error(err))
	}
	return result, nil
}

// Receive applies a message pushed by the service.
func (e *Engine) Receive(msg model.Message) {
	if msg.ID == "" {
		e.logger.Warn("dropping message without id")
		return
	}
	if msg.ConversationID == "" {
		if id, ok := e.index.Resolve(msg); ok {
			msg.ConversationID = id
		}
	}

	e.mu.Lock()
	if e.indexOf(msg.ID) >= 0 {
		e.mu.Unlock()
		return
	}
	if _, dup := e.seen[msg.ID]; dup {
		e.mu.Unlock()
		return
	}
	e.seen[msg.ID] = struct{}{}

	var settled *Confirmation
	display := msg.ConversationID != "" && msg.ConversationID == e.active
	if display {
		if i, tempID := e.matchEcho(msg); i >= 0 {
			e.messages[i] = msg
			if out := e.pending[tempID]; out.msg.Status == model.StatusFailed {
				// The write was reported failed but the service stored it.
				settled = &Confirmation{TempID: tempID, Message: e.settle(tempID, out)}
			}
		} else {
			e.messages = append(e.messages, msg)
		}
	}
	active := e.active
	e.mu.Unlock()

	if conv, ok := e.index.RecordMessage(msg, e.localID, active); ok {
		e.bus.Emit(bus.ConversationUpdated, conv)
	}
	e.bus.Emit(bus.MessageUpserted, msg)
	if settled != nil {
		e.bus.Emit(bus.MessageConfirmed, *settled)
	}

	if display && msg.Receiver.ID == e.localID {
		e.scheduleRead()
	}
}

// scheduleRead sends read receipts in the background. Messages arriving
// before the queued run starts share its batch.
func (e *Engine) scheduleRead() {
	e.mu.Lock()
	if e.readDue {
		e.mu.Unlock()
		return
	}
	e.readDue = true
	ctx := e.ctx
	e.mu.Unlock()

	go func() {
		e.mu.Lock()
		e.readDue = false
		e.mu.Unlock()
		if err := e.MarkRead(ctx); err != nil {
			e.logger.Warn("automatic read receipt failed", zap.Error(err))
		}
	}()
}

// matchEcho finds the optimistic entry a server echo of the local user's own
// message corresponds to, oldest first, and records the durable id on it.
// In-flight sends are preferred over failed ones. Callers hold e.mu.
func (e *Engine) matchEcho(msg model.Message) (int, string) {
	if msg.Sender.ID != e.localID {
		return -1, ""
	}
	for _, failed := range []bool{false, true} {
		for i, m := range e.messages {
			if !m.Pending() || (m.Status == model.StatusFailed) != failed {
				continue
			}
			out, ok := e.pending[m.TempID]
			if !ok || out.echoID != "" {
				continue
			}
			if m.Receiver.ID == msg.Receiver.ID && m.Content == msg.Content && m.ContentType == msg.ContentType {
				out.echoID = msg.ID
				return i, m.TempID
			}
		}
	}
	return -1, ""
}

// indexOf returns the position of the durable id in the list. Callers hold e.mu.
func (e *Engine) indexOf(id string) int {
	for i, m := range e.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// indexOfTemp returns the position of an unconfirmed entry. Callers hold e.mu.
func (e *Engine) indexOfTemp(tempID string) int {
	for i, m := range e.messages {
		if m.ID == "" && m.TempID == tempID {
			return i
		}
	}
	return -1
}

func (e *Engine) onReceive(data json.RawMessage) {
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		e.logger.Warn("dropping malformed receive_message", zap.Error(err))
		return
	}
	e.Receive(msg)
}

type statusUpdate struct {
	MessageID string               `json:"messageId"`
	Status    model.DeliveryStatus `json:"messageStatus"`
}

func (e *Engine) onStatusUpdate(data json.RawMessage) {
	var u statusUpdate
	if err := json.Unmarshal(data, &u); err != nil || u.MessageID == "" {
		e.logger.Warn("dropping malformed message_status_update", zap.Error(err))
		return
	}
	e.mutate(u.MessageID, func(m *model.Message) { m.Status = u.Status })
}

type reactionUpdate struct {
	MessageID string           `json:"messageId"`
	Reactions []model.Reaction `json:"reactions"`
}

func (e *Engine) onReactionUpdate(data json.RawMessage) {
	var u reactionUpdate
	if err := json.Unmarshal(data, &u); err != nil || u.MessageID == "" {
		e.logger.Warn("dropping malformed reaction_update", zap.Error(err))
		return
	}
	e.mutate(u.MessageID, func(m *model.Message) { m.Reactions = u.Reactions })
}

type deletion struct {
	DeletedMessageID string `json:"deletedMessageId"`
}

func (e *Engine) onDeleted(data json.RawMessage) {
	var d deletion
	if err := json.Unmarshal(data, &d); err != nil || d.DeletedMessageID == "" {
		e.logger.Warn("dropping malformed deletion", zap.Error(err))
		return
	}
	e.applyDeletion(d.DeletedMessageID)
}

func (e *Engine) onError(data json.RawMessage) {
	e.logger.Warn("service reported message error", zap.ByteString("payload", data))
	e.bus.Emit(bus.MessageError, string(data))
}

func (e *Engine) mutate(id string, fn func(*model.Message)) {
	e.mu.Lock()
	i := e.indexOf(id)
	if i < 0 {
		e.mu.Unlock()
		return
	}
	fn(&e.messages[i])
	msg := e.messages[i]
	e.mu.Unlock()
	e.bus.Emit(bus.MessageUpserted, msg)
}

func (e *Engine) applyDeletion(id string) {
	e.mu.Lock()
	i := e.indexOf(id)
	if i >= 0 {
		e.messages = append(e.messages[:i], e.messages[i+1:]...)
	}
	e.mu.Unlock()
	if i >= 0 {
		e.bus.Emit(bus.MessageDeleted, id)
	}
}
