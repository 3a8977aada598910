package presence

import (
	"sync"
	"time"

	"github.com/matheus3301/wpprtc/internal/transport"
	"go.uber.org/zap"
)

type typingPayload struct {
	ConversationID string `json:"conversationId"`
	ReceiverID     string `json:"receiverId"`
}

type announcement struct {
	receiverID string
	timer      *time.Timer
}

// Announcer emits the local user's typing signals. typing_start goes out once
// per burst; typing_stop follows after idle without further keystrokes.
type Announcer struct {
	emit   transport.Emitter
	idle   time.Duration
	logger *zap.Logger

	mu     sync.Mutex
	active map[string]*announcement
}

// NewAnnouncer creates an announcer. idle defaults to two seconds.
func NewAnnouncer(emit transport.Emitter, idle time.Duration, logger *zap.Logger) *Announcer {
	if idle <= 0 {
		idle = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Announcer{
		emit:   emit,
		idle:   idle,
		logger: logger.Named("typing"),
		active: make(map[string]*announcement),
	}
}

// Typing records a keystroke in conversationID addressed to receiverID.
func (a *Announcer) Typing(conversationID, receiverID string) error {
	a.mu.Lock()
	if cur, ok := a.active[conversationID]; ok {
		if cur.timer.Stop() {
			cur.timer.Reset(a.idle)
		} else {
			// Already fired and expire is waiting for mu: the burst moves to
			// a new announcement so expire finds nothing to end.
			a.track(conversationID, cur.receiverID)
		}
		a.mu.Unlock()
		return nil
	}
	a.track(conversationID, receiverID)
	a.mu.Unlock()

	return a.emit.Emit("typing_start", typingPayload{ConversationID: conversationID, ReceiverID: receiverID})
}

// track starts the idle timer of a new burst. Callers hold a.mu.
func (a *Announcer) track(conversationID, receiverID string) {
	ann := &announcement{receiverID: receiverID}
	ann.timer = time.AfterFunc(a.idle, func() { a.expire(conversationID, ann) })
	a.active[conversationID] = ann
}

// Stop ends the burst for conversationID immediately.
func (a *Announcer) Stop(conversationID string) error {
	a.mu.Lock()
	ann, ok := a.active[conversationID]
	if ok {
		ann.timer.Stop()
		delete(a.active, conversationID)
	}
	a.mu.Unlock()
	if !ok {
		return nil
	}
	return a.emit.Emit("typing_stop", typingPayload{ConversationID: conversationID, ReceiverID: ann.receiverID})
}

// StopAll ends every active burst.
func (a *Announcer) StopAll() {
	a.mu.Lock()
	ids := make([]string, 0, len(a.active))
	for id := range a.active {
		ids = append(ids, id)
	}
	a.mu.Unlock()
	for _, id := range ids {
		if err := a.Stop(id); err != nil {
			a.logger.Debug("typing_stop failed", zap.String("conversation", id), zap.Error(err))
		}
	}
}

func (a *Announcer) expire(conversationID string, ann *announcement) {
	a.mu.Lock()
	if a.active[conversationID] != ann {
		a.mu.Unlock()
		return
	}
	delete(a.active, conversationID)
	a.mu.Unlock()
	if err := a.emit.Emit("typing_stop", typingPayload{ConversationID: conversationID, ReceiverID: ann.receiverID}); err != nil {
		a.logger.Debug("typing_stop failed", zap.String("conversation", conversationID), zap.Error(err))
	}
}
