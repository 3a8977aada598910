// Package outbox brings back sends that were never confirmed when the daemon
// last stopped, and optionally retries failed sends when the link returns.
package outbox

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/wpprtc/internal/bus"
	"github.com/matheus3301/wpprtc/internal/model"
	"github.com/matheus3301/wpprtc/internal/status"
	"github.com/matheus3301/wpprtc/internal/store"
	"go.uber.org/zap"
)

// Engine is the part of the chat engine that owns pending sends.
type Engine interface {
	Restore(tempID, conversationID string, d model.Draft, at time.Time) bool
	Retry(ctx context.Context, tempID string) (model.Message, error)
	Pending() []model.Message
}

// Sender restores the persisted outbox into the engine and, when
// retryOnReconnect is set, resends failed messages each time the link comes
// back up.
type Sender struct {
	db               *store.DB
	engine           Engine
	bus              *bus.Bus
	retryOnReconnect bool
	logger           *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, engine Engine, b *bus.Bus, retryOnReconnect bool, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:               db,
		engine:           engine,
		bus:              b,
		retryOnReconnect: retryOnReconnect,
		logger:           logger.Named("outbox"),
	}
}

// Start restores leftover entries, then watches the link when automatic
// retries are enabled.
func (s *Sender) Start(ctx context.Context) {
	if n, err := s.Restore(); err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("restored unconfirmed sends", zap.Int("count", n))
	}
	if !s.retryOnReconnect {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	ch, unsub := s.bus.Subscribe(bus.TransportStatusChanged, 16)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsub()
		s.loop(ctx, ch)
	}()
}

// Stop stops the sender loop and waits for an in-progress retry round.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Restore hands every outbox entry to the engine as a failed send. Entries
// still marked pending were in flight when the previous run stopped; they
// are marked failed since their outcome is unknown.
func (s *Sender) Restore() (int, error) {
	entries, err := s.db.Outbox()
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, entry := range entries {
		if entry.ReceiverID == "" || entry.Content == "" {
			s.logger.Warn("dropping unusable outbox entry", zap.String("temp_id", entry.TempID))
			_ = s.db.RemoveOutbox(entry.TempID)
			continue
		}
		if entry.Status != "failed" {
			if err := s.db.MarkOutboxFailed(entry.TempID, "interrupted"); err != nil {
				s.logger.Error("failed to mark interrupted", zap.Error(err), zap.String("temp_id", entry.TempID))
			}
		}
		draft := model.Draft{ReceiverID: entry.ReceiverID, Content: entry.Content}
		if s.engine.Restore(entry.TempID, entry.ConversationID, draft, time.UnixMilli(entry.CreatedAt)) {
			restored++
		}
	}
	return restored, nil
}

func (s *Sender) loop(ctx context.Context, ch <-chan bus.Event) {
	for {
		select {
		case evt := <-ch:
			if change, ok := evt.Payload.(status.StatusChange); ok && change.To == status.Connected {
				s.retryFailed(ctx)
			}
		case <-ctx.Done():
			return
		}
	}
}

// retryFailed resends failed messages oldest first.
func (s *Sender) retryFailed(ctx context.Context) {
	pending := s.engine.Pending()
	slices.SortFunc(pending, func(a, b model.Message) int {
		ta, _ := a.Time()
		tb, _ := b.Time()
		return ta.Compare(tb)
	})
	for _, msg := range pending {
		if msg.Status != model.StatusFailed {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		confirmed, err := s.engine.Retry(ctx, msg.TempID)
		if err != nil {
			s.logger.Warn("retry failed", zap.String("temp_id", msg.TempID), zap.Error(err))
			continue
		}
		s.logger.Info("message sent", zap.String("temp_id", msg.TempID), zap.String("id", confirmed.ID))
	}
}
