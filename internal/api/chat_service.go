package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/matheus3301/wpprtc/internal/chat"
	"github.com/matheus3301/wpprtc/internal/conversation"
	"github.com/matheus3301/wpprtc/internal/model"
	"github.com/matheus3301/wpprtc/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ChatService serves conversations and messages.
type ChatService struct {
	localID string
	engine  *chat.Engine
	index   *conversation.Index
	db      *store.DB
	loc     *time.Location
}

// NewChatService creates a chat service. db may be nil, in which case
// cached reads are unavailable.
func NewChatService(localID string, engine *chat.Engine, index *conversation.Index, db *store.DB) *ChatService {
	return &ChatService{localID: localID, engine: engine, index: index, db: db, loc: time.Local}
}

type conversationView struct {
	ID           string         `json:"id"`
	Participants []model.User   `json:"participants"`
	UnreadCount  int            `json:"unread_count"`
	LastMessage  *model.Message `json:"last_message,omitempty"`
}

type dayView struct {
	Label    string          `json:"label"`
	Messages []model.Message `json:"messages"`
}

// ListConversations returns the indexed conversations. With refresh set the
// list is fetched from the remote store first.
func (s *ChatService) ListConversations(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	convs := s.index.List()
	if boolean(in, "refresh") {
		fetched, err := s.engine.FetchConversations(ctx)
		if err != nil {
			return nil, toStatus("list conversations", err)
		}
		convs = fetched
	}
	views := make([]conversationView, 0, len(convs))
	for _, c := range convs {
		views = append(views, conversationView{ID: c.ID, Participants: c.Participants, UnreadCount: c.UnreadCount, LastMessage: c.LastMessage})
	}
	return encode(views)
}

// OpenConversation makes conversation_id the active conversation and loads
// its history.
func (s *ChatService) OpenConversation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := required(in, "conversation_id"); err != nil {
		return nil, err
	}
	msgs, err := s.engine.FetchMessages(ctx, str(in, "conversation_id"))
	if err != nil {
		return nil, toStatus("open conversation", err)
	}
	return encode(msgs)
}

// ListMessages returns the active conversation's messages. For any other
// conversation, or with cached set, it reads the local cache.
func (s *ChatService) ListMessages(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	convID := str(in, "conversation_id")
	if convID == "" {
		convID = s.engine.Active()
	}
	if convID == "" {
		return nil, grpcstatus.Error(codes.FailedPrecondition, "no conversation is open")
	}

	var msgs []model.Message
	if convID == s.engine.Active() && !boolean(in, "cached") {
		msgs = s.engine.Messages()
	} else {
		if s.db == nil {
			return nil, grpcstatus.Error(codes.Unavailable, "cache is disabled")
		}
		rows, err := s.db.ListMessages(convID, int64(number(in, "before", 0)), number(in, "limit", 50))
		if err != nil {
			return nil, grpcstatus.Errorf(codes.Internal, "list messages: %v", err)
		}
		for i := len(rows) - 1; i >= 0; i-- {
			msgs = append(msgs, fromRow(rows[i]))
		}
	}

	if boolean(in, "grouped") {
		now := time.Now().In(s.loc)
		var days []dayView
		for _, g := range chat.GroupByDay(msgs, s.loc, nil) {
			days = append(days, dayView{Label: chat.DayLabel(g.Day, now), Messages: g.Messages})
		}
		return encode(map[string]any{"conversation_id": convID, "days": days})
	}
	return encode(map[string]any{"conversation_id": convID, "messages": msgs})
}

// SearchMessages searches cached message content.
func (s *ChatService) SearchMessages(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := required(in, "query"); err != nil {
		return nil, err
	}
	if s.db == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "cache is disabled")
	}
	results, err := s.db.SearchMessages(str(in, "query"), str(in, "conversation_id"), number(in, "limit", 50))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "search: %v", err)
	}
	type hit struct {
		Message model.Message `json:"message"`
		Snippet string        `json:"snippet"`
	}
	hits := make([]hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, hit{Message: fromRow(r.Message), Snippet: r.Snippet})
	}
	return encode(hits)
}

// SendMessage sends text and an optional base64 attachment to receiver_id.
func (s *ChatService) SendMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := required(in, "receiver_id"); err != nil {
		return nil, err
	}
	d := model.Draft{
		SenderID:   s.localID,
		ReceiverID: str(in, "receiver_id"),
		Content:    str(in, "content"),
	}
	media, err := attachment(in)
	if err != nil {
		return nil, err
	}
	d.Media = media
	msg, err := s.engine.Send(ctx, d)
	if err != nil {
		// The failed entry stays pending for RetryMessage.
		return nil, toStatus("send message", err)
	}
	return encode(msg)
}

func (s *ChatService) RetryMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := required(in, "temp_id"); err != nil {
		return nil, err
	}
	msg, err := s.engine.Retry(ctx, str(in, "temp_id"))
	if err != nil {
		return nil, toStatus("retry message", err)
	}
	return encode(msg)
}

func (s *ChatService) DiscardMessage(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := required(in, "temp_id"); err != nil {
		return nil, err
	}
	if err := s.engine.Discard(str(in, "temp_id")); err != nil {
		return nil, toStatus("discard message", err)
	}
	return ok(), nil
}

// MarkRead marks the unread incoming messages of the active conversation.
func (s *ChatService) MarkRead(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.engine.MarkRead(ctx); err != nil {
		return nil, toStatus("mark read", err)
	}
	return ok(), nil
}

func (s *ChatService) React(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := required(in, "message_id", "emoji"); err != nil {
		return nil, err
	}
	if err := s.engine.AddReaction(str(in, "message_id"), str(in, "emoji")); err != nil {
		return nil, toStatus("react", err)
	}
	return ok(), nil
}

func (s *ChatService) DeleteMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := required(in, "message_id"); err != nil {
		return nil, err
	}
	if err := s.engine.Delete(ctx, str(in, "message_id")); err != nil {
		return nil, toStatus("delete message", err)
	}
	return ok(), nil
}

func fromRow(r store.Message) model.Message {
	m := model.Message{
		ID:             r.MsgID,
		Sender:         model.User{ID: r.SenderID},
		Receiver:       model.User{ID: r.ReceiverID},
		ConversationID: r.ConversationID,
		Content:        r.Content,
		MediaURL:       r.MediaURL,
		ContentType:    model.ContentKind(r.ContentType),
		Status:         model.DeliveryStatus(r.Status),
		Deleted:        r.Deleted,
	}
	if r.Timestamp > 0 {
		m.CreatedAt = time.UnixMilli(r.Timestamp).UTC().Format(time.RFC3339Nano)
	}
	if r.Reactions != "" && r.Reactions != "[]" {
		_ = json.Unmarshal([]byte(r.Reactions), &m.Reactions)
	}
	return m
}
