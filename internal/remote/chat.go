package remote

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/matheus3301/wpprtc/internal/model"
)

// Conversations lists the local user's conversations.
func (c *Client) Conversations(ctx context.Context) ([]model.Conversation, error) {
	var out []model.Conversation
	if err := c.getJSON(ctx, &out, "chat", "conversations"); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

// Messages lists the messages of a conversation.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var out []model.Message
	if err := c.getJSON(ctx, &out, "chat", "conversations", conversationID, "messages"); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

// SendMessage stores a message and returns the confirmed record.
func (c *Client) SendMessage(ctx context.Context, d model.Draft) (model.Message, error) {
	body, contentType, err := encodeForm(map[string]string{
		"senderId":   d.SenderID,
		"receiverId": d.ReceiverID,
		"content":    d.Content,
	}, d.Media)
	if err != nil {
		return model.Message{}, fmt.Errorf("send message: %w", err)
	}
	var out model.Message
	if err := c.do(ctx, http.MethodPost, c.endpoint("chat", "send-message"), body, contentType, &out); err != nil {
		return model.Message{}, fmt.Errorf("send message: %w", err)
	}
	return out, nil
}

// MarkRead marks messages as seen.
func (c *Client) MarkRead(ctx context.Context, ids []string) error {
	payload := struct {
		MessageIDs []string `json:"messageIds"`
	}{ids}
	if err := c.sendJSON(ctx, http.MethodPut, payload, nil, "chat", "messages", "read"); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// DeleteMessage deletes a message.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, c.endpoint("chat", "messages", id), nil, "", nil); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// UserStatus returns the presence of a user.
func (c *Client) UserStatus(ctx context.Context, userID string) (model.Presence, error) {
	var out model.Presence
	if err := c.getJSON(ctx, &out, "users", userID, "status"); err != nil {
		return model.Presence{}, fmt.Errorf("user status: %w", err)
	}
	if out.UserID == "" {
		out.UserID = userID
	}
	return out, nil
}

// encodeForm builds a multipart body from fields and an optional media part.
// Empty fields are omitted.
func encodeForm(fields map[string]string, media *model.Media) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := w.WriteField(name, value); err != nil {
			return nil, "", err
		}
	}
	if media != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="media"; filename=%q`, media.FileName))
		ct := media.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(media.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
