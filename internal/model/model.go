// Package model holds the records exchanged with the coordination service and
// the remote store. Field names follow the wire contract.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// User identifies a participant. On the wire it is either a bare id string or
// an object with an _id field; both decode into User.
type User struct {
	ID             string `json:"_id"`
	Username       string `json:"username,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// UnmarshalJSON accepts "id" as well as {"_id": "id", ...}.
func (u *User) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &u.ID)
	}
	type plain User
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*u = User(p)
	return nil
}

// DeliveryStatus is the acknowledgement state of a message.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusSeen      DeliveryStatus = "seen"
	StatusFailed    DeliveryStatus = "failed"
)

// UnmarshalJSON maps the legacy "read" value onto StatusSeen.
func (s *DeliveryStatus) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == "read" {
		v = string(StatusSeen)
	}
	*s = DeliveryStatus(v)
	return nil
}

// ContentKind is the kind of payload a message carries.
type ContentKind string

const (
	KindText  ContentKind = "text"
	KindImage ContentKind = "image"
	KindVideo ContentKind = "video"
)

// Reaction is one user's emoji on a message.
type Reaction struct {
	User  User   `json:"user"`
	Emoji string `json:"emoji"`
}

// Message is a chat message. ID is empty until the remote store confirms it;
// until then the entry is addressed by TempID.
type Message struct {
	ID             string         `json:"_id,omitempty"`
	TempID         string         `json:"tempId,omitempty"`
	Sender         User           `json:"sender"`
	Receiver       User           `json:"receiver"`
	ConversationID string         `json:"conversation,omitempty"`
	Content        string         `json:"content,omitempty"`
	MediaURL       string         `json:"imageOrVideoUrl,omitempty"`
	ContentType    ContentKind    `json:"contentType"`
	Status         DeliveryStatus `json:"messageStatus"`
	CreatedAt      string         `json:"createdAt"`
	Reactions      []Reaction     `json:"reactions,omitempty"`
	Deleted        bool           `json:"isDeleted,omitempty"`
}

// Key returns the durable id, or the temporary id for an unconfirmed message.
func (m Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.TempID
}

// Pending reports whether the message has not been confirmed yet.
func (m Message) Pending() bool {
	return m.ID == ""
}

// Time parses CreatedAt.
func (m Message) Time() (time.Time, error) {
	if m.CreatedAt == "" {
		return time.Time{}, fmt.Errorf("message %s: empty timestamp", m.Key())
	}
	t, err := time.Parse(time.RFC3339Nano, m.CreatedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("message %s: %w", m.Key(), err)
	}
	return t, nil
}

// Conversation is the durable grouping of messages between two participants.
type Conversation struct {
	ID           string   `json:"_id"`
	Participants []User   `json:"participants"`
	LastMessage  *Message `json:"lastMessage,omitempty"`
	UnreadCount  int      `json:"unreadCount"`
}

// Has reports whether userID participates in the conversation.
func (c Conversation) Has(userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// Others returns the participants other than localID.
func (c Conversation) Others(localID string) []User {
	var out []User
	for _, p := range c.Participants {
		if p.ID != localID && p.ID != "" {
			out = append(out, p)
		}
	}
	return out
}

// Presence is a user's online state as pushed by user_status or returned by
// the presence query.
type Presence struct {
	UserID   string    `json:"userId"`
	Online   bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

// Typing is the payload of user_typing.
type Typing struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// Story is a status update.
type Story struct {
	ID          string      `json:"_id"`
	User        User        `json:"user"`
	Content     string      `json:"content"`
	ContentType ContentKind `json:"contentType"`
	CreatedAt   string      `json:"createdAt"`
	Viewers     []User      `json:"viewers,omitempty"`
}

// Media is an attachment to an outgoing message or status update.
type Media struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Draft is an outgoing message before the remote store has seen it.
type Draft struct {
	SenderID   string
	ReceiverID string
	Content    string
	Media      *Media
}

// Kind derives the content kind: image/* is an image, any other attachment
// is a video, no attachment is text.
func (d Draft) Kind() ContentKind {
	if d.Media == nil {
		return KindText
	}
	if strings.HasPrefix(d.Media.ContentType, "image/") {
		return KindImage
	}
	return KindVideo
}
