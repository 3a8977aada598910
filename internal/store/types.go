package store

// Conversation is a cached conversation row. Participants is the JSON
// encoding of the participant list as received from the remote store.
type Conversation struct {
	ID                 string
	Participants       string
	UnreadCount        int
	LastMessageID      string
	LastMessagePreview string
	LastMessageAt      int64
}

// Message is a cached message row. Timestamps are unix milliseconds.
type Message struct {
	ID             int64
	ConversationID string
	MsgID          string
	SenderID       string
	ReceiverID     string
	Content        string
	ContentType    string
	MediaURL       string
	Status         string
	Reactions      string
	Deleted        bool
	Timestamp      int64
}

// OutboxEntry is an optimistic send that has not been confirmed yet.
type OutboxEntry struct {
	TempID         string
	ConversationID string
	ReceiverID     string
	Content        string
	Status         string // pending, failed
	ErrorMessage   string
	CreatedAt      int64
}

// Presence is the last known online state of a user.
type Presence struct {
	UserID   string
	Online   bool
	LastSeen int64
}

// Call is one finished call.
type Call struct {
	CallID      string
	PeerID      string
	Role        string
	Kind        string
	FinalState  string
	Reason      string
	StartedAt   int64
	ConnectedAt int64
	EndedAt     int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
