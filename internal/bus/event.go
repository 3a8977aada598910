package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the engine. Subscribers usually filter on the
// namespace part ("call.", "message.", ...).
const (
	TransportStatusChanged = "transport.status_changed"
	TransportDisconnected  = "transport.disconnected"

	PresenceChanged = "presence.changed"
	PresenceError   = "presence.error"

	ConversationsReplaced = "conversation.replaced"
	ConversationUpdated   = "conversation.updated"

	MessagesReplaced  = "message.replaced"
	MessageUpserted   = "message.upserted"
	MessageConfirmed  = "message.confirmed"
	MessageSendFailed = "message.send_failed"
	MessageDeleted    = "message.deleted"
	MessageRead       = "message.read"
	MessageError      = "message.error"

	CallStateChanged = "call.state_changed"
	CallMediaChanged = "call.media_changed"
	CallFinished     = "call.finished"
	CallError        = "call.error"

	StoriesChanged = "story.changed"
)
