package transport

import "encoding/json"

// Emitter sends named events.
type Emitter interface {
	Emit(event string, payload any) error
}

// Subscriber registers scoped handlers for named events.
type Subscriber interface {
	Subscribe(scope, event string, handler Handler) *Subscription
	Release(scope string)
}

// Dispatch delivers an event to subscribers as if it had arrived on the
// socket. The daemon uses it to loop locally originated events back.
func (c *Channel) Dispatch(event string, data json.RawMessage) {
	c.dispatch(event, data)
}
