package transport

// Subscription is one registered handler. Close removes it; closing a
// subscription that has since been replaced leaves the replacement intact.
type Subscription struct {
	ch      *Channel
	scope   string
	event   string
	handler Handler
}

// Subscribe registers handler for event under scope. A scope holds at most one
// handler per event: subscribing again replaces the previous registration.
func (c *Channel) Subscribe(scope, event string, handler Handler) *Subscription {
	s := &Subscription{ch: c, scope: scope, event: event, handler: handler}
	c.hmu.Lock()
	defer c.hmu.Unlock()
	byScope, ok := c.handlers[event]
	if !ok {
		byScope = make(map[string]*Subscription)
		c.handlers[event] = byScope
	}
	byScope[scope] = s
	return s
}

// Release drops every handler registered under scope.
func (c *Channel) Release(scope string) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	for event, byScope := range c.handlers {
		delete(byScope, scope)
		if len(byScope) == 0 {
			delete(c.handlers, event)
		}
	}
}

// Handlers reports how many handlers are registered for event.
func (c *Channel) Handlers(event string) int {
	c.hmu.RLock()
	defer c.hmu.RUnlock()
	return len(c.handlers[event])
}

// Close removes the registration if it is still the active one.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	c := s.ch
	c.hmu.Lock()
	defer c.hmu.Unlock()
	byScope := c.handlers[s.event]
	if byScope[s.scope] == s {
		delete(byScope, s.scope)
		if len(byScope) == 0 {
			delete(c.handlers, s.event)
		}
	}
}
