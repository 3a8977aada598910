package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/wpprtc/internal/bus"
)

// State represents the state of the link to the coordination service.
type State string

const (
	Idle         State = "IDLE"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
	Disconnected State = "DISCONNECTED"
)

// validTransitions defines allowed state transitions.
// DISCONNECTED is reached only after the reconnect budget is exhausted and is
// left only by an explicit connect or teardown.
var validTransitions = map[State][]State{
	Idle:         {Connecting},
	Connecting:   {Connected, Reconnecting, Disconnected, Idle},
	Connected:    {Reconnecting, Idle},
	Reconnecting: {Connected, Disconnected, Idle},
	Disconnected: {Connecting, Idle},
}

// Machine holds the link state and rejects transitions the table does not
// allow. Every accepted transition is published as transport.status_changed.
type Machine struct {
	mu       sync.RWMutex
	current  State
	since    time.Time
	restored int
	bus      *bus.Bus
}

func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Idle, since: time.Now(), bus: b}
}

func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Restored counts RECONNECTING -> CONNECTED transitions, i.e. drops the
// link recovered from on its own.
func (m *Machine) Restored() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restored
}

// Transition moves to state to, or fails with an error naming both states.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	from := m.current
	if !slices.Contains(validTransitions[from], to) {
		m.mu.Unlock()
		return fmt.Errorf("invalid link transition %s -> %s", from, to)
	}
	now := time.Now()
	m.current, m.since = to, now
	if from == Reconnecting && to == Connected {
		m.restored++
	}
	m.mu.Unlock()

	m.bus.Publish(bus.Event{
		Kind:      bus.TransportStatusChanged,
		Timestamp: now,
		Payload:   StatusChange{From: from, To: to},
	})
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
