package transport

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/adaspace/chatcore/internal/bus"
)

// State is a broker connectivity state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
)

// validTransitions defines the connectivity cycle. Auto-reconnect cycles
// Connected -> Disconnected -> Connecting -> Connected.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected},
	Connected:    {Disconnected},
}

// EventStateChanged is published on every accepted transition with a
// StateChange payload.
const EventStateChanged = "transport.state_changed"

// StateChange is the payload for connectivity change events.
type StateChange struct {
	From State
	To   State
}

// Machine tracks the session's connectivity and announces every accepted
// transition on the bus, in order.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Disconnected, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not in the cycle; the event is published before the lock is
// released so observers see transitions in commit order.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      EventStateChanged,
			Timestamp: time.Now(),
			Payload:   StateChange{From: from, To: to},
		})
	}
	return nil
}
