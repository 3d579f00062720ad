package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/roomsync/internal/bus"
)

// State represents the sync lifecycle state of a session.
type State string

const (
	Booting   State = "BOOTING"
	Hydrated  State = "HYDRATED"
	Syncing   State = "SYNCING"
	Ready     State = "READY"
	Degraded  State = "DEGRADED"
	LoggedOut State = "LOGGED_OUT"
	Error     State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:   {Hydrated, Error},
	Hydrated:  {Syncing, Ready, LoggedOut, Error},
	Syncing:   {Ready, Degraded, LoggedOut, Error},
	Ready:     {Syncing, Degraded, LoggedOut, Error},
	Degraded:  {Syncing, Ready, LoggedOut, Error},
	LoggedOut: {Booting},
	Error:     {Booting},
}

// Machine tracks and enforces sync state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	since   time.Time
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		since:   time.Now(),
		bus:     b,
	}
}

// Current returns the current state.
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

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.since = time.Now()
	m.mu.Unlock()

	m.bus.Emit(bus.KindStatusChanged, StatusChange{From: from, To: to})
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
