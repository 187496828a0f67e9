package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/minichat/internal/bus"
)

// State is the status of the one live completion request.
type State string

const (
	Idle      State = "idle"
	Loading   State = "loading"
	Success   State = "success"
	Error     State = "error"
	Cancelled State = "cancelled"
	Timeout   State = "timeout"
)

// validTransitions defines allowed state transitions. A terminal state may go
// straight back to Loading when a new send replaces the pending auto-revert.
var validTransitions = map[State][]State{
	Idle:      {Loading},
	Loading:   {Success, Error, Cancelled, Timeout},
	Success:   {Idle, Loading},
	Error:     {Idle, Loading},
	Cancelled: {Idle, Loading},
	Timeout:   {Idle, Loading},
}

// IsTerminal reports whether s is one of the outcome states of a request.
func (s State) IsTerminal() bool {
	switch s {
	case Success, Error, Cancelled, Timeout:
		return true
	}
	return false
}

// Machine tracks and enforces request status transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	message string
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Idle.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Message returns the user-facing message attached to the current state, if any.
func (m *Machine) Message() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.message
}

// Transition moves to a new state and clears the attached message.
func (m *Machine) Transition(to State) error {
	return m.TransitionWithMessage(to, "")
}

// TransitionWithMessage moves to a new state carrying a user-facing message.
// Returns an error, leaving the state unchanged, if the move is not allowed.
func (m *Machine) TransitionWithMessage(to State, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.message = msg
	m.bus.Publish(bus.NewEvent(bus.KindRequestStatusChanged, StatusChange{
		From:    from,
		To:      to,
		Message: msg,
	}))
	return nil
}

// StatusChange is the payload for request status change events.
type StatusChange struct {
	From    State  `json:"from"`
	To      State  `json:"to"`
	Message string `json:"message,omitempty"`
}
