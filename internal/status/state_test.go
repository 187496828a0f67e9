package status

import (
	"encoding/json"
	"testing"

	"github.com/matheus3301/minichat/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Idle {
		t.Errorf("initial state = %s, want idle", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Idle, Loading},
		{Loading, Success},
		{Loading, Error},
		{Loading, Cancelled},
		{Loading, Timeout},
		{Success, Idle},
		{Error, Idle},
		{Cancelled, Idle},
		{Timeout, Idle},
		{Error, Loading},
		{Success, Loading},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Idle, Success},
		{Idle, Idle},
		{Loading, Idle},
		{Loading, Loading},
		{Success, Error},
		{Timeout, Cancelled},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", tt.from, tt.to)
			}
			if m.Current() != tt.from {
				t.Errorf("state = %s, want %s (unchanged)", m.Current(), tt.from)
			}
		})
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("request.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Loading); err != nil {
		t.Fatal(err)
	}
	if err := m.TransitionWithMessage(Timeout, "too slow"); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindRequestStatusChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindRequestStatusChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Idle || change.To != Loading {
		t.Errorf("change = %v -> %v, want idle -> loading", change.From, change.To)
	}

	change = (<-ch).Payload.(StatusChange)
	if change.To != Timeout || change.Message != "too slow" {
		t.Errorf("change = %+v, want timeout with message", change)
	}
	if m.Message() != "too slow" {
		t.Errorf("Message() = %q, want %q", m.Message(), "too slow")
	}
}

// TestMessageClearedOnRevert verifies the transient error text does not
// survive the auto-revert back to idle.
func TestMessageClearedOnRevert(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Loading)
	if err := m.TransitionWithMessage(Error, "boom"); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(Idle); err != nil {
		t.Fatal(err)
	}
	if m.Message() != "" {
		t.Errorf("Message() = %q, want empty after revert", m.Message())
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []State{Success, Error, Cancelled, Timeout} {
		if !s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = false, want true", s)
		}
	}
	for _, s := range []State{Idle, Loading} {
		if s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = true, want false", s)
		}
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Idle:      {},
		Loading:   {Loading},
		Success:   {Loading, Success},
		Error:     {Loading, Error},
		Cancelled: {Loading, Cancelled},
		Timeout:   {Loading, Timeout},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}

func TestStatusChangeWireFormat(t *testing.T) {
	data, err := json.Marshal(StatusChange{From: Idle, To: Loading})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), `{"from":"idle","to":"loading"}`; got != want {
		t.Errorf("json = %s, want %s", got, want)
	}

	data, err = json.Marshal(StatusChange{From: Loading, To: Error, Message: "down"})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), `{"from":"loading","to":"error","message":"down"}`; got != want {
		t.Errorf("json = %s, want %s", got, want)
	}
}
