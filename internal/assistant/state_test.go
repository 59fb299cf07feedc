package assistant

import (
	"testing"
)

func TestStateMachine_ValidTransitions(t *testing.T) {
	sm := NewStateMachine()

	steps := []State{StateListening, StateProcessing, StateResponding, StateIdle}
	for _, next := range steps {
		if !sm.Transition(next) {
			t.Fatalf("transition %v -> %v should be valid", sm.Current(), next)
		}
	}
	if sm.Current() != StateIdle {
		t.Errorf("Current() = %v, want idle", sm.Current())
	}
	if sm.Previous() != StateResponding {
		t.Errorf("Previous() = %v, want responding", sm.Previous())
	}
}

func TestStateMachine_InvalidTransitionRejected(t *testing.T) {
	sm := NewStateMachine()

	if sm.Transition(StateResponding) {
		t.Error("idle -> responding must be rejected")
	}
	if sm.Current() != StateIdle {
		t.Errorf("rejected transition must not change state, got %v", sm.Current())
	}
}

func TestStateMachine_Listeners(t *testing.T) {
	sm := NewStateMachine()

	var calls []State
	sm.AddListener(func(oldState, newState State) {
		calls = append(calls, newState)
	})

	sm.Transition(StateListening)
	sm.Transition(StateIdle)

	if len(calls) != 2 || calls[0] != StateListening || calls[1] != StateIdle {
		t.Errorf("listener calls = %v", calls)
	}
}

func TestStateMachine_Reset(t *testing.T) {
	sm := NewStateMachine()
	sm.Transition(StateListening)
	sm.Transition(StateProcessing)
	sm.Transition(StateError)

	sm.Reset()
	if sm.Current() != StateIdle {
		t.Errorf("Reset() left state %v", sm.Current())
	}
}

func TestStateMachine_IsActive(t *testing.T) {
	sm := NewStateMachine()
	if sm.IsActive() {
		t.Error("idle must not be active")
	}
	sm.Transition(StateListening)
	if !sm.IsActive() {
		t.Error("listening must be active")
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:       "idle",
		StateListening:  "listening",
		StateProcessing: "processing",
		StateResponding: "responding",
		StateError:      "error",
		State(99):       "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("String(%d) = %q, want %q", int(state), got, want)
		}
	}
}
