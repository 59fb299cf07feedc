// ============================================================================
// Pulse - Local Voice Assistant Daemon
// ============================================================================
//
// Package:     assistant
// Description: Assistant state machine
// License:     MIT
// ============================================================================

package assistant

import (
	"sync"
	"time"
)

// State is the assistant's top-level activity
type State int

const (
	// StateIdle - waiting for a wake word
	StateIdle State = iota

	// StateListening - a wake word fired, capturing the user's request
	StateListening

	// StateProcessing - request handed to a pipeline
	StateProcessing

	// StateResponding - playing the pipeline's response
	StateResponding

	// StateError - recoverable failure, returns to idle
	StateError
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateResponding:
		return "responding"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// StateChangeListener is called after every transition
type StateChangeListener func(oldState, newState State)

// StateMachine tracks the assistant state and validates transitions
type StateMachine struct {
	mu            sync.RWMutex
	currentState  State
	previousState State
	stateTime     time.Time
	listeners     []StateChangeListener
}

// NewStateMachine creates a state machine in the idle state
func NewStateMachine() *StateMachine {
	return &StateMachine{
		currentState: StateIdle,
		stateTime:    time.Now(),
	}
}

// Current returns the current state
func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.currentState
}

// Previous returns the state before the last transition
func (sm *StateMachine) Previous() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.previousState
}

// StateDuration returns how long the current state has been held
func (sm *StateMachine) StateDuration() time.Duration {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return time.Since(sm.stateTime)
}

// Transition moves to a new state if the transition is valid
func (sm *StateMachine) Transition(newState State) bool {
	sm.mu.Lock()
	oldState := sm.currentState

	if !isValidTransition(oldState, newState) {
		sm.mu.Unlock()
		return false
	}

	sm.previousState = oldState
	sm.currentState = newState
	sm.stateTime = time.Now()
	listeners := sm.listeners
	sm.mu.Unlock()

	for _, listener := range listeners {
		listener(oldState, newState)
	}
	return true
}

// AddListener registers a transition listener
func (sm *StateMachine) AddListener(listener StateChangeListener) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, listener)
}

func isValidTransition(from, to State) bool {
	validTransitions := map[State][]State{
		StateIdle:       {StateListening, StateError},
		StateListening:  {StateProcessing, StateIdle, StateError},
		StateProcessing: {StateResponding, StateIdle, StateError},
		StateResponding: {StateIdle, StateListening, StateError},
		StateError:      {StateIdle},
	}

	for _, valid := range validTransitions[from] {
		if valid == to {
			return true
		}
	}
	return false
}

// Reset forces the machine back to idle
func (sm *StateMachine) Reset() {
	sm.mu.Lock()
	oldState := sm.currentState
	sm.previousState = oldState
	sm.currentState = StateIdle
	sm.stateTime = time.Now()
	listeners := sm.listeners
	sm.mu.Unlock()

	for _, listener := range listeners {
		listener(oldState, StateIdle)
	}
}

// IsActive reports whether the assistant is mid-interaction
func (sm *StateMachine) IsActive() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.currentState != StateIdle && sm.currentState != StateError
}
