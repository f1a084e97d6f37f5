package session

import (
	"context"
	"fmt"
)

// FSM manages session state transitions using the ProcessEvent pattern.
// It holds no I/O dependencies; the driver dispatches the outbox events
// it returns.
type FSM struct {
	state State
	env   *Environment
}

// NewFSM creates a session FSM starting in the Created state.
func NewFSM(sessionID string, maxIterations uint32) *FSM {
	return &FSM{
		state: &StateCreated{},
		env: &Environment{
			SessionID:     sessionID,
			MaxIterations: maxIterations,
		},
	}
}

// NewFSMFromPhase creates a session FSM from a persisted phase string.
// Used when inspecting recovered sessions.
func NewFSMFromPhase(sessionID string, maxIterations uint32,
	phase string) (*FSM, error) {

	state, err := StateFromString(phase)
	if err != nil {
		return nil, err
	}

	return &FSM{
		state: state,
		env: &Environment{
			SessionID:     sessionID,
			MaxIterations: maxIterations,
		},
	}, nil
}

// ProcessEvent processes an event and returns the outbox events that
// should be dispatched.
func (f *FSM) ProcessEvent(ctx context.Context,
	event Event) ([]OutboxEvent, error) {

	transition, err := f.state.ProcessEvent(ctx, event, f.env)
	if err != nil {
		return nil, fmt.Errorf("process event %T: %w", event, err)
	}

	f.state = transition.NextState

	return transition.OutboxEvents, nil
}

// CurrentState returns the current phase name.
func (f *FSM) CurrentState() string {
	return f.state.String()
}

// State returns the current State.
func (f *FSM) State() State {
	return f.state
}

// IsTerminal returns true once the session reached a terminal state.
func (f *FSM) IsTerminal() bool {
	return f.state.IsTerminal()
}

// Environment returns the FSM's environment.
func (f *FSM) Environment() *Environment {
	return f.env
}
