package lifecycle

import (
	"errors"
	"fmt"
)

// State is the controller's position in its lifecycle.
type State int32

const (
	StateIdle State = iota
	StateLaunching
	StateActive
	StateTearingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLaunching:
		return "launching"
	case StateActive:
		return "active"
	case StateTearingDown:
		return "tearing_down"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// ErrInvalidState is returned by operations attempted in the wrong
	// lifecycle state.
	ErrInvalidState = errors.New("invalid lifecycle state")
	// ErrUnknownInstance is returned for instance names the controller did
	// not launch.
	ErrUnknownInstance = errors.New("unknown instance")
)

// StateError reports the operation and the state that refused it.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %v (%s)", e.Op, ErrInvalidState, e.State)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}
