package session

import (
	"errors"
	"fmt"
)

// State is the lifecycle position of a Controller.
type State int

// Session states.
const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateRelocating
	StateClosed
	StateFailed
)

var stateNames = [...]string{"idle", "loading", "ready", "relocating", "closed", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("session: unknown state %q", b)
}

// Active reports whether navigation and settings changes are accepted.
func (s State) Active() bool { return s == StateReady || s == StateRelocating }

var (
	// ErrInvalidTransition is returned when an operation is not valid in the
	// current state, such as loading a session twice.
	ErrInvalidTransition = errors.New("session: invalid state transition")
	// ErrNotReady is returned for navigation before the session is ready.
	ErrNotReady = errors.New("session: not ready")
	// ErrClosed is returned for operations on a closed or failed session.
	ErrClosed = errors.New("session: closed")
	// ErrNotFound is returned by Manager for an unknown session id.
	ErrNotFound = errors.New("session: not found")
)
