package model

// ConnectionState is the lifecycle state of one chat session.
type ConnectionState int

const (
	// StateDisconnected means no transport is open and nothing is scheduled.
	StateDisconnected ConnectionState = iota

	// StateConnecting means the first connection attempt is in flight.
	StateConnecting

	// StateConnected means the transport is open and the history snapshot was delivered.
	StateConnected

	// StateReconnecting means a connected transport dropped and the backoff schedule is running.
	StateReconnecting

	// StateClosed means the session was stopped explicitly. It is terminal.
	StateClosed
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateEvent describes a single state transition.
type StateEvent struct {
	Old ConnectionState
	New ConnectionState
	Err error // cause of the transition, if any
}

// MarshalText encodes the state by name.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
