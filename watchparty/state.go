package watchparty

// ConnectionState represents the current state of the broker connection.
type ConnectionState int

const (
	// StateDisconnected means no connection exists and none is wanted.
	StateDisconnected ConnectionState = iota

	// StateConnecting means a dial attempt is in flight.
	StateConnecting

	// StateConnected means the connection is established and ready.
	StateConnected

	// StateReconnectScheduled means the connection dropped and a retry
	// timer is armed.
	StateReconnectScheduled
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
	case StateReconnectScheduled:
		return "reconnect_scheduled"
	default:
		return "unknown"
	}
}

// StateEvent describes one connection-state transition.
type StateEvent struct {
	OldState ConnectionState
	NewState ConnectionState
	Error    error // optional cause of the transition
}
