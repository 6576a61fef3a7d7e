package client

// State is the connection lifecycle state. Transitions follow the attempt
// cycle: Disconnected to Connecting when a dial starts, Connecting to
// Connected on handshake, and back to Disconnected from either when the
// attempt fails or the session drops.
type State int

const (
	// Disconnected means no live session exists and no attempt is in
	// flight. The supervisor will start one shortly.
	Disconnected State = iota

	// Connecting means a connection attempt has been accepted and its
	// outcome is pending.
	Connecting

	// Connected means the session completed its handshake and carries
	// traffic.
	Connected
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}
