package state

// ConnectionState is the single authoritative connection status of a session.
type ConnectionState int32

const (
	Idle ConnectionState = iota
	Connecting
	Waiting
	Active
	Offline
	Error
)

func (s ConnectionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Waiting:
		return "waiting"
	case Active:
		return "active"
	case Offline:
		return "offline"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Sink receives state decisions from components that do not own the state.
type Sink func(ConnectionState)

// Drop is a Sink that ignores every decision.
func Drop(ConnectionState) {}
