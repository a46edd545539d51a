package realtime

// State is the session lifecycle state.
type State int

const (
	// StateIdle means no connection exists.
	StateIdle State = iota
	// StateConnecting means credentials, media and negotiation are in progress.
	StateConnecting
	// StateActive means the data channel is open.
	StateActive
	// StateClosing means Stop is tearing the connection down.
	StateClosing
	// StateFailed means negotiation failed. Start may be called again.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
