package live

// State represents the lifecycle state of a live session.
type State int

const (
	// StateIdle is the initial and terminal state.
	StateIdle State = iota
	// StateConnecting is while the duplex channel is being opened.
	StateConnecting
	// StateListening is the active call: capture streams out and agent
	// events stream in.
	StateListening
	// StateErrored is terminal for this session; starting again
	// constructs a fresh one.
	StateErrored
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateListening:
		return "LISTENING"
	case StateErrored:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
