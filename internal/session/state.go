package session

// State is the call session's position in its lifecycle.
type State int

const (
	// StateConnecting is the initial state before the media stream's
	// start event has been processed.
	StateConnecting State = iota

	// StateSpeakingOpening covers delivery of the deterministic opening
	// line.
	StateSpeakingOpening

	// StateListening waits for the callee's next utterance.
	StateListening

	// StateSpeakingResponse covers one response-generation and synthesis
	// cycle.
	StateSpeakingResponse

	// StateEnded is terminal, reachable from every other state.
	StateEnded
)

// String returns the state name for logs and monitoring.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSpeakingOpening:
		return "speaking_opening"
	case StateListening:
		return "listening"
	case StateSpeakingResponse:
		return "speaking_response"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}
