package session

// State is a call session's position in the turn cycle.
type State string

const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateTranscribing State = "transcribing"
	StateThinking     State = "thinking"
	StateSpeaking     State = "speaking"
	StateError        State = "error"
	StateTerminated   State = "terminated"
)

var transitions = map[State][]State{
	StateIdle:         {StateListening, StateTranscribing, StateTerminated},
	StateListening:    {StateListening, StateTranscribing, StateTerminated},
	StateTranscribing: {StateThinking, StateIdle, StateError, StateTerminated},
	StateThinking:     {StateSpeaking, StateError, StateTerminated},
	StateSpeaking:     {StateIdle, StateTerminated},
	StateError:        {StateIdle, StateTerminated},
}

// CanTransition reports whether from -> to is a legal edge. Terminated has
// no outgoing edges.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// InFlight reports whether a turn is being processed.
func (s State) InFlight() bool {
	switch s {
	case StateTranscribing, StateThinking, StateSpeaking, StateError:
		return true
	default:
		return false
	}
}
