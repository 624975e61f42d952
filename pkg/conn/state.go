package conn

import "fmt"

// Phase is the coarse connection lifecycle position.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnected
	PhaseReconnecting
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnected:
		return "connected"
	case PhaseReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is the observable connection state. Attempt is meaningful only while
// reconnecting and counts from 1.
type State struct {
	Phase   Phase
	Attempt int
}

// Disconnected is the zero state.
var Disconnected = State{Phase: PhaseDisconnected}

// Connected is the healthy state.
var Connected = State{Phase: PhaseConnected}

// Reconnecting returns the state for the given retry attempt.
func Reconnecting(attempt int) State {
	return State{Phase: PhaseReconnecting, Attempt: attempt}
}

func (s State) String() string {
	if s.Phase == PhaseReconnecting {
		return fmt.Sprintf("reconnecting(attempt=%d)", s.Attempt)
	}
	return s.Phase.String()
}
