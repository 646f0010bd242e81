package transport

import "fmt"

// State is the connection lifecycle state.
//
//	DISCONNECTED → CONNECTING → OPEN → CLOSED
//	                   ↑          │
//	                   └──────────┘  (reconnect enabled)
//
// CLOSED is terminal.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
)

// AllStates lists every state, for metrics.
var AllStates = []State{StateDisconnected, StateConnecting, StateOpen, StateClosed}

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

func stateNames() []string {
	names := make([]string, len(AllStates))
	for i, s := range AllStates {
		names[i] = s.String()
	}
	return names
}
