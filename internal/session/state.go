package session

import "fmt"

// State is a [Controller] lifecycle state.
//
//	Idle → Connecting → Active → Disconnecting → Disconnected
//
// A failed connect goes from Connecting straight to Disconnected.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateDisconnecting
	StateDisconnected
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
