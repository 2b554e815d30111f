package gripper

import (
	"fmt"

	"github.com/robotiqur/robotiqur/protocol"
)

// State is the controller's view of the gripper lifecycle.
type State int

// Controller states.
const (
	StateDisconnected State = iota
	// StateConnected means the bridge is reachable but the gripper's activation is unknown.
	StateConnected
	StateResetting
	StateActivating
	StateActive
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateResetting:
		return "resetting"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateFaulted:
		return "faulted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Snapshot is the gripper state reconstructed from one pass over the status registers.
type Snapshot struct {
	Status            protocol.GripperStatus
	Object            protocol.ObjectStatus
	Fault             protocol.FaultInfo
	Position          int
	RequestedPosition int
	Speed             int
	Force             int
}

// Activating reports whether activation is in progress.
func (s Snapshot) Activating() bool {
	return s.Status == protocol.StatusActivating
}

// Active reports whether activation has completed.
func (s Snapshot) Active() bool {
	return s.Status == protocol.StatusActive
}
