package protocol

import (
	"fmt"
)

// GripperStatus is the value of the STA register.
type GripperStatus int

// STA values.
const (
	StatusReset GripperStatus = iota
	StatusActivating
	StatusUnused
	StatusActive
)

func (s GripperStatus) String() string {
	switch s {
	case StatusReset:
		return "reset"
	case StatusActivating:
		return "activating"
	case StatusUnused:
		return "unused"
	case StatusActive:
		return "active"
	}
	return fmt.Sprintf("GripperStatus(%d)", int(s))
}

// ObjectStatus is the value of the OBJ register.
type ObjectStatus int

// OBJ values.
const (
	// ObjectMoving means the fingers are moving toward the requested position.
	ObjectMoving ObjectStatus = iota
	// ObjectDetectedOpening means the fingers stopped on contact while opening.
	ObjectDetectedOpening
	// ObjectDetectedClosing means the fingers stopped on contact while closing.
	ObjectDetectedClosing
	// ObjectAtPosition means the fingers reached the requested position and no object was found.
	ObjectAtPosition
)

func (s ObjectStatus) String() string {
	switch s {
	case ObjectMoving:
		return "moving"
	case ObjectDetectedOpening:
		return "object detected while opening"
	case ObjectDetectedClosing:
		return "object detected while closing"
	case ObjectAtPosition:
		return "at requested position, no object"
	}
	return fmt.Sprintf("ObjectStatus(%d)", int(s))
}

// Holding reports whether the fingers stopped on an object.
func (s ObjectStatus) Holding() bool {
	return s == ObjectDetectedOpening || s == ObjectDetectedClosing
}

// FaultCode is the value of the FLT register.
type FaultCode int

// NoFault is the FLT value of a healthy gripper.
const NoFault FaultCode = 0

// Severity classifies fault codes.
type Severity int

// Fault severities.
const (
	SeverityNone Severity = iota
	// SeverityTransient faults clear on their own or once the offending request is corrected.
	SeverityTransient
	// SeverityUnrecoverable faults need a reset (and activation) before motion is accepted again.
	SeverityUnrecoverable
)

func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityTransient:
		return "transient"
	case SeverityUnrecoverable:
		return "unrecoverable"
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// FaultInfo describes one fault code.
type FaultInfo struct {
	Code        FaultCode
	Description string
	Severity    Severity
}

func (f FaultInfo) String() string {
	return fmt.Sprintf("0x%02X %s (%s)", int(f.Code), f.Description, f.Severity)
}

// FaultTable maps fault codes to their meaning. Codes missing from the table are treated as
// unrecoverable.
type FaultTable map[FaultCode]FaultInfo

// DefaultFaultTable is the 2F gripper gFLT table.
var DefaultFaultTable = FaultTable{
	0x00: {0x00, "no fault", SeverityNone},
	0x05: {0x05, "action delayed, activation must complete first", SeverityTransient},
	0x07: {0x07, "activation bit must be set before action", SeverityTransient},
	0x08: {0x08, "maximum operating temperature exceeded", SeverityTransient},
	0x09: {0x09, "no communication for at least 1 second", SeverityTransient},
	0x0A: {0x0A, "under minimum operating voltage", SeverityUnrecoverable},
	0x0B: {0x0B, "automatic release in progress", SeverityUnrecoverable},
	0x0C: {0x0C, "internal fault", SeverityUnrecoverable},
	0x0D: {0x0D, "activation fault, verify that no interference or other error occurred", SeverityUnrecoverable},
	0x0E: {0x0E, "overcurrent triggered", SeverityUnrecoverable},
	0x0F: {0x0F, "automatic release completed", SeverityUnrecoverable},
}

// Lookup returns the description of code.
func (t FaultTable) Lookup(code FaultCode) FaultInfo {
	if info, ok := t[code]; ok {
		return info
	}
	if code == NoFault {
		return FaultInfo{Code: code, Description: "no fault", Severity: SeverityNone}
	}
	return FaultInfo{Code: code, Description: "unknown fault", Severity: SeverityUnrecoverable}
}
