package protocol

import (
	"fmt"
	"strings"
)

// ValidationError is a caller-supplied value that cannot be sent. It is raised before anything
// reaches the wire.
type ValidationError struct {
	Register Register
	Values   []int
	Reason   string
}

func (e *ValidationError) Error() string {
	if len(e.Values) == 0 {
		return fmt.Sprintf("invalid %s: %s", e.Register, e.Reason)
	}
	return fmt.Sprintf("invalid %s %v: %s", e.Register, e.Values, e.Reason)
}

// ProtocolError is an explicit error token returned by the device in reply to a SET.
type ProtocolError struct {
	Command string
	Reply   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%q rejected by gripper: %q", e.Command, e.Reply)
}

// Desync reports whether the reply was a register echo, meaning it answered an earlier GET and
// request and reply streams are out of step.
func (e *ProtocolError) Desync() bool {
	fields := strings.Fields(e.Reply)
	if len(fields) == 0 {
		return false
	}
	_, known := RegisterFromWire(fields[0])
	return known
}

// MalformedReplyError is a reply that does not have the shape expected for the register read.
type MalformedReplyError struct {
	Register Register
	Reply    string
	Reason   string
	// NameMismatch is set when the reply echoed a different register name. This means request
	// and reply streams are out of step.
	NameMismatch bool
}

func (e *MalformedReplyError) Error() string {
	return fmt.Sprintf("malformed reply to GET %s: %q: %s", e.Register, e.Reply, e.Reason)
}

// Desync reports whether the reply belonged to a different request.
func (e *MalformedReplyError) Desync() bool {
	return e.NameMismatch
}
