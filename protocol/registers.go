// Package protocol implements the Robotiq URCap ASCII GET/SET protocol: the register table,
// command encoding and reply decoding.
package protocol

import (
	"fmt"
)

// Register is one of the gripper variables exposed by the URCap bridge.
type Register uint8

// The registers known to the URCap bridge. The zero value is not a register.
const (
	registerInvalid Register = iota
	// Activate is the activation request (ACT). 1 starts activation, 0 resets.
	Activate
	// GoTo is the go-to request (GTO). 1 starts motion toward the requested position, 0 stops.
	GoTo
	// AutoRelease triggers the automatic release routine (ATR).
	AutoRelease
	// AutoReleaseDirection selects the automatic release direction (ADR).
	AutoReleaseDirection
	// Position is the position request when written and the actual position when read (POS).
	Position
	// Speed is the speed request (SPE).
	Speed
	// Force is the force request (FOR).
	Force
	// PositionRequest echoes the last position request (PRE).
	PositionRequest
	// Status is the gripper status (STA).
	Status
	// ObjectDetection is the object detection status (OBJ).
	ObjectDetection
	// Fault is the fault status (FLT).
	Fault
	numRegisters
)

// Direction is the access mode of a register.
type Direction uint8

// Register access modes.
const (
	Readable Direction = 1 << iota
	Writable
	ReadWrite = Readable | Writable
)

// Info describes a register's wire encoding and value domain.
type Info struct {
	Wire      string
	Direction Direction
	Min, Max  int
	// Arity is the number of values carried by a SET or a GET reply.
	Arity int
}

var registerTable = [numRegisters]Info{
	Activate:             {Wire: "ACT", Direction: ReadWrite, Min: 0, Max: 1, Arity: 1},
	GoTo:                 {Wire: "GTO", Direction: ReadWrite, Min: 0, Max: 1, Arity: 1},
	AutoRelease:          {Wire: "ATR", Direction: ReadWrite, Min: 0, Max: 1, Arity: 1},
	AutoReleaseDirection: {Wire: "ADR", Direction: ReadWrite, Min: 0, Max: 1, Arity: 1},
	Position:             {Wire: "POS", Direction: ReadWrite, Min: 0, Max: 255, Arity: 1},
	Speed:                {Wire: "SPE", Direction: ReadWrite, Min: 0, Max: 255, Arity: 1},
	Force:                {Wire: "FOR", Direction: ReadWrite, Min: 0, Max: 255, Arity: 1},
	PositionRequest:      {Wire: "PRE", Direction: Readable, Min: 0, Max: 255, Arity: 1},
	Status:               {Wire: "STA", Direction: Readable, Min: 0, Max: 3, Arity: 1},
	ObjectDetection:      {Wire: "OBJ", Direction: Readable, Min: 0, Max: 3, Arity: 1},
	Fault:                {Wire: "FLT", Direction: Readable, Min: 0, Max: 255, Arity: 1},
}

// Registers returns every known register in table order.
func Registers() []Register {
	regs := make([]Register, 0, numRegisters-1)
	for r := Activate; r < numRegisters; r++ {
		regs = append(regs, r)
	}
	return regs
}

// Valid reports whether r is a known register.
func (r Register) Valid() bool {
	return r > registerInvalid && r < numRegisters
}

// Info returns the table entry for r. Unknown registers yield the zero Info.
func (r Register) Info() Info {
	if !r.Valid() {
		return Info{}
	}
	return registerTable[r]
}

// String returns the register's wire name.
func (r Register) String() string {
	if !r.Valid() {
		return fmt.Sprintf("Register(%d)", uint8(r))
	}
	return registerTable[r].Wire
}

// Readable reports whether r may be the target of a GET.
func (r Register) Readable() bool {
	return r.Info().Direction&Readable != 0
}

// Writable reports whether r may be the target of a SET.
func (r Register) Writable() bool {
	return r.Info().Direction&Writable != 0
}

// RegisterFromWire looks up a register by its wire name. Names are case-sensitive.
func RegisterFromWire(name string) (Register, bool) {
	for r := Activate; r < numRegisters; r++ {
		if registerTable[r].Wire == name {
			return r, true
		}
	}
	return registerInvalid, false
}

// InDomain reports whether v is within r's value domain.
func InDomain(r Register, v int) bool {
	if !r.Valid() {
		return false
	}
	info := registerTable[r]
	return v >= info.Min && v <= info.Max
}

// ValidateWrite checks that values may be written to r: r must be writable, the value count must
// match its arity and each value must be in domain.
func ValidateWrite(r Register, values ...int) error {
	if !r.Valid() {
		return &ValidationError{Register: r, Reason: "unknown register"}
	}
	if !r.Writable() {
		return &ValidationError{Register: r, Values: values, Reason: "register is read-only"}
	}
	return validateValues(r, values)
}

// ValidateRead checks that r may be read.
func ValidateRead(r Register) error {
	if !r.Valid() {
		return &ValidationError{Register: r, Reason: "unknown register"}
	}
	if !r.Readable() {
		return &ValidationError{Register: r, Reason: "register is write-only"}
	}
	return nil
}

func validateValues(r Register, values []int) error {
	info := registerTable[r]
	if len(values) != info.Arity {
		return &ValidationError{
			Register: r,
			Values:   values,
			Reason:   fmt.Sprintf("expected %d value(s), got %d", info.Arity, len(values)),
		}
	}
	for _, v := range values {
		if !InDomain(r, v) {
			return &ValidationError{
				Register: r,
				Values:   values,
				Reason:   fmt.Sprintf("%d outside [%d, %d]", v, info.Min, info.Max),
			}
		}
	}
	return nil
}
