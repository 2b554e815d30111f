package protocol

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	// DefaultPort is the TCP port of the URCap bridge.
	DefaultPort = 63352
	// Terminator ends every command line.
	Terminator = "\r\n"
	// AckToken is the device's reply to an accepted SET.
	AckToken = "ack"

	setVerb = "SET"
	getVerb = "GET"
)

// Assignment is one register and the values to write to it.
type Assignment struct {
	Register Register
	Values   []int
}

// Set builds an Assignment.
func Set(r Register, values ...int) Assignment {
	return Assignment{Register: r, Values: values}
}

// EncodeSet validates and encodes one SET line carrying every assignment, in order, e.g.
// "SET POS 128 SPE 255 FOR 100 GTO 1\r\n".
func EncodeSet(assignments ...Assignment) ([]byte, error) {
	if len(assignments) == 0 {
		return nil, errors.New("SET needs at least one assignment")
	}
	var buf bytes.Buffer
	buf.WriteString(setVerb)
	for _, a := range assignments {
		if err := ValidateWrite(a.Register, a.Values...); err != nil {
			return nil, err
		}
		appendAssignment(&buf, a.Register.String(), a.Values)
	}
	buf.WriteString(Terminator)
	return buf.Bytes(), nil
}

// EncodeGet validates and encodes a read of r, e.g. "GET STA\r\n".
func EncodeGet(r Register) ([]byte, error) {
	if err := ValidateRead(r); err != nil {
		return nil, err
	}
	return []byte(getVerb + " " + r.String() + Terminator), nil
}

func appendAssignment(buf *bytes.Buffer, wire string, values []int) {
	buf.WriteByte(' ')
	buf.WriteString(wire)
	for _, v := range values {
		buf.WriteByte(' ')
		buf.WriteString(strconv.Itoa(v))
	}
}

// DecodeAck interprets the reply to command. Anything but the ack token is a *ProtocolError.
func DecodeAck(command, reply []byte) error {
	got := strings.TrimSpace(string(reply))
	if got == AckToken {
		return nil
	}
	return &ProtocolError{
		Command: strings.TrimSpace(string(command)),
		Reply:   got,
	}
}

// DecodeRead parses the reply to a GET of r into its values.
func DecodeRead(r Register, reply []byte) ([]int, error) {
	if err := ValidateRead(r); err != nil {
		return nil, err
	}
	return decodeRead(r, registerTable[r], reply)
}

// DecodeValue is DecodeRead for single-valued registers.
func DecodeValue(r Register, reply []byte) (int, error) {
	values, err := DecodeRead(r, reply)
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, &MalformedReplyError{Register: r, Reply: string(reply), Reason: "register is not single-valued"}
	}
	return values[0], nil
}

func decodeRead(r Register, info Info, reply []byte) ([]int, error) {
	raw := strings.TrimSpace(string(reply))
	malformed := func(reason string) error {
		return &MalformedReplyError{Register: r, Reply: raw, Reason: reason}
	}

	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil, malformed("empty reply")
	}
	if fields[0] != info.Wire {
		if _, known := RegisterFromWire(fields[0]); known || fields[0] == AckToken {
			return nil, &MalformedReplyError{
				Register:     r,
				Reply:        raw,
				Reason:       "reply is for " + fields[0],
				NameMismatch: true,
			}
		}
		return nil, malformed("unexpected token " + strconv.Quote(fields[0]))
	}
	if len(fields)-1 != info.Arity {
		return nil, malformed("expected " + strconv.Itoa(info.Arity) + " value(s), got " + strconv.Itoa(len(fields)-1))
	}

	values := make([]int, 0, info.Arity)
	for _, field := range fields[1:] {
		v, err := strconv.Atoi(field)
		if err != nil {
			return nil, malformed("non-integer value " + strconv.Quote(field))
		}
		if v < info.Min || v > info.Max {
			return nil, malformed(field + " outside [" + strconv.Itoa(info.Min) + ", " + strconv.Itoa(info.Max) + "]")
		}
		values = append(values, v)
	}
	return values, nil
}
