package testutils

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"go.viam.com/test"
	goutils "go.viam.com/utils"

	"github.com/robotiqur/robotiqur/logging"
	"github.com/robotiqur/robotiqur/utils"
)

// Reply is a scripted answer to one command line. Drop makes the bridge swallow the command
// without answering.
type Reply struct {
	Line string
	Drop bool
}

type scriptedReplies struct {
	prefix  string
	replies []Reply
}

// FakeBridge is an in-process TCP server speaking the URCap GET/SET protocol. By default it
// behaves like an idle gripper: SET ACT 1 makes STA report active, after SetActivationReads status
// reads if set, SET ACT 0 resets it, and SET ... GTO 1 moves the fingers to the requested position
// immediately.
type FakeBridge struct {
	listener net.Listener
	logger   logging.Logger

	mu              sync.Mutex
	registers       map[string]int
	scripted        []*scriptedReplies
	commands        []string
	conns           map[net.Conn]struct{}
	activationReads int
	pendingReads    int
	closed          bool
	workers         utils.StoppableWorkers
}

// NewFakeBridge starts a bridge on a random local port. It is closed when the test ends.
func NewFakeBridge(t *testing.T, logger logging.Logger) *FakeBridge {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	test.That(t, err, test.ShouldBeNil)
	b := &FakeBridge{
		listener:  listener,
		logger:    logger,
		registers: map[string]int{},
		conns:     map[net.Conn]struct{}{},
	}
	b.workers = utils.NewStoppableWorkers(b.acceptLoop)
	t.Cleanup(b.Close)
	return b
}

// Host returns the address the bridge listens on.
func (b *FakeBridge) Host() string {
	return b.listener.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the port the bridge listens on.
func (b *FakeBridge) Port() int {
	return b.listener.Addr().(*net.TCPAddr).Port
}

// SetRegister sets the value later GETs of wire report.
func (b *FakeBridge) SetRegister(wire string, value int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registers[wire] = value
}

// Register returns the current value of wire.
func (b *FakeBridge) Register(wire string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registers[wire]
}

// SetActivationReads makes STA report activating for n reads after an activation request.
func (b *FakeBridge) SetActivationReads(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activationReads = n
}

// Script queues replies for commands starting with prefix, for example "GET STA". Scripted
// replies are used in order before falling back to the simulated registers. When prefixes
// overlap, the one scripted first wins while it has replies left.
func (b *FakeBridge) Script(prefix string, replies ...Reply) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.scripted {
		if s.prefix == prefix {
			s.replies = append(s.replies, replies...)
			return
		}
	}
	b.scripted = append(b.scripted, &scriptedReplies{prefix: prefix, replies: replies})
}

// Commands returns every command line received so far, without terminators.
func (b *FakeBridge) Commands() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.commands...)
}

// Close stops the bridge and drops every connection.
func (b *FakeBridge) Close() {
	goutils.UncheckedError(b.listener.Close())
	b.mu.Lock()
	b.closed = true
	for conn := range b.conns {
		goutils.UncheckedError(conn.Close())
	}
	b.mu.Unlock()
	b.workers.Stop()
}

func (b *FakeBridge) acceptLoop(context.Context) {
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			return
		}
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			goutils.UncheckedError(conn.Close())
			return
		}
		b.conns[conn] = struct{}{}
		b.mu.Unlock()
		b.workers.AddWorkers(func(context.Context) {
			b.serve(conn)
		})
	}
}

func (b *FakeBridge) serve(conn net.Conn) {
	defer func() {
		b.mu.Lock()
		delete(b.conns, conn)
		b.mu.Unlock()
		goutils.UncheckedError(conn.Close())
	}()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply := b.handle(line)
		if reply.Drop {
			continue
		}
		if _, err := conn.Write([]byte(reply.Line + "\r\n")); err != nil {
			return
		}
	}
}

func (b *FakeBridge) handle(line string) Reply {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = append(b.commands, line)
	if b.logger != nil {
		b.logger.Debugw("bridge received", "command", line)
	}

	for _, s := range b.scripted {
		if strings.HasPrefix(line, s.prefix) && len(s.replies) > 0 {
			reply := s.replies[0]
			s.replies = s.replies[1:]
			return reply
		}
	}

	fields := strings.Fields(line)
	switch {
	case fields[0] == "GET" && len(fields) == 2:
		return Reply{Line: fields[1] + " " + strconv.Itoa(b.readLocked(fields[1]))}
	case fields[0] == "SET" && len(fields) >= 3 && len(fields)%2 == 1:
		values := map[string]int{}
		for i := 1; i < len(fields); i += 2 {
			v, err := strconv.Atoi(fields[i+1])
			if err != nil {
				return Reply{Line: "err"}
			}
			values[fields[i]] = v
		}
		b.writeLocked(values)
		return Reply{Line: "ack"}
	}
	return Reply{Line: "err"}
}

func (b *FakeBridge) readLocked(wire string) int {
	if wire == "STA" && b.pendingReads > 0 {
		b.pendingReads--
		if b.pendingReads == 0 {
			b.registers["STA"] = 3
		}
		return 1
	}
	return b.registers[wire]
}

func (b *FakeBridge) writeLocked(values map[string]int) {
	for wire, v := range values {
		b.registers[wire] = v
	}
	if act, ok := values["ACT"]; ok {
		switch {
		case act == 0:
			b.registers["STA"] = 0
			b.pendingReads = 0
		case b.activationReads > 0:
			b.pendingReads = b.activationReads
		default:
			b.registers["STA"] = 3
		}
	}
	if pos, ok := values["POS"]; ok {
		b.registers["PRE"] = pos
	}
	if values["GTO"] == 1 {
		b.registers["POS"] = b.registers["PRE"]
		b.registers["OBJ"] = 3
	}
}
