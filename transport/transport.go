// Package transport is a line-oriented pipe over a single TCP connection to the URCap bridge. It
// performs no protocol interpretation.
package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/robotiqur/robotiqur/logging"
)

// maxLineLength bounds a single reply. URCap replies are a register name and a few digits.
const maxLineLength = 128

var (
	// ErrConnection is the kind of every failure to establish or keep the TCP stream.
	ErrConnection = errors.New("connection error")
	// ErrNotConnected is returned when a command is attempted without a live connection.
	ErrNotConnected = errors.Wrap(ErrConnection, "not connected")
	// ErrTimeout is returned when a write or read does not complete in time.
	ErrTimeout = errors.New("timed out")
	// ErrTransport is returned for any other I/O failure on an established stream.
	ErrTransport = errors.New("transport error")
)

// Config holds the connection parameters.
type Config struct {
	Host string
	Port int
	// Timeout bounds the dial and each individual write or read.
	Timeout time.Duration
}

// Address returns host:port.
func (cfg Config) Address() string {
	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
}

// Conn is a TCP connection with synchronous line semantics. A Conn is live from a successful
// Dial until Close or the first I/O failure.
type Conn struct {
	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
	live    atomic.Bool
	logger  logging.Logger
}

// Dial opens a TCP stream to cfg's address.
func Dial(ctx context.Context, cfg Config, logger logging.Logger) (*Conn, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	addr := cfg.Address()
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: can't connect to gripper bridge (%s): %w", ErrConnection, addr, err)
	}
	logger.CDebugw(ctx, "connected", "address", addr)
	return NewConn(conn, cfg.Timeout, logger), nil
}

// NewConn wraps an established connection.
func NewConn(conn net.Conn, timeout time.Duration, logger logging.Logger) *Conn {
	c := &Conn{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		timeout: timeout,
		logger:  logger,
	}
	c.live.Store(true)
	return c
}

// Live reports whether the connection can carry commands.
func (c *Conn) Live() bool {
	return c.live.Load()
}

// SendLine writes line in full.
func (c *Conn) SendLine(ctx context.Context, line []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(ctx, line)
}

// ReceiveLine blocks until a full reply terminated by '\n' or '\r' arrives and returns it without
// the terminator. Empty lines are skipped.
func (c *Conn) ReceiveLine(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receiveLocked(ctx)
}

// RoundTrip writes line and reads one reply while holding the connection, so that no other
// caller can interleave a command between the two.
func (c *Conn) RoundTrip(ctx context.Context, line []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sendLocked(ctx, line); err != nil {
		return nil, err
	}
	return c.receiveLocked(ctx)
}

func (c *Conn) sendLocked(ctx context.Context, line []byte) error {
	if !c.live.Load() {
		return ErrNotConnected
	}
	// nothing has been written yet, so the stream is still in step
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := c.armDeadline(ctx)
	defer stop()

	if _, err := c.conn.Write(line); err != nil {
		return c.failLocked(ctx, "write", err)
	}
	return nil
}

func (c *Conn) receiveLocked(ctx context.Context) ([]byte, error) {
	if !c.live.Load() {
		return nil, ErrNotConnected
	}
	stop := c.armDeadline(ctx)
	defer stop()

	line := make([]byte, 0, 16)
	for {
		b, err := c.reader.ReadByte()
		if err != nil {
			return nil, c.failLocked(ctx, "read", err)
		}
		if b == '\n' || b == '\r' {
			if len(line) == 0 {
				continue
			}
			return line, nil
		}
		line = append(line, b)
		if len(line) > maxLineLength {
			return nil, c.failLocked(ctx, "read", errors.Errorf("reply longer than %d bytes", maxLineLength))
		}
	}
}

// armDeadline applies the configured timeout (or ctx's deadline, if sooner) to the socket and
// interrupts blocked I/O when ctx is cancelled. The returned func disarms the cancel hook; if the
// hook already started it waits for it, so a stale deadline never lands on the next exchange.
func (c *Conn) armDeadline(ctx context.Context) func() {
	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.logger.CDebugw(ctx, "failed to set deadline", "error", err)
	}
	conn := c.conn
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		// an elapsed deadline wakes any blocked Read or Write
		goutils.UncheckedError(conn.SetDeadline(time.Unix(1, 0)))
	})
	return func() {
		if !stop() {
			<-fired
		}
	}
}

// failLocked tears the connection down after an I/O error and classifies the error. The stream
// may hold a partial command or reply, so it is never reused.
func (c *Conn) failLocked(ctx context.Context, op string, err error) error {
	kind := ErrTransport
	var netErr net.Error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = ErrTimeout
		err = ctx.Err()
	case ctx.Err() != nil:
		err = ctx.Err()
	case errors.Is(err, os.ErrDeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		kind = ErrTimeout
	}
	c.logger.CDebugw(ctx, "connection failed, closing", "op", op, "error", err)
	c.closeLocked()
	return fmt.Errorf("%w: %s: %w", kind, op, err)
}

// Close releases the socket. It is safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Conn) closeLocked() error {
	c.live.Store(false)
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
