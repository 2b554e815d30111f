// Package gripper drives a Robotiq 2F gripper through the URCap GET/SET bridge of a Universal
// Robots controller.
package gripper

import (
	"context"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/robotiqur/robotiqur/logging"
	"github.com/robotiqur/robotiqur/operation"
	"github.com/robotiqur/robotiqur/protocol"
	"github.com/robotiqur/robotiqur/transport"
	"github.com/robotiqur/robotiqur/utils"
)

// Transport is the line pipe a Controller talks through. *transport.Conn implements it.
type Transport interface {
	// RoundTrip writes one command line and returns the single reply line.
	RoundTrip(ctx context.Context, line []byte) ([]byte, error)
	Live() bool
	Close() error
}

// Dialer opens a Transport.
type Dialer func(ctx context.Context, cfg transport.Config, logger logging.Logger) (Transport, error)

// DialTCP is the default Dialer.
func DialTCP(ctx context.Context, cfg transport.Config, logger logging.Logger) (Transport, error) {
	conn, err := transport.Dial(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock drives every poll wait from clk.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) {
		c.clock = clk
	}
}

// WithDialer replaces the TCP dialer.
func WithDialer(dial Dialer) Option {
	return func(c *Controller) {
		c.dial = dial
	}
}

// WithFaultTable replaces protocol.DefaultFaultTable.
func WithFaultTable(table protocol.FaultTable) Option {
	return func(c *Controller) {
		c.faults = table
	}
}

// Controller is the client side of one gripper. All methods are safe for concurrent use; commands
// are serialized because the protocol cannot tell interleaved replies apart.
type Controller struct {
	cfg    Config
	logger logging.Logger
	clock  clock.Clock
	dial   Dialer
	faults protocol.FaultTable
	opMgr  *operation.SingleOperationManager

	mu    sync.Mutex
	conn  Transport
	state State
	// lastRequested is the position of the last accepted motion command, -1 if none.
	lastRequested int
}

// New returns a disconnected Controller.
func New(cfg Config, logger logging.Logger, opts ...Option) (*Controller, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate("gripper"); err != nil {
		return nil, err
	}
	c := &Controller{
		cfg:           cfg,
		logger:        logger,
		clock:         clock.New(),
		dial:          DialTCP,
		faults:        protocol.DefaultFaultTable,
		state:         StateDisconnected,
		lastRequested: -1,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.opMgr = operation.NewSingleOperationManager(c.clock)
	return c, nil
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the connection to the bridge. Connecting an already connected controller does
// nothing.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && c.conn.Live() {
		return nil
	}
	conn, err := c.dial(ctx, c.cfg.Transport(), c.logger.Sublogger("transport"))
	if err != nil {
		return err
	}
	c.conn = conn
	c.lastRequested = -1
	c.setStateLocked(StateConnected)
	return nil
}

// Disconnect closes the connection. It is safe to call in any state and more than once.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.opMgr.CancelRunning(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	c.setStateLocked(StateDisconnected)
	return err
}

// Activate runs the reset/activate sequence and waits for the gripper to report active. On an
// already active controller it only re-reads the status.
func (c *Controller) Activate(ctx context.Context) error {
	ctx = c.startOp(ctx, "Activate")
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateActive {
		status, err := c.readStatusLocked(ctx)
		if err != nil {
			return err
		}
		if status == protocol.StatusActive {
			return nil
		}
		c.logger.Warnw("gripper no longer reports active, activating again", "status", status)
	}

	if err := c.resetWriteLocked(ctx); err != nil {
		return err
	}
	if err := c.writeLocked(ctx, false, protocol.Set(protocol.Activate, 1)); err != nil {
		return err
	}
	c.setStateLocked(StateActivating)
	defer utils.SlowLogger(ctx, c.clock, "waiting for gripper activation",
		"address", c.cfg.Transport().Address(), c.logger)()

	err := c.opMgr.WaitForSuccess(ctx, c.cfg.PollInterval, c.cfg.ActivationAttempts,
		func(ctx context.Context) (bool, error) {
			status, err := c.readStatusLocked(ctx)
			return status == protocol.StatusActive, err
		})
	if err != nil {
		if errors.Is(err, operation.ErrAttemptsExhausted) {
			return errors.Wrapf(ErrActivationTimeout, "%v", err)
		}
		return err
	}
	c.setStateLocked(StateActive)
	return nil
}

// Resync reads the status register and adopts the gripper's activation state. It lets a fresh
// connection to an already active gripper issue motions without reactivating it. A faulted
// controller stays faulted.
func (c *Controller) Resync(ctx context.Context) (protocol.GripperStatus, error) {
	ctx = c.startOp(ctx, "Resync")
	c.mu.Lock()
	defer c.mu.Unlock()

	status, err := c.readStatusLocked(ctx)
	if err != nil || c.state == StateFaulted {
		return status, err
	}
	if status == protocol.StatusActive {
		c.setStateLocked(StateActive)
	} else if c.state == StateActive {
		c.setStateLocked(StateConnected)
	}
	return status, nil
}

// Reset clears the activation bit and waits for the gripper to report reset. It is the only
// write accepted while faulted.
func (c *Controller) Reset(ctx context.Context) error {
	ctx = c.startOp(ctx, "Reset")
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.resetWriteLocked(ctx); err != nil {
		return err
	}
	err := c.opMgr.WaitForSuccess(ctx, c.cfg.PollInterval, c.cfg.ActivationAttempts,
		func(ctx context.Context) (bool, error) {
			status, err := c.readStatusLocked(ctx)
			return status == protocol.StatusReset, err
		})
	if errors.Is(err, operation.ErrAttemptsExhausted) {
		return errors.Wrapf(ErrResetTimeout, "%v", err)
	}
	return err
}

// MoveToRaw starts a motion to position with the given speed and force, all on the raw 0-255
// scale, in a single command. It does not wait for the motion to finish; see WaitForMotion.
func (c *Controller) MoveToRaw(ctx context.Context, position, speed, force int) error {
	ctx = c.startOp(ctx, "MoveToRaw")
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireActiveLocked(); err != nil {
		return err
	}
	// a new target supersedes any WaitForMotion in progress
	c.opMgr.CancelRunning(ctx)
	err := c.writeLocked(ctx, false,
		protocol.Set(protocol.Position, position),
		protocol.Set(protocol.Speed, speed),
		protocol.Set(protocol.Force, force),
		protocol.Set(protocol.GoTo, 1),
	)
	if err != nil {
		return err
	}
	c.lastRequested = position
	return nil
}

// MoveToPercent moves to a travel percentage, 0 being fully open and 100 fully closed. Percent
// is clamped to [0, 100].
func (c *Controller) MoveToPercent(ctx context.Context, percent float64, speed, force int) error {
	ctx = c.startOp(ctx, "MoveToPercent")
	return c.MoveToRaw(ctx, utils.PercentToRaw(percent), speed, force)
}

// Open moves the fingers fully open.
func (c *Controller) Open(ctx context.Context, speed, force int) error {
	ctx = c.startOp(ctx, "Open")
	return c.MoveToPercent(ctx, 0, speed, force)
}

// Close moves the fingers fully closed.
func (c *Controller) Close(ctx context.Context, speed, force int) error {
	ctx = c.startOp(ctx, "Close")
	return c.MoveToPercent(ctx, utils.MaxPercent, speed, force)
}

// Stop halts the fingers where they are.
func (c *Controller) Stop(ctx context.Context) error {
	ctx = c.startOp(ctx, "Stop")
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireActiveLocked(); err != nil {
		return err
	}
	c.opMgr.CancelRunning(ctx)
	return c.writeLocked(ctx, false, protocol.Set(protocol.GoTo, 0))
}

// Position returns the actual finger position on the raw scale.
func (c *Controller) Position(ctx context.Context) (int, error) {
	return c.read(c.startOp(ctx, "Position"), protocol.Position)
}

// RequestedPosition returns the device's echo of the last position request.
func (c *Controller) RequestedPosition(ctx context.Context) (int, error) {
	return c.read(c.startOp(ctx, "RequestedPosition"), protocol.PositionRequest)
}

// GripperStatus returns the activation status register.
func (c *Controller) GripperStatus(ctx context.Context) (protocol.GripperStatus, error) {
	ctx = c.startOp(ctx, "GripperStatus")
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readStatusLocked(ctx)
}

// ObjectStatus returns the object detection status.
func (c *Controller) ObjectStatus(ctx context.Context) (protocol.ObjectStatus, error) {
	v, err := c.read(c.startOp(ctx, "ObjectStatus"), protocol.ObjectDetection)
	return protocol.ObjectStatus(v), err
}

// Fault returns the decoded fault status. An unrecoverable fault moves the controller to
// StateFaulted; only Reset or Activate leave it.
func (c *Controller) Fault(ctx context.Context) (protocol.FaultInfo, error) {
	ctx = c.startOp(ctx, "Fault")
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readFaultLocked(ctx)
}

// Snapshot reads every status register in turn.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	ctx = c.startOp(ctx, "Snapshot")
	c.mu.Lock()
	defer c.mu.Unlock()

	var snap Snapshot
	var err error
	if snap.Status, err = c.readStatusLocked(ctx); err != nil {
		return Snapshot{}, err
	}
	obj, err := c.readLocked(ctx, protocol.ObjectDetection)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Object = protocol.ObjectStatus(obj)
	if snap.Fault, err = c.readFaultLocked(ctx); err != nil {
		return Snapshot{}, err
	}
	for _, field := range []struct {
		reg protocol.Register
		dst *int
	}{
		{protocol.Position, &snap.Position},
		{protocol.PositionRequest, &snap.RequestedPosition},
		{protocol.Speed, &snap.Speed},
		{protocol.Force, &snap.Force},
	} {
		if *field.dst, err = c.readLocked(ctx, field.reg); err != nil {
			return Snapshot{}, err
		}
	}
	return snap, nil
}

func (c *Controller) read(ctx context.Context, reg protocol.Register) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readLocked(ctx, reg)
}

func (c *Controller) readStatusLocked(ctx context.Context) (protocol.GripperStatus, error) {
	v, err := c.readLocked(ctx, protocol.Status)
	return protocol.GripperStatus(v), err
}

func (c *Controller) readFaultLocked(ctx context.Context) (protocol.FaultInfo, error) {
	v, err := c.readLocked(ctx, protocol.Fault)
	if err != nil {
		return protocol.FaultInfo{}, err
	}
	info := c.faults.Lookup(protocol.FaultCode(v))
	if info.Severity == protocol.SeverityUnrecoverable && c.state != StateFaulted {
		c.logger.Warnw("gripper reported an unrecoverable fault", "fault", info.String())
		c.setStateLocked(StateFaulted)
	}
	return info, nil
}

func (c *Controller) resetWriteLocked(ctx context.Context) error {
	err := c.writeLocked(ctx, true,
		protocol.Set(protocol.Activate, 0),
		protocol.Set(protocol.AutoRelease, 0),
	)
	if err != nil {
		return err
	}
	c.lastRequested = -1
	c.setStateLocked(StateResetting)
	return nil
}

// requireActiveLocked checks the motion precondition without touching the connection.
func (c *Controller) requireActiveLocked() error {
	switch c.state {
	case StateActive:
		return nil
	case StateFaulted:
		return ErrFaulted
	default:
		return errors.Wrapf(ErrNotActive, "state is %s", c.state)
	}
}

// writeLocked sends one SET. Unless reset is true the write is refused while faulted.
func (c *Controller) writeLocked(ctx context.Context, reset bool, assignments ...protocol.Assignment) error {
	if c.state == StateFaulted && !reset {
		return ErrFaulted
	}
	line, err := protocol.EncodeSet(assignments...)
	if err != nil {
		return err
	}
	reply, err := c.roundTripLocked(ctx, line)
	if err != nil {
		return err
	}
	err = protocol.DecodeAck(line, reply)
	var rejected *protocol.ProtocolError
	if errors.As(err, &rejected) && rejected.Desync() {
		c.logger.Warnw("reply does not match request, command stream out of step", "error", err)
		c.setStateLocked(StateFaulted)
	}
	return err
}

func (c *Controller) readLocked(ctx context.Context, reg protocol.Register) (int, error) {
	line, err := protocol.EncodeGet(reg)
	if err != nil {
		return 0, err
	}
	reply, err := c.roundTripLocked(ctx, line)
	if err != nil {
		return 0, err
	}
	v, err := protocol.DecodeValue(reg, reply)
	var malformed *protocol.MalformedReplyError
	if errors.As(err, &malformed) && malformed.Desync() {
		c.logger.Warnw("reply does not match request, command stream out of step", "error", err)
		c.setStateLocked(StateFaulted)
	}
	return v, err
}

func (c *Controller) roundTripLocked(ctx context.Context, line []byte) ([]byte, error) {
	if c.conn == nil || !c.conn.Live() {
		return nil, transport.ErrNotConnected
	}
	reply, err := c.conn.RoundTrip(ctx, line)
	if err != nil {
		if !c.conn.Live() {
			c.logger.Warnw("lost connection to gripper", "error", err)
			c.conn = nil
			c.setStateLocked(StateDisconnected)
		}
		return nil, err
	}
	if op := operation.Get(ctx); op != nil {
		c.logger.CDebugw(ctx, "round trip",
			"op", op.Method, "opid", op.ID.String(),
			"command", strings.TrimSpace(string(line)), "reply", string(reply))
	}
	return reply, nil
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.logger.Infow("gripper state changed", "from", c.state.String(), "to", s.String())
	c.state = s
}

func (c *Controller) startOp(ctx context.Context, method string) context.Context {
	ctx, _ = operation.Create(ctx, method, c.clock.Now())
	return ctx
}
