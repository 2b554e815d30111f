package gripper

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/robotiqur/robotiqur/logging"
	"github.com/robotiqur/robotiqur/protocol"
	"github.com/robotiqur/robotiqur/testutils/inject"
	"github.com/robotiqur/robotiqur/transport"
)

// script answers round trips with queued replies, in order.
type script struct {
	mu      sync.Mutex
	replies []string
}

func (s *script) push(replies ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
}

func (s *script) roundTrip(ctx context.Context, line []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		return nil, errors.Errorf("unexpected command %q", line)
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return []byte(reply), nil
}

// advance keeps moving mock forward until the test ends so poll waits never block.
func advance(t *testing.T, mock *clock.Mock) {
	t.Helper()
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case <-done:
				return
			default:
			}
			mock.Add(time.Millisecond)
		}
	}()
	t.Cleanup(func() {
		close(done)
		<-stopped
	})
}

func newTestController(t *testing.T, cfg Config) (*Controller, *inject.Transport, *script) {
	t.Helper()
	if cfg.Host == "" {
		cfg.Host = "gripper.local"
	}
	cfg.PollInterval = time.Millisecond
	cfg.MotionPollInterval = time.Millisecond
	s := &script{}
	spy := &inject.Transport{RoundTripFunc: s.roundTrip}
	mock := clock.NewMock()
	advance(t, mock)

	c, err := New(cfg, logging.NewTestLogger(t),
		WithClock(mock),
		WithDialer(func(ctx context.Context, cfg transport.Config, logger logging.Logger) (Transport, error) {
			return spy, nil
		}),
	)
	test.That(t, err, test.ShouldBeNil)
	return c, spy, s
}

func connected(t *testing.T, cfg Config) (*Controller, *inject.Transport, *script) {
	t.Helper()
	c, spy, s := newTestController(t, cfg)
	test.That(t, c.Connect(context.Background()), test.ShouldBeNil)
	test.That(t, c.State(), test.ShouldEqual, StateConnected)
	return c, spy, s
}

func active(t *testing.T, cfg Config) (*Controller, *inject.Transport, *script) {
	t.Helper()
	c, spy, s := connected(t, cfg)
	s.push(protocol.AckToken, protocol.AckToken, "STA 3")
	test.That(t, c.Activate(context.Background()), test.ShouldBeNil)
	test.That(t, c.State(), test.ShouldEqual, StateActive)
	spy.Reset()
	return c, spy, s
}

func TestNew(t *testing.T) {
	_, err := New(Config{}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"host" is required`)

	_, err = New(Config{Host: "x", Port: 70000}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "port 70000")

	// the first bad duration in field order is reported, every time
	for i := 0; i < 10; i++ {
		_, err = New(Config{Host: "x", Timeout: -1, PollInterval: -1, MotionPollInterval: -1}, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "timeout must not be negative")
	}
	_, err = New(Config{Host: "x", PollInterval: -1, MotionPollInterval: -1}, logging.NewTestLogger(t))
	test.That(t, err.Error(), test.ShouldContainSubstring, `": poll_interval must not be negative`)

	c, err := New(Config{Host: "x"}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.State(), test.ShouldEqual, StateDisconnected)
	test.That(t, c.cfg.Port, test.ShouldEqual, protocol.DefaultPort)
}

func TestActivate(t *testing.T) {
	ctx := context.Background()

	t.Run("two polls", func(t *testing.T) {
		c, spy, s := connected(t, Config{})
		s.push(protocol.AckToken, protocol.AckToken, "STA 0", "STA 3")
		test.That(t, c.Activate(ctx), test.ShouldBeNil)
		test.That(t, c.State(), test.ShouldEqual, StateActive)
		test.That(t, spy.Lines(), test.ShouldResemble, []string{
			"SET ACT 0 ATR 0",
			"SET ACT 1",
			"GET STA",
			"GET STA",
		})
	})

	t.Run("already active", func(t *testing.T) {
		c, spy, s := active(t, Config{})
		s.push("STA 3")
		test.That(t, c.Activate(ctx), test.ShouldBeNil)
		test.That(t, spy.Lines(), test.ShouldResemble, []string{"GET STA"})
		test.That(t, spy.Writes(), test.ShouldBeEmpty)
		test.That(t, c.State(), test.ShouldEqual, StateActive)
	})

	t.Run("active but device reset", func(t *testing.T) {
		c, spy, s := active(t, Config{})
		s.push("STA 0", protocol.AckToken, protocol.AckToken, "STA 3")
		test.That(t, c.Activate(ctx), test.ShouldBeNil)
		test.That(t, spy.Writes(), test.ShouldHaveLength, 2)
		test.That(t, c.State(), test.ShouldEqual, StateActive)
	})

	t.Run("timeout", func(t *testing.T) {
		c, spy, s := connected(t, Config{ActivationAttempts: 3})
		s.push(protocol.AckToken, protocol.AckToken, "STA 1", "STA 1", "STA 1")
		err := c.Activate(ctx)
		test.That(t, errors.Is(err, ErrActivationTimeout), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldContainSubstring, "after 3 attempts")
		test.That(t, spy.Lines(), test.ShouldHaveLength, 5)
		test.That(t, c.State(), test.ShouldEqual, StateActivating)
	})

	t.Run("not connected", func(t *testing.T) {
		c, spy, _ := newTestController(t, Config{})
		err := c.Activate(ctx)
		test.That(t, errors.Is(err, transport.ErrNotConnected), test.ShouldBeTrue)
		test.That(t, errors.Is(err, transport.ErrConnection), test.ShouldBeTrue)
		test.That(t, spy.Lines(), test.ShouldBeEmpty)
	})

	t.Run("rejected activation", func(t *testing.T) {
		c, _, s := connected(t, Config{})
		s.push(protocol.AckToken, "err")
		var protoErr *protocol.ProtocolError
		test.That(t, errors.As(c.Activate(ctx), &protoErr), test.ShouldBeTrue)
		test.That(t, protoErr.Command, test.ShouldEqual, "SET ACT 1")
		test.That(t, protoErr.Reply, test.ShouldEqual, "err")
		test.That(t, c.State(), test.ShouldEqual, StateResetting)
	})
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	c, spy, s := active(t, Config{})
	s.push(protocol.AckToken, "STA 3", "STA 0")
	test.That(t, c.Reset(ctx), test.ShouldBeNil)
	test.That(t, c.State(), test.ShouldEqual, StateResetting)
	test.That(t, spy.Lines(), test.ShouldResemble, []string{"SET ACT 0 ATR 0", "GET STA", "GET STA"})

	c, _, s = active(t, Config{ActivationAttempts: 2})
	s.push(protocol.AckToken, "STA 3", "STA 3")
	test.That(t, errors.Is(c.Reset(ctx), ErrResetTimeout), test.ShouldBeTrue)
}

func TestMoveRequiresActive(t *testing.T) {
	ctx := context.Background()

	c, spy, _ := newTestController(t, Config{})
	test.That(t, errors.Is(c.MoveToRaw(ctx, 10, 10, 10), ErrNotActive), test.ShouldBeTrue)
	test.That(t, errors.Is(c.Stop(ctx), ErrNotActive), test.ShouldBeTrue)
	_, err := c.WaitForMotion(ctx)
	test.That(t, errors.Is(err, ErrNotActive), test.ShouldBeTrue)

	c, spy, s := connected(t, Config{})
	test.That(t, errors.Is(c.Open(ctx, 10, 10), ErrNotActive), test.ShouldBeTrue)

	s.push(protocol.AckToken, "STA 0")
	test.That(t, c.Reset(ctx), test.ShouldBeNil)
	test.That(t, c.State(), test.ShouldEqual, StateResetting)
	spy.Reset()
	err = c.MoveToPercent(ctx, 50, 10, 10)
	test.That(t, errors.Is(err, ErrNotActive), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "resetting")
	test.That(t, spy.Lines(), test.ShouldBeEmpty)
}

func TestMoveValidation(t *testing.T) {
	ctx := context.Background()
	c, spy, _ := active(t, Config{})

	for _, tc := range []struct {
		position, speed, force int
		register               protocol.Register
	}{
		{256, 0, 0, protocol.Position},
		{-1, 0, 0, protocol.Position},
		{0, 300, 0, protocol.Speed},
		{0, 0, -20, protocol.Force},
	} {
		err := c.MoveToRaw(ctx, tc.position, tc.speed, tc.force)
		var verr *protocol.ValidationError
		test.That(t, errors.As(err, &verr), test.ShouldBeTrue)
		test.That(t, verr.Register, test.ShouldEqual, tc.register)
	}
	test.That(t, spy.Lines(), test.ShouldBeEmpty)
	test.That(t, c.State(), test.ShouldEqual, StateActive)
}

func TestMoveToPercent(t *testing.T) {
	ctx := context.Background()
	c, spy, s := active(t, Config{})

	for _, tc := range []struct {
		percent float64
		raw     int
	}{
		{0, 0},
		{100, 255},
		{50, 128},
		{25, 64},
		{-5, 0},
		{150, 255},
	} {
		spy.Reset()
		s.push(protocol.AckToken)
		test.That(t, c.MoveToPercent(ctx, tc.percent, 10, 20), test.ShouldBeNil)
		test.That(t, spy.Lines(), test.ShouldResemble, []string{
			fmt.Sprintf("SET POS %d SPE 10 FOR 20 GTO 1", tc.raw),
		})
	}

	spy.Reset()
	s.push(protocol.AckToken, protocol.AckToken)
	test.That(t, c.Open(ctx, 255, 1), test.ShouldBeNil)
	test.That(t, c.Close(ctx, 1, 255), test.ShouldBeNil)
	test.That(t, spy.Lines(), test.ShouldResemble, []string{
		"SET POS 0 SPE 255 FOR 1 GTO 1",
		"SET POS 255 SPE 1 FOR 255 GTO 1",
	})
}

func TestStop(t *testing.T) {
	c, spy, s := active(t, Config{})
	s.push(protocol.AckToken)
	test.That(t, c.Stop(context.Background()), test.ShouldBeNil)
	test.That(t, spy.Lines(), test.ShouldResemble, []string{"SET GTO 0"})
}

func TestReads(t *testing.T) {
	ctx := context.Background()
	c, spy, s := active(t, Config{})
	s.push("POS 17", "PRE 200", "OBJ 2", "STA 3")

	pos, err := c.Position(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos, test.ShouldEqual, 17)
	pre, err := c.RequestedPosition(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pre, test.ShouldEqual, 200)
	obj, err := c.ObjectStatus(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, obj, test.ShouldEqual, protocol.ObjectDetectedClosing)
	test.That(t, obj.Holding(), test.ShouldBeTrue)
	sta, err := c.GripperStatus(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sta, test.ShouldEqual, protocol.StatusActive)
	test.That(t, spy.Writes(), test.ShouldBeEmpty)

	s.push("STA 3", "OBJ 3", "FLT 0", "POS 40", "PRE 40", "SPE 255", "FOR 100")
	snap, err := c.Snapshot(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, snap, test.ShouldResemble, Snapshot{
		Status:            protocol.StatusActive,
		Object:            protocol.ObjectAtPosition,
		Fault:             protocol.DefaultFaultTable.Lookup(protocol.NoFault),
		Position:          40,
		RequestedPosition: 40,
		Speed:             255,
		Force:             100,
	})
	test.That(t, snap.Active(), test.ShouldBeTrue)
	test.That(t, snap.Activating(), test.ShouldBeFalse)

	s.push("POS 300")
	_, err = c.Position(ctx)
	var malformed *protocol.MalformedReplyError
	test.That(t, errors.As(err, &malformed), test.ShouldBeTrue)
	test.That(t, malformed.Desync(), test.ShouldBeFalse)
	test.That(t, c.State(), test.ShouldEqual, StateActive)
}

func TestFaults(t *testing.T) {
	ctx := context.Background()

	t.Run("transient", func(t *testing.T) {
		c, _, s := active(t, Config{})
		s.push("FLT 5")
		info, err := c.Fault(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, info.Severity, test.ShouldEqual, protocol.SeverityTransient)
		test.That(t, c.State(), test.ShouldEqual, StateActive)
	})

	t.Run("unrecoverable", func(t *testing.T) {
		c, spy, s := active(t, Config{})
		s.push("FLT 14")
		info, err := c.Fault(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, info.Code, test.ShouldEqual, protocol.FaultCode(0x0E))
		test.That(t, info.Severity, test.ShouldEqual, protocol.SeverityUnrecoverable)
		test.That(t, c.State(), test.ShouldEqual, StateFaulted)

		spy.Reset()
		test.That(t, errors.Is(c.MoveToRaw(ctx, 0, 0, 0), ErrFaulted), test.ShouldBeTrue)
		test.That(t, errors.Is(c.Stop(ctx), ErrFaulted), test.ShouldBeTrue)
		test.That(t, spy.Lines(), test.ShouldBeEmpty)

		// reads still work while faulted
		s.push("POS 3")
		_, err = c.Position(ctx)
		test.That(t, err, test.ShouldBeNil)

		s.push(protocol.AckToken, protocol.AckToken, "STA 3")
		test.That(t, c.Activate(ctx), test.ShouldBeNil)
		test.That(t, c.State(), test.ShouldEqual, StateActive)
	})

	t.Run("unknown code", func(t *testing.T) {
		c, _, s := active(t, Config{})
		s.push("FLT 99")
		info, err := c.Fault(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, info.Severity, test.ShouldEqual, protocol.SeverityUnrecoverable)
		test.That(t, c.State(), test.ShouldEqual, StateFaulted)
	})

	t.Run("custom table", func(t *testing.T) {
		s := &script{}
		spy := &inject.Transport{RoundTripFunc: s.roundTrip}
		table := protocol.FaultTable{0x0E: {Code: 0x0E, Description: "tolerated", Severity: protocol.SeverityTransient}}
		c, err := New(Config{Host: "x"}, logging.NewTestLogger(t),
			WithFaultTable(table),
			WithDialer(func(context.Context, transport.Config, logging.Logger) (Transport, error) {
				return spy, nil
			}))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, c.Connect(ctx), test.ShouldBeNil)
		s.push("FLT 14")
		info, err := c.Fault(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, info.Description, test.ShouldEqual, "tolerated")
		test.That(t, c.State(), test.ShouldEqual, StateConnected)
	})
}

func TestDesync(t *testing.T) {
	ctx := context.Background()
	c, _, s := active(t, Config{})
	s.push("STA 3")
	_, err := c.Position(ctx)
	var malformed *protocol.MalformedReplyError
	test.That(t, errors.As(err, &malformed), test.ShouldBeTrue)
	test.That(t, malformed.Desync(), test.ShouldBeTrue)
	test.That(t, c.State(), test.ShouldEqual, StateFaulted)
	test.That(t, errors.Is(c.MoveToRaw(ctx, 1, 1, 1), ErrFaulted), test.ShouldBeTrue)

	t.Run("register echo in reply to a write", func(t *testing.T) {
		c, _, s := active(t, Config{})
		s.push("POS 10")
		err := c.Stop(ctx)
		var rejected *protocol.ProtocolError
		test.That(t, errors.As(err, &rejected), test.ShouldBeTrue)
		test.That(t, rejected.Desync(), test.ShouldBeTrue)
		test.That(t, c.State(), test.ShouldEqual, StateFaulted)
		test.That(t, errors.Is(c.Stop(ctx), ErrFaulted), test.ShouldBeTrue)
	})

	t.Run("error token keeps the controller active", func(t *testing.T) {
		c, _, s := active(t, Config{})
		s.push("err")
		err := c.Stop(ctx)
		var rejected *protocol.ProtocolError
		test.That(t, errors.As(err, &rejected), test.ShouldBeTrue)
		test.That(t, rejected.Desync(), test.ShouldBeFalse)
		test.That(t, c.State(), test.ShouldEqual, StateActive)
	})
}

func TestTransportFailure(t *testing.T) {
	ctx := context.Background()
	c, spy, _ := active(t, Config{})
	spy.RoundTripFunc = func(ctx context.Context, line []byte) ([]byte, error) {
		test.That(t, spy.Close(), test.ShouldBeNil)
		return nil, errors.Wrap(transport.ErrTimeout, "read")
	}
	_, err := c.Position(ctx)
	test.That(t, errors.Is(err, transport.ErrTimeout), test.ShouldBeTrue)
	test.That(t, spy.Live(), test.ShouldBeFalse)
	test.That(t, c.State(), test.ShouldEqual, StateDisconnected)

	_, err = c.Position(ctx)
	test.That(t, errors.Is(err, transport.ErrNotConnected), test.ShouldBeTrue)
}

func TestDisconnect(t *testing.T) {
	ctx := context.Background()
	c, spy, _ := active(t, Config{})
	closes := 0
	spy.CloseFunc = func() error {
		closes++
		return nil
	}
	test.That(t, c.Disconnect(ctx), test.ShouldBeNil)
	test.That(t, c.Disconnect(ctx), test.ShouldBeNil)
	test.That(t, closes, test.ShouldEqual, 1)
	test.That(t, c.State(), test.ShouldEqual, StateDisconnected)
	test.That(t, errors.Is(c.MoveToRaw(ctx, 1, 1, 1), ErrNotActive), test.ShouldBeTrue)

	c, _, _ = newTestController(t, Config{})
	test.That(t, c.Disconnect(ctx), test.ShouldBeNil)
}

func TestResync(t *testing.T) {
	ctx := context.Background()
	c, spy, s := connected(t, Config{})
	s.push("STA 3")
	status, err := c.Resync(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, status, test.ShouldEqual, protocol.StatusActive)
	test.That(t, c.State(), test.ShouldEqual, StateActive)
	test.That(t, spy.Writes(), test.ShouldBeEmpty)

	s.push("STA 0")
	status, err = c.Resync(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, status, test.ShouldEqual, protocol.StatusReset)
	test.That(t, c.State(), test.ShouldEqual, StateConnected)

	s.push("FLT 12", "STA 3")
	_, err = c.Fault(ctx)
	test.That(t, err, test.ShouldBeNil)
	_, err = c.Resync(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.State(), test.ShouldEqual, StateFaulted)
}
